package kvs

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// IndexIDSize is the size of a backend-native index identifier.
const IndexIDSize = 16

// IndexID is the backend-native identifier of a logical index.
type IndexID [IndexIDSize]byte

// indexSalt separates the two hash halves of an index id.
const indexSalt = "\x00s3gateway-index"

// IndexIDFor translates a logical index name into its backend identifier.
// The translation is deterministic so every node maps a name to the same id.
func IndexIDFor(name string) IndexID {
	var id IndexID

	binary.BigEndian.PutUint64(id[:8], xxhash.Sum64String(name))
	binary.BigEndian.PutUint64(id[8:], xxhash.Sum64String(name+indexSalt))

	return id
}

// String returns the hex form of the id.
func (id IndexID) String() string {
	return hex.EncodeToString(id[:])
}
