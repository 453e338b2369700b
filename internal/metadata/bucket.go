package metadata

import (
	"time"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// BucketMetadata loads and stores one bucket record.
type BucketMetadata struct {
	record[Bucket]
}

// NewBucketMetadata creates the collaborator for bucket name.
func NewBucketMetadata(client *kvs.Client, req kvs.Request, name string) *BucketMetadata {
	m := &BucketMetadata{record: newRecord[Bucket](client, req, BucketsIndex, name)}
	m.value.Name = name

	return m
}

// Name returns the bucket name.
func (m *BucketMetadata) Name() string {
	return m.key
}

// Bucket returns the record. Changes are persisted by Save.
func (m *BucketMetadata) Bucket() *Bucket {
	return &m.value
}

// Policy returns the bucket policy document, empty if none is set.
func (m *BucketMetadata) Policy() string {
	return m.value.Policy
}

// Load fetches the record. On failure the state is StateMissing when the
// bucket does not exist and StateFailed otherwise.
func (m *BucketMetadata) Load(onSuccess, onFailed func()) {
	m.record.load(onSuccess, onFailed)
}

// Save writes the record, replacing any existing one.
func (m *BucketMetadata) Save(onSuccess, onFailed func()) {
	m.record.save(false, onSuccess, onFailed)
}

// SaveNew writes the record only if the bucket does not exist yet. A
// conflicting bucket leaves the state at StateExists.
func (m *BucketMetadata) SaveNew(onSuccess, onFailed func()) {
	if m.value.CreatedAt.IsZero() {
		m.value.CreatedAt = time.Now().UTC()
	}

	m.record.save(true, onSuccess, onFailed)
}

// Remove deletes the record.
func (m *BucketMetadata) Remove(onSuccess, onFailed func()) {
	m.record.remove(onSuccess, onFailed)
}
