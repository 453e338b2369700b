// Package metadata provides the bucket and object metadata collaborators used
// by actions.
//
// Each collaborator wraps one record stored as JSON in a backend index and
// follows the same asynchronous shape as the storage bridge: every operation
// takes a success and a failure continuation, exactly one of which runs on the
// request loop.
//
// Layout:
//
//	buckets-index              bucket name -> Bucket
//	objects-index/<bucket>     object key  -> Object
//	data-index/<bucket>        object key NUL version id -> encoded object data
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// BucketsIndex is the index holding bucket records.
const BucketsIndex = "buckets-index"

// ObjectsIndex returns the index holding object records of bucket.
func ObjectsIndex(bucket string) string {
	return "objects-index/" + bucket
}

// DataIndex returns the index holding object data of bucket.
func DataIndex(bucket string) string {
	return "data-index/" + bucket
}

// DataKey returns the data-index key for one version of an object.
func DataKey(key, versionID string) string {
	return key + "\x00" + versionID
}

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = fmt.Errorf("corrupt metadata record: %w", kvs.ErrInternal)

// State is the state of a metadata collaborator.
type State int

// Metadata states.
const (
	StateEmpty State = iota
	StateFetching
	StatePresent
	StateMissing
	StateSaving
	StateSaved
	StateExists
	StateDeleting
	StateDeleted
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetching:
		return "fetching"
	case StatePresent:
		return "present"
	case StateMissing:
		return "missing"
	case StateSaving:
		return "saving"
	case StateSaved:
		return "saved"
	case StateExists:
		return "exists"
	case StateDeleting:
		return "deleting"
	case StateDeleted:
		return "deleted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Bucket is a bucket record.
type Bucket struct {
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	Region      string    `json:"region"`
	CreatedAt   time.Time `json:"created_at"`
	Policy      string    `json:"policy,omitempty"` // JSON policy document
	ObjectCount int64     `json:"object_count"`
}

// Object is an object record.
type Object struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	StoredSize   int64             `json:"stored_size"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	VersionID    string            `json:"version_id"`
	DataKey      string            `json:"data_key,omitempty"`
	Codec        string            `json:"codec"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// StoredKey returns the data-index key holding the body. Records written
// before versioned data keys fall back to the object key.
func (o *Object) StoredKey() string {
	if o.DataKey != "" {
		return o.DataKey
	}

	return o.Key
}

// record is one JSON value under one key, with a reader for loads and a
// writer for saves and removals.
type record[T any] struct {
	req    kvs.Request
	reader *kvs.Reader
	writer *kvs.Writer
	err    error
	index  string
	key    string
	value  T
	state  State
}

func newRecord[T any](client *kvs.Client, req kvs.Request, index, key string) record[T] {
	return record[T]{
		req:    req,
		reader: client.NewReader(req),
		writer: client.NewWriter(req),
		index:  index,
		key:    key,
	}
}

func (r *record[T]) load(onSuccess, onFailed func()) {
	r.state = StateFetching
	r.err = nil

	r.reader.Get(r.index, r.key, func() {
		var v T

		err := json.Unmarshal([]byte(r.reader.LastValue()), &v)
		if err != nil {
			r.err = fmt.Errorf("%w: %s %q: %v", ErrCorrupt, r.index, r.key, err)
			r.state = StateFailed
			onFailed()

			return
		}

		r.value = v
		r.state = StatePresent
		onSuccess()
	}, func() {
		r.err = r.reader.LastErr()
		if kvs.IsNotFound(r.err) {
			r.state = StateMissing
		} else {
			r.state = StateFailed
		}

		onFailed()
	})
}

func (r *record[T]) save(ifAbsent bool, onSuccess, onFailed func()) {
	r.state = StateSaving
	r.err = nil

	data, err := json.Marshal(r.value)
	if err != nil {
		r.err = fmt.Errorf("encode %s %q: %w", r.index, r.key, kvs.ErrInternal)
		r.state = StateFailed
		r.req.Post(onFailed)

		return
	}

	r.writer.PutWithOptions(r.index, r.key, data, kvs.PutOptions{IfAbsent: ifAbsent}, func() {
		r.state = StateSaved
		onSuccess()
	}, func() {
		r.err = r.writer.LastErr()
		if ifAbsent && errors.Is(r.err, kvs.ErrKeyExists) {
			r.state = StateExists
		} else {
			r.state = StateFailed
		}

		onFailed()
	})
}

func (r *record[T]) remove(onSuccess, onFailed func()) {
	r.state = StateDeleting
	r.err = nil

	r.writer.Delete(r.index, r.key, func() {
		r.state = StateDeleted
		onSuccess()
	}, func() {
		r.err = r.writer.LastErr()
		if kvs.IsNotFound(r.err) {
			r.state = StateMissing
		} else {
			r.state = StateFailed
		}

		onFailed()
	})
}

// State returns the state after the last operation.
func (r *record[T]) State() State {
	return r.state
}

// Err returns the failure of the last operation.
func (r *record[T]) Err() error {
	return r.err
}

// Class returns the class of the last failure.
func (r *record[T]) Class() kvs.Class {
	return kvs.Classify(r.err)
}
