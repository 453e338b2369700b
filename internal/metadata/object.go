package metadata

import (
	"github.com/google/uuid"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// ObjectMetadata loads and stores one object record.
type ObjectMetadata struct {
	bucket string
	record[Object]
}

// NewObjectMetadata creates the collaborator for key in bucket.
func NewObjectMetadata(client *kvs.Client, req kvs.Request, bucket, key string) *ObjectMetadata {
	m := &ObjectMetadata{
		bucket: bucket,
		record: newRecord[Object](client, req, ObjectsIndex(bucket), key),
	}
	m.value.Key = key

	return m
}

// Bucket returns the bucket name.
func (m *ObjectMetadata) Bucket() string {
	return m.bucket
}

// Key returns the object key.
func (m *ObjectMetadata) Key() string {
	return m.key
}

// Object returns the record. Changes are persisted by Save.
func (m *ObjectMetadata) Object() *Object {
	return &m.value
}

// Load fetches the record.
func (m *ObjectMetadata) Load(onSuccess, onFailed func()) {
	m.record.load(onSuccess, onFailed)
}

// Save writes the record, assigning a fresh version id when none is set.
func (m *ObjectMetadata) Save(onSuccess, onFailed func()) {
	if m.value.VersionID == "" {
		m.value.VersionID = uuid.New().String()
	}

	m.record.save(false, onSuccess, onFailed)
}

// Remove deletes the record.
func (m *ObjectMetadata) Remove(onSuccess, onFailed func()) {
	m.record.remove(onSuccess, onFailed)
}
