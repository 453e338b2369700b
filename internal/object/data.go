package object

import (
	"fmt"

	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/metadata"
)

// Data reads and writes the encoded body of one object.
type Data struct {
	req    kvs.Request
	reader *kvs.Reader
	writer *kvs.Writer
	err    error
	index  string
	body   []byte
	stored int
}

// NewData creates the data collaborator for bucket. Each call names the
// data-index key it works on, so one object can address several versions.
func NewData(client *kvs.Client, req kvs.Request, bucket string) *Data {
	return &Data{
		req:    req,
		reader: client.NewReader(req),
		writer: client.NewWriter(req),
		index:  metadata.DataIndex(bucket),
	}
}

// Write encodes body with codec and stores it under key.
func (d *Data) Write(key string, body []byte, codec Codec, onSuccess, onFailed func()) {
	d.err = nil

	encoded, err := codec.Encode(body)
	if err != nil {
		d.err = fmt.Errorf("encode %s: %v: %w", codec.Name(), err, kvs.ErrInternal)
		d.req.Post(onFailed)

		return
	}

	d.stored = len(encoded)

	d.writer.Put(d.index, key, encoded, onSuccess, func() {
		d.err = d.writer.LastErr()
		onFailed()
	})
}

// Read fetches the value under key and decodes it with the named codec.
func (d *Data) Read(key, codecName string, onSuccess, onFailed func()) {
	d.err = nil
	d.body = nil

	codec, err := NewCodec(codecName)
	if err != nil {
		d.err = fmt.Errorf("%v: %w", err, kvs.ErrInternal)
		d.req.Post(onFailed)

		return
	}

	d.reader.Get(d.index, key, func() {
		raw := []byte(d.reader.LastValue())
		d.stored = len(raw)

		body, err := codec.Decode(raw)
		if err != nil {
			d.err = fmt.Errorf("decode %s: %v: %w", codec.Name(), err, kvs.ErrInternal)
			onFailed()

			return
		}

		d.body = body
		onSuccess()
	}, func() {
		d.err = d.reader.LastErr()
		onFailed()
	})
}

// Remove deletes the value under key.
func (d *Data) Remove(key string, onSuccess, onFailed func()) {
	d.err = nil

	d.writer.Delete(d.index, key, onSuccess, func() {
		d.err = d.writer.LastErr()
		onFailed()
	})
}

// Body returns the decoded body after a successful Read.
func (d *Data) Body() []byte {
	return d.body
}

// StoredSize returns the encoded size of the last write or read.
func (d *Data) StoredSize() int {
	return d.stored
}

// Err returns the failure of the last operation.
func (d *Data) Err() error {
	return d.err
}

// Class returns the class of the last failure.
func (d *Data) Class() kvs.Class {
	return kvs.Classify(d.err)
}
