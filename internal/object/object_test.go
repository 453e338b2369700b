package object

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/kvs/memkv"
	"github.com/piwi3910/s3gateway/internal/metadata"
	"github.com/piwi3910/s3gateway/internal/testutil"
)

func TestCodecRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\x00"), 200)

	for _, name := range []string{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			encoded, err := codec.Encode(body)
			require.NoError(t, err)

			if name != CodecNone {
				assert.Less(t, len(encoded), len(body))
			}

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, body, decoded)
		})
	}
}

func TestCodecEmptyBody(t *testing.T) {
	for _, name := range []string{CodecNone, CodecZstd, CodecLZ4} {
		codec, err := NewCodec(name)
		require.NoError(t, err)

		encoded, err := codec.Encode(nil)
		require.NoError(t, err)

		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		assert.Empty(t, decoded, name)
	}
}

func TestCodecsAreShared(t *testing.T) {
	first, err := NewCodec(CodecZstd)
	require.NoError(t, err)

	second, err := NewCodec(CodecZstd)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCodec("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	codec, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, codec.Name())
}

func TestPolicyChoose(t *testing.T) {
	zstdCodec, err := NewCodec(CodecZstd)
	require.NoError(t, err)

	p := DefaultPolicy(zstdCodec)

	assert.Equal(t, CodecZstd, p.Choose(4096, "text/plain").Name())
	assert.Equal(t, CodecZstd, p.Choose(4096, "").Name())
	assert.Equal(t, CodecNone, p.Choose(10, "text/plain").Name())
	assert.Equal(t, CodecNone, p.Choose(4096, "image/JPEG").Name())
	assert.Equal(t, CodecNone, p.Choose(4096, "application/zip; charset=binary").Name())

	assert.Equal(t, CodecNone, Policy{}.Choose(4096, "text/plain").Name())
}

func TestDataWriteRead(t *testing.T) {
	engine := memkv.New(memkv.Options{})
	t.Cleanup(func() { _ = engine.Close() })

	client := kvs.NewClient(engine, nil)
	req := testutil.NewLoopRequest(t)
	ch := make(chan string, 2)
	onSuccess := func() { ch <- "success" }
	onFailed := func() { ch <- "failed" }

	body := bytes.Repeat([]byte("abc"), 1000)
	codec, err := NewCodec(CodecLZ4)
	require.NoError(t, err)

	w := NewData(client, req, "bucket1")
	req.Do(t, func() { w.Write("key1", body, codec, onSuccess, onFailed) })
	require.Equal(t, "success", testutil.Wait(t, ch))

	raw, ok := engine.Lookup(metadata.DataIndex("bucket1"), "key1")
	require.True(t, ok)
	assert.Equal(t, len(raw), w.StoredSize())
	assert.Less(t, len(raw), len(body))

	r := NewData(client, req, "bucket1")
	req.Do(t, func() { r.Read("key1", CodecLZ4, onSuccess, onFailed) })
	require.Equal(t, "success", testutil.Wait(t, ch))
	assert.Equal(t, body, r.Body())

	req.Do(t, func() { r.Read("key1", "bogus", onSuccess, onFailed) })
	require.Equal(t, "failed", testutil.Wait(t, ch))
	assert.Equal(t, kvs.ClassInternal, r.Class())

	req.Do(t, func() { r.Read("key1", CodecZstd, onSuccess, onFailed) })
	require.Equal(t, "failed", testutil.Wait(t, ch))
	assert.Equal(t, kvs.ClassInternal, r.Class())

	req.Do(t, func() { r.Remove("key1", onSuccess, onFailed) })
	require.Equal(t, "success", testutil.Wait(t, ch))

	req.Do(t, func() { r.Read("key1", CodecLZ4, onSuccess, onFailed) })
	require.Equal(t, "failed", testutil.Wait(t, ch))
	assert.Equal(t, kvs.ClassNotFound, r.Class())
}
