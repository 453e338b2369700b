// Package object stores object data in the backend, optionally compressed.
package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// Codec names.
const (
	CodecNone = "none"
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// ErrUnknownCodec is returned for an unsupported codec name.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes object data for storage.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// NewCodec returns the codec called name. An empty name means CodecNone.
// Codecs are shared by every caller and need no closing.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecNone:
		return noneCodec{}, nil
	case CodecZstd:
		return sharedZstd()
	case CodecLZ4:
		return lz4Codec{level: lz4.Level4}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string { return CodecNone }

func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }

func (noneCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// zstdCodec shares one encoder and one decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var (
	zstdOnce  sync.Once
	zstdValue *zstdCodec
	zstdErr   error
)

func sharedZstd() (*zstdCodec, error) {
	zstdOnce.Do(func() {
		zstdValue, zstdErr = newZstdCodec()
	})

	return zstdValue, zstdErr
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return CodecZstd }

func (c *zstdCodec) Encode(data []byte) ([]byte, error) {
	out := c.enc.EncodeAll(data, nil)
	metrics.AddCodecBytes(CodecZstd, "in", len(data))
	metrics.AddCodecBytes(CodecZstd, "out", len(out))

	return out, nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	// EncodeAll emits no frame for an empty body.
	if len(data) == 0 {
		return nil, nil
	}

	return c.dec.DecodeAll(data, nil)
}

type lz4Codec struct {
	level lz4.CompressionLevel
}

func (c lz4Codec) Name() string { return CodecLZ4 }

func (c lz4Codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)

	err := w.Apply(lz4.CompressionLevelOption(c.level))
	if err != nil {
		return nil, err
	}

	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	metrics.AddCodecBytes(CodecLZ4, "in", len(data))
	metrics.AddCodecBytes(CodecLZ4, "out", buf.Len())

	return buf.Bytes(), nil
}

func (c lz4Codec) Decode(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// Policy decides which objects are worth compressing.
type Policy struct {
	Codec Codec
	// MinSize is the smallest body that is compressed.
	MinSize int
	// ExcludeTypes are content types stored as is.
	ExcludeTypes []string
}

// DefaultPolicy compresses with codec everything of at least 1KB that is not
// already a compressed format.
func DefaultPolicy(codec Codec) Policy {
	return Policy{
		Codec:   codec,
		MinSize: 1024,
		ExcludeTypes: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/webp",
			"video/mp4",
			"video/webm",
			"audio/mpeg",
			"application/zip",
			"application/gzip",
			"application/x-gzip",
			"application/x-xz",
			"application/x-7z-compressed",
		},
	}
}

// Choose returns the codec for a body of size bytes and the given type.
func (p Policy) Choose(size int, contentType string) Codec {
	if p.Codec == nil || p.Codec.Name() == CodecNone {
		return noneCodec{}
	}

	if size < p.MinSize {
		return noneCodec{}
	}

	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, excluded := range p.ExcludeTypes {
		if strings.EqualFold(excluded, contentType) {
			return noneCodec{}
		}
	}

	return p.Codec
}
