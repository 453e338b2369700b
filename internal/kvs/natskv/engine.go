// Package natskv provides a kvs.Engine backed by NATS JetStream key-value
// buckets.
//
// Each logical index maps to one bucket named after the configured prefix and
// the hex index id. Buckets are created on first write. Keys are stored in
// unpadded URL-safe base64 because JetStream restricts the key alphabet.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// Defaults.
const (
	DefaultBucketPrefix = "s3gw"
	DefaultTimeout      = 5 * time.Second
)

// Options configures the engine.
type Options struct {
	// URL is the NATS server URL.
	URL string
	// BucketPrefix is prepended to every bucket name.
	BucketPrefix string
	// Replicas is the replication factor of created buckets.
	Replicas int
	// Timeout bounds every backend call. An expired call fails as unavailable.
	Timeout time.Duration
	// Workers is the number of executor goroutines.
	Workers int
	// QueueSize is the executor queue length.
	QueueSize int
	// MaxValueSize rejects larger puts; zero disables the limit.
	MaxValueSize int
}

// bucket is the part of a JetStream key-value bucket the engine uses.
type bucket interface {
	get(ctx context.Context, key string) ([]byte, error)
	put(ctx context.Context, key string, value []byte) error
	create(ctx context.Context, key string, value []byte) error
	delete(ctx context.Context, key string) error
}

// source opens buckets by name, creating them when asked to.
type source interface {
	open(ctx context.Context, name string, create bool) (bucket, error)
}

// Engine is a JetStream kvs.Engine.
type Engine struct {
	src     source
	conn    *nats.Conn
	exec    *kvs.Executor
	buckets map[kvs.IndexID]bucket
	opts    Options
	mu      sync.Mutex
	closed  bool
}

// Connect dials NATS and returns an engine using its JetStream context.
func Connect(opts Options) (*Engine, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("s3gateway"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info().Str("url", opts.URL).Msg("Connected NATS KVS engine")

	e := newEngine(&jsSource{js: js, opts: opts}, opts)
	e.conn = conn

	return e, nil
}

func newEngine(src source, opts Options) *Engine {
	if opts.BucketPrefix == "" {
		opts.BucketPrefix = DefaultBucketPrefix
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Engine{
		src:     src,
		exec:    kvs.NewExecutor("nats", opts.Workers, opts.QueueSize),
		buckets: make(map[kvs.IndexID]bucket),
		opts:    opts,
	}
}

// Name implements kvs.Engine.
func (e *Engine) Name() string {
	return "nats"
}

// Launch implements kvs.Engine.
func (e *Engine) Launch(op *kvs.OpContext) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return kvs.ErrEngineClosed
	}

	return e.exec.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
		defer cancel()

		op.Complete(mapError(e.execute(ctx, op)))
	})
}

func (e *Engine) execute(ctx context.Context, op *kvs.OpContext) error {
	key := encodeKey(op.Key(0))

	switch op.Kind() {
	case kvs.OpGet:
		b, err := e.bucket(ctx, op.Index(), false)
		if err != nil {
			return err
		}

		value, err := b.get(ctx, key)
		if err != nil {
			return err
		}

		return op.SetValue(0, value)

	case kvs.OpPut:
		value, err := op.Value(0)
		if err != nil {
			return err
		}

		if e.opts.MaxValueSize > 0 && len(value) > e.opts.MaxValueSize {
			return kvs.ErrValueTooLarge
		}

		b, err := e.bucket(ctx, op.Index(), true)
		if err != nil {
			return err
		}

		if op.IfAbsent() {
			return b.create(ctx, key, value)
		}

		return b.put(ctx, key, value)

	case kvs.OpDelete:
		b, err := e.bucket(ctx, op.Index(), false)
		if err != nil {
			return err
		}

		_, err = b.get(ctx, key)
		if err != nil {
			return err
		}

		return b.delete(ctx, key)

	default:
		return fmt.Errorf("unsupported operation %s: %w", op.Kind(), kvs.ErrInternal)
	}
}

func (e *Engine) bucket(ctx context.Context, id kvs.IndexID, create bool) (bucket, error) {
	e.mu.Lock()
	b, ok := e.buckets[id]
	e.mu.Unlock()

	if ok {
		return b, nil
	}

	b, err := e.src.open(ctx, e.bucketName(id), create)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.buckets[id] = b
	e.mu.Unlock()

	return b, nil
}

func (e *Engine) bucketName(id kvs.IndexID) string {
	return e.opts.BucketPrefix + "_" + id.String()
}

// Close implements kvs.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}

	e.closed = true
	e.mu.Unlock()

	err := e.exec.Stop(e.opts.Timeout)

	if e.conn != nil {
		e.conn.Close()
	}

	return err
}

func encodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// mapError translates NATS errors into kvs classes.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case kvs.Classify(err) != kvs.ClassInternal:
		return err
	case errors.Is(err, jetstream.ErrBucketNotFound):
		return fmt.Errorf("%w: %w", kvs.ErrIndexNotFound, err)
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("%w: %w", kvs.ErrNotFound, err)
	case errors.Is(err, jetstream.ErrKeyExists):
		return fmt.Errorf("%w: %w", kvs.ErrKeyExists, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, jetstream.ErrJetStreamNotEnabled):
		return fmt.Errorf("%w: %w", kvs.ErrUnavailable, err)
	default:
		return err
	}
}

// jsSource opens JetStream buckets.
type jsSource struct {
	js   jetstream.JetStream
	opts Options
}

func (s *jsSource) open(ctx context.Context, name string, create bool) (bucket, error) {
	kv, err := s.js.KeyValue(ctx, name)
	if err == nil {
		return &jsBucket{kv: kv}, nil
	}

	if !create || !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}

	kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       name,
		Replicas:     max(s.opts.Replicas, 1),
		MaxValueSize: int32(s.opts.MaxValueSize),
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		kv, err = s.js.KeyValue(ctx, name)
	}

	if err != nil {
		return nil, err
	}

	log.Info().Str("bucket", name).Msg("Created KV bucket")

	return &jsBucket{kv: kv}, nil
}

// jsBucket adapts a jetstream.KeyValue.
type jsBucket struct {
	kv jetstream.KeyValue
}

func (b *jsBucket) get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return entry.Value(), nil
}

func (b *jsBucket) put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

func (b *jsBucket) create(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Create(ctx, key, value)
	return err
}

func (b *jsBucket) delete(ctx context.Context, key string) error {
	return b.kv.Delete(ctx, key)
}
