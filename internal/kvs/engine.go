// Package kvs is the storage bridge between actions and the key-value backend.
//
// The backend engine is an opaque asynchronous store of named indexes. Each
// call against it is described by an OpContext that owns the key and value
// buffers for that one call. Readers and writers build the context, launch it,
// and when the engine signals completion they hop back onto the request's
// event loop and invoke exactly one of the two continuations they were given:
//
//	reader := client.NewReader(req)
//	reader.Get("buckets-index", "bucket1",
//	    func() { use(reader.LastValue()) },
//	    func() { classify(reader.LastErr()) },
//	)
//
// The bridge never retries and never blocks the calling goroutine. Failures
// are surfaced through the failure continuation, classified by Classify.
package kvs

import (
	"github.com/rs/zerolog"
)

// Engine is an asynchronous key-value backend.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string

	// Launch submits op and returns without waiting for it. The engine must
	// eventually call op.Complete exactly once. A non-nil error means the op
	// was not submitted and Complete will not be called by the engine.
	Launch(op *OpContext) error

	// Close releases engine resources. Operations launched afterwards fail
	// with ErrEngineClosed.
	Close() error
}

// Request is the per-request context a bridge runs in.
type Request interface {
	// Post schedules fn on the event loop that owns the request. It returns
	// false if the loop no longer accepts work.
	Post(fn func()) bool

	// Canceled reports whether the request has been dropped by the client.
	Canceled() bool

	// Logger returns the request-scoped logger.
	Logger() *zerolog.Logger
}

// Client is the explicitly owned handle to a backend: the engine plus the
// allocator that accounts for operation buffers. One client is shared by all
// bridges of a process.
type Client struct {
	engine Engine
	alloc  *Allocator
}

// NewClient creates a client. A nil allocator means no buffer budget.
func NewClient(engine Engine, alloc *Allocator) *Client {
	if alloc == nil {
		alloc = NewAllocator(0)
	}

	return &Client{engine: engine, alloc: alloc}
}

// Engine returns the backend engine.
func (c *Client) Engine() Engine {
	return c.engine
}

// Allocator returns the buffer allocator.
func (c *Client) Allocator() *Allocator {
	return c.alloc
}

// NewReader creates a reader bound to req.
func (c *Client) NewReader(req Request) *Reader {
	return &Reader{bridge: bridge{req: req, client: c}}
}

// NewWriter creates a writer bound to req.
func (c *Client) NewWriter(req Request) *Writer {
	return &Writer{bridge: bridge{req: req, client: c}}
}

// Close closes the engine.
func (c *Client) Close() error {
	return c.engine.Close()
}
