// Package memkv provides an in-memory key-value engine.
//
// The engine completes every operation asynchronously on a worker pool, the
// same way the persistent engines do, so code exercised against it sees the
// same continuation ordering as in production. It supports fault injection
// and held completions for tests.
package memkv

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// Options configures the engine.
type Options struct {
	// Latency is added before every operation completes.
	Latency time.Duration
	// Workers is the number of executor goroutines.
	Workers int
	// QueueSize is the executor queue length.
	QueueSize int
	// MaxValueSize rejects larger puts; zero disables the limit.
	MaxValueSize int
}

type scopedFault struct {
	index kvs.IndexID
	kind  kvs.OpKind
}

// Engine is an in-memory kvs.Engine.
type Engine struct {
	indexes map[kvs.IndexID]map[string][]byte
	faults  map[kvs.OpKind]error
	scoped  map[scopedFault]error
	exec    *kvs.Executor
	held    []*kvs.OpContext
	opts    Options
	mu      sync.RWMutex
	holdMu  sync.Mutex
	hold    bool
	closed  atomic.Bool
}

// New creates an in-memory engine.
func New(opts Options) *Engine {
	return &Engine{
		indexes: make(map[kvs.IndexID]map[string][]byte),
		faults:  make(map[kvs.OpKind]error),
		scoped:  make(map[scopedFault]error),
		exec:    kvs.NewExecutor("memory", opts.Workers, opts.QueueSize),
		opts:    opts,
	}
}

// Name implements kvs.Engine.
func (e *Engine) Name() string {
	return "memory"
}

// Launch implements kvs.Engine.
func (e *Engine) Launch(op *kvs.OpContext) error {
	if e.closed.Load() {
		return kvs.ErrEngineClosed
	}

	e.holdMu.Lock()
	if e.hold {
		e.held = append(e.held, op)
		e.holdMu.Unlock()

		return nil
	}
	e.holdMu.Unlock()

	return e.exec.Submit(func() {
		e.execute(op)
	})
}

func (e *Engine) execute(op *kvs.OpContext) {
	if e.opts.Latency > 0 {
		time.Sleep(e.opts.Latency)
	}

	e.mu.RLock()
	fault := e.faults[op.Kind()]
	if scoped, ok := e.scoped[scopedFault{index: op.Index(), kind: op.Kind()}]; ok {
		fault = scoped
	}
	e.mu.RUnlock()

	if fault != nil {
		op.Complete(fault)
		return
	}

	switch op.Kind() {
	case kvs.OpGet:
		op.Complete(e.get(op))
	case kvs.OpPut:
		op.Complete(e.put(op))
	case kvs.OpDelete:
		op.Complete(e.delete(op))
	default:
		op.Complete(fmt.Errorf("unsupported operation %s: %w", op.Kind(), kvs.ErrInternal))
	}
}

func (e *Engine) get(op *kvs.OpContext) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	index, ok := e.indexes[op.Index()]
	if !ok {
		return kvs.ErrIndexNotFound
	}

	value, ok := index[string(op.Key(0))]
	if !ok {
		return kvs.ErrNotFound
	}

	return op.SetValue(0, value)
}

func (e *Engine) put(op *kvs.OpContext) error {
	value, err := op.Value(0)
	if err != nil {
		return err
	}

	if e.opts.MaxValueSize > 0 && len(value) > e.opts.MaxValueSize {
		return kvs.ErrValueTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	index, ok := e.indexes[op.Index()]
	if !ok {
		index = make(map[string][]byte)
		e.indexes[op.Index()] = index
	}

	key := string(op.Key(0))
	if _, exists := index[key]; exists && op.IfAbsent() {
		return kvs.ErrKeyExists
	}

	index[key] = append([]byte(nil), value...)

	return nil
}

func (e *Engine) delete(op *kvs.OpContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	index, ok := e.indexes[op.Index()]
	if !ok {
		return kvs.ErrIndexNotFound
	}

	key := string(op.Key(0))
	if _, ok := index[key]; !ok {
		return kvs.ErrNotFound
	}

	delete(index, key)

	return nil
}

// Close implements kvs.Engine. Held operations are failed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.holdMu.Lock()
	held := e.held
	e.held = nil
	e.hold = false
	e.holdMu.Unlock()

	for _, op := range held {
		op.Complete(kvs.ErrEngineClosed)
	}

	return e.exec.Stop(5 * time.Second)
}

// Seed stores value directly, bypassing the asynchronous path.
func (e *Engine) Seed(index, key string, value []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := kvs.IndexIDFor(index)
	if e.indexes[id] == nil {
		e.indexes[id] = make(map[string][]byte)
	}

	e.indexes[id][key] = append([]byte(nil), value...)
}

// Lookup reads a value directly.
func (e *Engine) Lookup(index, key string) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.indexes[kvs.IndexIDFor(index)][key]

	return v, ok
}

// Len returns the number of keys in an index.
func (e *Engine) Len(index string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.indexes[kvs.IndexIDFor(index)])
}

// InjectError makes every operation of the given kind fail with err.
func (e *Engine) InjectError(kind kvs.OpKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.faults[kind] = err
}

// InjectIndexError makes operations of the given kind on one index fail
// with err.
func (e *Engine) InjectIndexError(index string, kind kvs.OpKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scoped[scopedFault{index: kvs.IndexIDFor(index), kind: kind}] = err
}

// ClearErrors removes every injected error.
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.faults = make(map[kvs.OpKind]error)
	e.scoped = make(map[scopedFault]error)
}

// Hold makes launched operations wait until Resume is called.
func (e *Engine) Hold() {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()

	e.hold = true
}

// Held returns the number of operations waiting on Resume.
func (e *Engine) Held() int {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()

	return len(e.held)
}

// Resume stops holding and executes every held operation.
func (e *Engine) Resume() {
	e.holdMu.Lock()
	held := e.held
	e.held = nil
	e.hold = false
	e.holdMu.Unlock()

	for _, op := range held {
		err := e.exec.Submit(func() {
			e.execute(op)
		})
		if err != nil {
			op.Complete(err)
		}
	}
}
