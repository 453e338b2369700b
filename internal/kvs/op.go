package kvs

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// OpKind is the kind of a key-value operation.
type OpKind int

// Operation kinds.
const (
	OpGet OpKind = iota
	OpPut
	OpDelete
)

// String returns the string representation of the kind.
func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OpState is the result state of an operation context.
type OpState int32

// Operation states.
const (
	OpPending OpState = iota
	OpSucceeded
	OpFailed
)

// String returns the string representation of the state.
func (s OpState) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpSucceeded:
		return "succeeded"
	case OpFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Errors reported by operation contexts.
var (
	ErrOpPending      = errors.New("operation still pending")
	ErrOpReleased     = errors.New("operation context released")
	ErrSlotOutOfRange = errors.New("buffer slot out of range")
)

// OpContext owns the buffers exchanged with the engine for exactly one
// asynchronous call. It is created by a bridge, handed to the engine by
// Launch, and returned to the bridge through the completion callback. The
// bridge copies out what it needs and releases the context exactly once.
type OpContext struct {
	alloc      *Allocator
	onComplete func(*OpContext)
	err        error
	keys       [][]byte
	values     [][]byte
	launchedAt time.Time
	indexName  string
	charged    int
	index      IndexID
	kind       OpKind
	ifAbsent   bool
	state      atomic.Int32
	mu         sync.Mutex
	released   bool
}

// NewOpContext allocates a context with keyCount key slots and valueCount
// value slots for an operation on the named index.
func NewOpContext(alloc *Allocator, kind OpKind, indexName string, keyCount, valueCount int) (*OpContext, error) {
	if keyCount < 1 || valueCount < 0 {
		return nil, newError(kind, indexName, ErrAllocation)
	}

	if alloc == nil {
		alloc = NewAllocator(0)
	}

	return &OpContext{
		alloc:     alloc,
		kind:      kind,
		indexName: indexName,
		index:     IndexIDFor(indexName),
		keys:      make([][]byte, keyCount),
		values:    make([][]byte, valueCount),
	}, nil
}

// Kind returns the operation kind.
func (op *OpContext) Kind() OpKind {
	return op.kind
}

// Index returns the backend id of the target index.
func (op *OpContext) Index() IndexID {
	return op.index
}

// IndexName returns the logical name of the target index.
func (op *OpContext) IndexName() string {
	return op.indexName
}

// IfAbsent reports whether a put must fail when the key already exists.
func (op *OpContext) IfAbsent() bool {
	return op.ifAbsent
}

// SetIfAbsent makes a put fail with ErrKeyExists when the key is present.
func (op *OpContext) SetIfAbsent(v bool) {
	op.ifAbsent = v
}

// KeyCount returns the number of key slots.
func (op *OpContext) KeyCount() int {
	return len(op.keys)
}

// ValueCount returns the number of value slots.
func (op *OpContext) ValueCount() int {
	return len(op.values)
}

// SetKey copies key into slot i.
func (op *OpContext) SetKey(i int, key []byte) error {
	return op.fill(op.keys, i, key)
}

// Key returns the key stored in slot i.
func (op *OpContext) Key(i int) []byte {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.released || i < 0 || i >= len(op.keys) {
		return nil
	}

	return op.keys[i]
}

// SetValue copies value into slot i. Bridges use it for the payload of a put;
// engines use it to return the value of a get before calling Complete.
func (op *OpContext) SetValue(i int, value []byte) error {
	return op.fill(op.values, i, value)
}

// Value returns the value stored in slot i. For a get the value is only
// readable once the operation has completed successfully.
func (op *OpContext) Value(i int) ([]byte, error) {
	if op.kind == OpGet && op.State() != OpSucceeded {
		if op.State() == OpPending {
			return nil, ErrOpPending
		}

		return nil, op.Err()
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.released {
		return nil, ErrOpReleased
	}

	if i < 0 || i >= len(op.values) {
		return nil, ErrSlotOutOfRange
	}

	return op.values[i], nil
}

func (op *OpContext) fill(slots [][]byte, i int, data []byte) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.released {
		return ErrOpReleased
	}

	if i < 0 || i >= len(slots) {
		return ErrSlotOutOfRange
	}

	buf, err := op.alloc.Alloc(len(data))
	if err != nil {
		return newError(op.kind, op.indexName, err)
	}

	copy(buf, data)

	if old := slots[i]; old != nil {
		op.alloc.Free(len(old))
		op.charged -= len(old)
	}

	slots[i] = buf
	op.charged += len(buf)

	return nil
}

// State returns the current result state.
func (op *OpContext) State() OpState {
	return OpState(op.state.Load())
}

// Err returns the classified failure, or nil for a pending or successful op.
func (op *OpContext) Err() error {
	if op.State() == OpPending {
		return nil
	}

	return op.err
}

// Complete is called by the engine exactly once when the operation has
// finished. A nil err marks success. Calls after the first are ignored and
// reported by a false return value.
func (op *OpContext) Complete(err error) bool {
	next := OpSucceeded
	if err != nil {
		next = OpFailed
		err = newError(op.kind, op.indexName, err)
	}

	op.mu.Lock()
	if op.State() != OpPending {
		op.mu.Unlock()
		return false
	}

	op.err = err
	op.state.Store(int32(next))
	op.mu.Unlock()

	if op.onComplete != nil {
		op.onComplete(op)
	}

	return true
}

// Release returns every buffer to the allocator. It reports false when the
// context had already been released.
func (op *OpContext) Release() bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.released {
		return false
	}

	op.released = true
	op.alloc.Free(op.charged)
	op.charged = 0
	op.keys = nil
	op.values = nil

	return true
}

// Released reports whether Release has been called.
func (op *OpContext) Released() bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	return op.released
}
