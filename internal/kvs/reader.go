package kvs

// ReaderState is the state of a reader's last operation.
type ReaderState int

// Reader states.
const (
	ReaderStart ReaderState = iota
	ReaderInFlight
	ReaderPresent
	ReaderFailed
)

// String returns the string representation of the state.
func (s ReaderState) String() string {
	switch s {
	case ReaderStart:
		return "start"
	case ReaderInFlight:
		return "in_flight"
	case ReaderPresent:
		return "present"
	case ReaderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reader issues asynchronous gets against the backend. A reader may be reused
// for sequential gets once the previous one has completed.
type Reader struct {
	lastValue string
	bridge
	state ReaderState
}

// Get looks key up in the named index. It returns immediately; onSuccess or
// onFailed runs later on the request loop, exactly one of them, exactly once.
// After onSuccess, LastValue holds the stored value byte for byte.
func (r *Reader) Get(index, key string, onSuccess, onFailed func()) {
	if !r.arm(onSuccess, onFailed) {
		return
	}

	r.state = ReaderInFlight
	r.lastValue = ""

	op, err := r.prepare(OpGet, index, key)
	if err != nil {
		r.fail(OpGet, index, err, r.record)
		return
	}

	r.launch(op, r.record)
}

// record copies the result of a completed get. A nil op is a failure raised
// before launch.
func (r *Reader) record(op *OpContext) {
	if op == nil || op.State() != OpSucceeded {
		r.state = ReaderFailed
		return
	}

	value, err := op.Value(0)
	if err != nil {
		r.lastErr = newError(OpGet, op.indexName, err)
		r.state = ReaderFailed

		return
	}

	r.lastValue = string(value)
	r.state = ReaderPresent
}

// State returns the state of the last get.
func (r *Reader) State() ReaderState {
	return r.state
}

// LastValue returns the value retrieved by the last successful get.
func (r *Reader) LastValue() string {
	return r.lastValue
}
