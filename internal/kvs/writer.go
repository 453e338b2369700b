package kvs

// WriterState is the state of a writer's last operation.
type WriterState int

// Writer states.
const (
	WriterStart WriterState = iota
	WriterInFlight
	WriterSaved
	WriterDeleted
	WriterFailed
)

// String returns the string representation of the state.
func (s WriterState) String() string {
	switch s {
	case WriterStart:
		return "start"
	case WriterInFlight:
		return "in_flight"
	case WriterSaved:
		return "saved"
	case WriterDeleted:
		return "deleted"
	case WriterFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PutOptions controls a put.
type PutOptions struct {
	// IfAbsent makes the put fail with ErrKeyExists when the key is present.
	IfAbsent bool
}

// Writer issues asynchronous puts and deletes against the backend.
type Writer struct {
	bridge
	state WriterState
}

// Put stores value under key in the named index.
func (w *Writer) Put(index, key string, value []byte, onSuccess, onFailed func()) {
	w.PutWithOptions(index, key, value, PutOptions{}, onSuccess, onFailed)
}

// PutWithOptions stores value under key using opts. The failure continuation
// distinguishes a backend rejection (LastClass is ClassRejected) from a
// transport failure (ClassUnavailable).
func (w *Writer) PutWithOptions(index, key string, value []byte, opts PutOptions, onSuccess, onFailed func()) {
	if !w.arm(onSuccess, onFailed) {
		return
	}

	w.state = WriterInFlight

	op, err := w.prepare(OpPut, index, key, value)
	if err != nil {
		w.fail(OpPut, index, err, w.record)
		return
	}

	op.SetIfAbsent(opts.IfAbsent)
	w.launch(op, w.record)
}

// Delete removes key from the named index. Deleting an absent key fails with
// a NotFound class.
func (w *Writer) Delete(index, key string, onSuccess, onFailed func()) {
	if !w.arm(onSuccess, onFailed) {
		return
	}

	w.state = WriterInFlight

	op, err := w.prepare(OpDelete, index, key)
	if err != nil {
		w.fail(OpDelete, index, err, w.record)
		return
	}

	w.launch(op, w.record)
}

func (w *Writer) record(op *OpContext) {
	switch {
	case op == nil || op.State() != OpSucceeded:
		w.state = WriterFailed
	case op.Kind() == OpDelete:
		w.state = WriterDeleted
	default:
		w.state = WriterSaved
	}
}

// State returns the state of the last operation.
func (w *Writer) State() WriterState {
	return w.state
}
