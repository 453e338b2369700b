package kvs

import (
	"errors"
	"fmt"
)

// Class classifies a failed key-value operation so that the action layer can
// choose the client-visible response.
type Class int

const (
	// ClassNone is reported for a nil error.
	ClassNone Class = iota
	// ClassNotFound means the key or the index does not exist.
	ClassNotFound
	// ClassRejected means the engine refused a write (conflicting insert, quota).
	ClassRejected
	// ClassUnavailable means the engine could not be reached or is overloaded.
	ClassUnavailable
	// ClassAllocation means buffers for the operation could not be allocated.
	ClassAllocation
	// ClassInternal covers every failure that is not classified otherwise.
	ClassInternal
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNotFound:
		return "not_found"
	case ClassRejected:
		return "rejected"
	case ClassUnavailable:
		return "unavailable"
	case ClassAllocation:
		return "allocation"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per class. Engines return these (possibly wrapped) so
// that Classify can recognise them.
var (
	ErrNotFound      = errors.New("key not found")
	ErrIndexNotFound = fmt.Errorf("index not found: %w", ErrNotFound)
	ErrRejected      = errors.New("operation rejected by backend")
	ErrKeyExists     = fmt.Errorf("key already exists: %w", ErrRejected)
	ErrValueTooLarge = fmt.Errorf("value exceeds backend limit: %w", ErrRejected)
	ErrUnavailable   = errors.New("backend unavailable")
	ErrQueueFull     = fmt.Errorf("operation queue full: %w", ErrUnavailable)
	ErrEngineClosed  = fmt.Errorf("engine closed: %w", ErrUnavailable)
	ErrAllocation    = errors.New("buffer allocation failed")
	ErrInternal      = errors.New("internal backend error")
)

// Error is a classified operation failure.
type Error struct {
	Err   error
	Index string
	Kind  OpKind
	Class Class
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("kvs %s on index %q: %s: %v", e.Kind, e.Index, e.Class, e.Err)
	}

	return fmt.Sprintf("kvs %s: %s: %v", e.Kind, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err with its classification. A nil err yields nil.
func newError(kind OpKind, index string, err error) error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return err
	}

	return &Error{
		Err:   err,
		Index: index,
		Kind:  kind,
		Class: Classify(err),
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRejected):
		return ClassRejected
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, ErrAllocation):
		return ClassAllocation
	default:
		return ClassInternal
	}
}

// IsNotFound reports whether err means the key or index is absent.
func IsNotFound(err error) bool {
	return Classify(err) == ClassNotFound
}

// IsRejected reports whether err is a backend rejection.
func IsRejected(err error) bool {
	return Classify(err) == ClassRejected
}

// IsUnavailable reports whether err is a transport or capacity failure.
func IsUnavailable(err error) bool {
	return Classify(err) == ClassUnavailable
}
