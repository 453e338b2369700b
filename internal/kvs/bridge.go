package kvs

import (
	"fmt"
	"time"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// Bridge usage errors.
var (
	ErrEmptyKey = fmt.Errorf("empty key: %w", ErrInternal)
	ErrBusy     = fmt.Errorf("bridge already has an operation in flight: %w", ErrInternal)
)

// bridge holds what readers and writers share: the request they serve, the
// backend client, and the two continuations of the operation in flight.
type bridge struct {
	req       Request
	client    *Client
	onSuccess func()
	onFailed  func()
	lastErr   error
	// busyErr is reported by LastErr after a rejected reuse until the
	// operation in flight settles; lastErr stays owned by that operation.
	busyErr   error
	inFlight  bool
}

// arm records the continuations of a new operation. It reports false, and
// schedules onFailed with ErrBusy, if an operation is already in flight.
func (b *bridge) arm(onSuccess, onFailed func()) bool {
	if b.inFlight {
		b.req.Logger().Error().Err(ErrBusy).Msg("KVS bridge reused while an operation is in flight")
		b.req.Post(func() {
			b.busyErr = ErrBusy
			onFailed()
		})

		return false
	}

	b.inFlight = true
	b.onSuccess = onSuccess
	b.onFailed = onFailed
	b.lastErr = nil
	b.busyErr = nil

	return true
}

// prepare allocates an operation context and copies key and values into it.
func (b *bridge) prepare(kind OpKind, index, key string, values ...[]byte) (*OpContext, error) {
	if key == "" {
		return nil, newError(kind, index, ErrEmptyKey)
	}

	op, err := NewOpContext(b.client.alloc, kind, index, 1, max(len(values), 1))
	if err != nil {
		return nil, err
	}

	err = op.SetKey(0, []byte(key))
	if err != nil {
		op.Release()
		return nil, err
	}

	for i, v := range values {
		err = op.SetValue(i, v)
		if err != nil {
			op.Release()
			return nil, err
		}
	}

	return op, nil
}

// fail schedules the failure path for an error raised before launch.
func (b *bridge) fail(kind OpKind, index string, err error, done func(*OpContext)) {
	err = newError(kind, index, err)
	metrics.RecordKVSOperation(kind.String(), Classify(err).String(), 0)

	b.req.Logger().Debug().
		Err(err).
		Str("index", index).
		Str("op", kind.String()).
		Msg("KVS operation failed before launch")

	posted := b.req.Post(func() {
		b.inFlight = false
		b.lastErr = err
		b.busyErr = nil
		done(nil)

		if b.req.Canceled() {
			return
		}

		b.onFailed()
	})
	if !posted {
		b.inFlight = false
		b.lastErr = err
		done(nil)
	}
}

// launch submits op and arranges for done to run on the request loop once
// the engine completes it. done must copy out results and leave the
// continuation to the caller of settle.
func (b *bridge) launch(op *OpContext, done func(*OpContext)) {
	log := b.req.Logger()

	op.launchedAt = time.Now()
	op.onComplete = func(op *OpContext) {
		posted := b.req.Post(func() {
			b.settle(op, done)
		})
		if !posted {
			log.Warn().
				Str("index", op.indexName).
				Str("op", op.kind.String()).
				Msg("Request loop stopped, discarding KVS completion")
			op.Release()
		}
	}

	log.Debug().
		Str("engine", b.client.engine.Name()).
		Str("index", op.indexName).
		Str("op", op.kind.String()).
		Msg("Launching KVS operation")

	err := b.client.engine.Launch(op)
	if err != nil {
		op.Complete(err)
	}
}

// settle runs on the request loop. It hands the finished context to done for
// inspection, releases it, and invokes exactly one continuation.
func (b *bridge) settle(op *OpContext, done func(*OpContext)) {
	b.inFlight = false
	b.lastErr = op.Err()
	b.busyErr = nil

	outcome := Classify(b.lastErr)
	metrics.RecordKVSOperation(op.kind.String(), outcome.String(), time.Since(op.launchedAt))

	if b.req.Canceled() {
		// The result is discarded, so the state must not stay in flight.
		done(nil)
		op.Release()
		b.req.Logger().Debug().
			Str("index", op.indexName).
			Str("op", op.kind.String()).
			Msg("Request canceled, discarding KVS completion")

		return
	}

	done(op)
	op.Release()

	b.req.Logger().Debug().
		Str("index", op.indexName).
		Str("op", op.kind.String()).
		Str("outcome", outcome.String()).
		Msg("KVS operation completed")

	if b.lastErr != nil {
		b.onFailed()
		return
	}

	b.onSuccess()
}

// LastErr returns the classified failure of the last operation, or nil.
func (b *bridge) LastErr() error {
	if b.busyErr != nil {
		return b.busyErr
	}

	return b.lastErr
}

// LastClass returns the class of the last failure.
func (b *bridge) LastClass() Class {
	return Classify(b.LastErr())
}
