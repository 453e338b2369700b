package kvs

import (
	"context"
	"fmt"
	"sync"
)

// Exec launches op and blocks until the engine completes it or ctx is done.
// It is meant for tools and probes that run outside an event loop. Exec owns
// op: inspect, if not nil, sees the completed context before it is released.
// When ctx expires first the op is released once the engine completes it.
func Exec(ctx context.Context, engine Engine, op *OpContext, inspect func(*OpContext)) error {
	var (
		mu        sync.Mutex
		abandoned bool
	)

	done := make(chan struct{})

	op.onComplete = func(op *OpContext) {
		mu.Lock()
		defer mu.Unlock()

		if abandoned {
			op.Release()
			return
		}

		close(done)
	}

	err := engine.Launch(op)
	if err != nil {
		op.Complete(err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		select {
		case <-done:
		default:
			abandoned = true
			mu.Unlock()

			return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		mu.Unlock()
	}

	defer op.Release()

	if inspect != nil {
		inspect(op)
	}

	return op.Err()
}

// Get reads key synchronously and returns a copy of its value.
func (c *Client) Get(ctx context.Context, index, key string) ([]byte, error) {
	op, err := c.syncOp(OpGet, index, key, nil)
	if err != nil {
		return nil, err
	}

	var value []byte

	err = Exec(ctx, c.engine, op, func(op *OpContext) {
		v, verr := op.Value(0)
		if verr == nil {
			value = append([]byte(nil), v...)
		}
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put writes key synchronously.
func (c *Client) Put(ctx context.Context, index, key string, value []byte, opts PutOptions) error {
	op, err := c.syncOp(OpPut, index, key, value)
	if err != nil {
		return err
	}

	op.SetIfAbsent(opts.IfAbsent)

	return Exec(ctx, c.engine, op, nil)
}

// Delete removes key synchronously.
func (c *Client) Delete(ctx context.Context, index, key string) error {
	op, err := c.syncOp(OpDelete, index, key, nil)
	if err != nil {
		return err
	}

	return Exec(ctx, c.engine, op, nil)
}

func (c *Client) syncOp(kind OpKind, index, key string, value []byte) (*OpContext, error) {
	if key == "" {
		return nil, newError(kind, index, ErrEmptyKey)
	}

	op, err := NewOpContext(c.alloc, kind, index, 1, 1)
	if err != nil {
		return nil, err
	}

	err = op.SetKey(0, []byte(key))
	if err == nil && kind == OpPut {
		err = op.SetValue(0, value)
	}

	if err != nil {
		op.Release()
		return nil, newError(kind, index, err)
	}

	return op, nil
}
