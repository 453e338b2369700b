package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/eventloop"
)

// DefaultWaitTimeout bounds every Wait helper.
const DefaultWaitTimeout = 5 * time.Second

// LoopRequest is a minimal request bound to a running event loop. It
// satisfies the request interface the storage bridge expects.
type LoopRequest struct {
	Loop     *eventloop.Loop
	log      zerolog.Logger
	canceled atomic.Bool
}

// NewLoopRequest starts a dedicated loop and returns a request on it. The
// loop is stopped when the test ends.
func NewLoopRequest(t *testing.T) *LoopRequest {
	t.Helper()

	loop := StartLoop(t, t.Name())

	return &LoopRequest{
		Loop: loop,
		log:  zerolog.Nop(),
	}
}

// StartLoop runs a named loop until the test ends.
func StartLoop(t *testing.T, name string) *eventloop.Loop {
	t.Helper()

	loop := eventloop.New(name)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return loop
}

// Post schedules fn on the loop.
func (r *LoopRequest) Post(fn func()) bool {
	return r.Loop.Post(fn)
}

// Canceled reports whether Cancel was called.
func (r *LoopRequest) Canceled() bool {
	return r.canceled.Load()
}

// Cancel marks the request as dropped by the client.
func (r *LoopRequest) Cancel() {
	r.canceled.Store(true)
}

// Logger returns a disabled logger.
func (r *LoopRequest) Logger() *zerolog.Logger {
	return &r.log
}

// Do runs fn on the loop and waits for it to return.
func (r *LoopRequest) Do(t *testing.T, fn func()) {
	t.Helper()

	done := make(chan struct{})

	require.True(t, r.Loop.Post(func() {
		defer close(done)
		fn()
	}), "loop rejected callback")

	Wait(t, done)
}

// Wait blocks until ch yields a value or the default timeout expires.
func Wait[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(DefaultWaitTimeout):
		require.FailNow(t, "timed out waiting for completion")

		var zero T

		return zero
	}
}

// Never asserts that ch yields nothing within d.
func Never[T any](t *testing.T, ch chan T, d time.Duration) {
	t.Helper()

	select {
	case v := <-ch:
		require.FailNow(t, "unexpected value", "%v", v)
	case <-time.After(d):
	}
}
