// Package eventloop provides the cooperative callback loops that drive request
// processing.
//
// A Loop runs posted callbacks one at a time, in order, on a single goroutine.
// Every continuation that belongs to one request is posted to the same loop, so
// two steps of the same action never execute concurrently. Posting never
// blocks: the queue is unbounded and is drained by Run.
//
// Example usage:
//
//	group := eventloop.NewGroup(4)
//	go group.Run(ctx)
//	loop := group.Pick()
//	loop.Post(func() { ... })
package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// ErrLoopStopped is returned by Run when the loop was already stopped.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop executes callbacks sequentially on one goroutine.
type Loop struct {
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	name    string
	mu      sync.Mutex
	closed  bool
	once    sync.Once
}

// New creates a loop. The loop does nothing until Run is called.
func New(name string) *Loop {
	return &Loop{
		name:    name,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Name returns the loop name used in logs and metrics.
func (l *Loop) Name() string {
	return l.name
}

// Post enqueues fn for execution on the loop goroutine. It returns false if the
// loop has been stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}

	l.queue = append(l.queue, fn)
	depth := len(l.queue)
	l.mu.Unlock()

	metrics.SetLoopQueueDepth(l.name, depth)

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return true
}

// Pending returns the number of callbacks waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

// Run drains the queue until ctx is canceled or Stop is called. Callbacks
// still queued when the loop stops are executed before Run returns so that
// in-flight continuations can release their resources. Run on a loop that was
// already stopped drains it and returns ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) error {
	select {
	case <-l.stopped:
		l.shutdown()
		return ErrLoopStopped
	default:
	}

	log.Debug().Str("loop", l.name).Msg("Event loop started")

	for {
		l.drain()

		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-l.stopped:
			l.shutdown()
			return nil
		case <-l.wake:
		}
	}
}

// Stop stops the loop. Posts made after Stop are rejected.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.once.Do(func() {
		close(l.stopped)
	})
}

func (l *Loop) shutdown() {
	l.Stop()
	l.drain()

	log.Debug().Str("loop", l.name).Msg("Event loop stopped")
}

// drain runs callbacks until the queue is observed empty.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			metrics.SetLoopQueueDepth(l.name, 0)

			return
		}

		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordLoopPanic(l.name)
			log.Error().
				Str("loop", l.name).
				Interface("panic", r).
				Msg("Recovered panic in event loop callback")
		}
	}()

	fn()
}
