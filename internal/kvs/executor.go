package kvs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// ErrStopTimeout is returned by Stop when queued work does not drain in time.
var ErrStopTimeout = errors.New("executor stop timed out")

// Default executor sizing.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 1024
)

// Executor is a bounded worker pool that runs blocking engine calls off the
// event loops. Submit never blocks: a full queue is reported as ErrQueueFull.
type Executor struct {
	work      chan func()
	name      string
	wg        sync.WaitGroup
	mu        sync.Mutex
	workers   int
	submitted atomic.Int64
	dropped   atomic.Int64
	stopped   bool
}

// NewExecutor creates and starts an executor. Non-positive sizes fall back to
// the defaults.
func NewExecutor(name string, workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	e := &Executor{
		work:    make(chan func(), queueSize),
		name:    name,
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Submit queues fn for execution.
func (e *Executor) Submit(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineClosed
	}

	select {
	case e.work <- fn:
		e.submitted.Add(1)
		metrics.SetExecutorQueueDepth(e.name, len(e.work))

		return nil
	default:
		e.dropped.Add(1)
		metrics.RecordExecutorDropped(e.name)

		return ErrQueueFull
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for fn := range e.work {
		e.run(fn)
		metrics.SetExecutorQueueDepth(e.name, len(e.work))
	}
}

func (e *Executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("executor", e.name).
				Interface("panic", r).
				Msg("Recovered panic in KVS executor")
		}
	}()

	fn()
}

// Stop closes the queue and waits up to timeout for queued work to drain.
func (e *Executor) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}

	e.stopped = true
	close(e.work)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrStopTimeout
	}
}

// Workers returns the number of workers.
func (e *Executor) Workers() int {
	return e.workers
}

// Stats returns the number of submitted and dropped tasks.
func (e *Executor) Stats() (submitted, dropped int64) {
	return e.submitted.Load(), e.dropped.Load()
}
