package kvs

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// Allocator accounts for the bytes held by in-flight operation contexts.
// A positive budget caps the total; allocations beyond it fail with
// ErrAllocation instead of waiting.
type Allocator struct {
	sem    *semaphore.Weighted
	inUse  atomic.Int64
	budget int64
}

// NewAllocator creates an allocator with the given byte budget. A budget of
// zero or less disables the cap.
func NewAllocator(budget int64) *Allocator {
	a := &Allocator{budget: budget}
	if budget > 0 {
		a.sem = semaphore.NewWeighted(budget)
	}

	return a
}

// Alloc returns a zeroed buffer of n bytes charged against the budget.
func (a *Allocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrAllocation
	}

	if a.sem != nil && !a.sem.TryAcquire(int64(n)) {
		metrics.RecordAllocationFailure()
		return nil, ErrAllocation
	}

	metrics.SetBufferBytesInUse(a.inUse.Add(int64(n)))

	return make([]byte, n), nil
}

// Free returns n bytes to the budget.
func (a *Allocator) Free(n int) {
	if n <= 0 {
		return
	}

	if a.sem != nil {
		a.sem.Release(int64(n))
	}

	metrics.SetBufferBytesInUse(a.inUse.Add(-int64(n)))
}

// InUse returns the number of bytes currently charged.
func (a *Allocator) InUse() int64 {
	return a.inUse.Load()
}

// Budget returns the configured byte budget (zero means unlimited).
func (a *Allocator) Budget() int64 {
	return a.budget
}
