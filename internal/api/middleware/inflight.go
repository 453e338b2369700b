package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

const drainPollInterval = 10 * time.Millisecond

// InFlight counts the requests currently being served.
type InFlight struct {
	count atomic.Int64
}

// NewInFlight creates a tracker.
func NewInFlight() *InFlight {
	return &InFlight{}
}

// Middleware counts every request passing through it.
func (t *InFlight) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.SetInFlightRequests(t.count.Add(1))
		defer func() { metrics.SetInFlightRequests(t.count.Add(-1)) }()

		next.ServeHTTP(w, r)
	})
}

// InFlightCount returns the number of requests being served.
func (t *InFlight) InFlightCount() int64 {
	return t.count.Load()
}

// WaitForDrain blocks until no request is in flight or ctx is done.
func (t *InFlight) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for t.count.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}
