// Package health provides health check endpoints for the gateway.
//
// The package implements Kubernetes-compatible health checks:
//
//   - /health: overall status (for load balancers)
//   - /health/live: Liveness probe (is the process running?)
//   - /health/ready: Readiness probe (is the server ready for traffic?)
//   - /health/detailed: every check with its message
//
// The engine check issues a real get through the storage bridge on one of
// the request loops, so it exercises the same path as client traffic:
//
//	{
//	  "status": "healthy",
//	  "checks": {
//	    "engine": {"status": "healthy"},
//	    "buffers": {"status": "healthy"},
//	    "loops": {"status": "healthy"}
//	  }
//	}
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/kvs"
)

// HealthIndex is probed by the engine check. The key is never written, so a
// reachable engine answers NotFound.
const (
	HealthIndex = "health-index"
	healthKey   = "probe"
)

const (
	defaultCacheTTL     = 5 * time.Second
	defaultProbeTimeout = 2 * time.Second
	// maxLoopBacklog is the number of queued callbacks above which a loop is
	// reported as lagging.
	maxLoopBacklog = 10000
)

// Status represents the overall health status.
type Status string

const (
	// StatusHealthy indicates all checks passed.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates some checks failed but core functionality works.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates critical failures.
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus represents the complete health status of the system.
type HealthStatus struct {
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Status    Status           `json:"status"`
}

// Checker performs health checks on the system.
type Checker struct {
	cacheExpiry  time.Time
	client       *kvs.Client
	loops        *eventloop.Group
	cachedStatus *HealthStatus
	log          zerolog.Logger
	cacheTTL     time.Duration
	timeout      time.Duration
	mu           sync.RWMutex
	ready        atomic.Bool
}

// NewChecker creates a new health checker.
func NewChecker(client *kvs.Client, loops *eventloop.Group, log zerolog.Logger) *Checker {
	return &Checker{
		client:   client,
		loops:    loops,
		log:      log,
		cacheTTL: defaultCacheTTL,
		timeout:  defaultProbeTimeout,
	}
}

// SetReady marks the server as accepting traffic or not.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Check performs all health checks and returns the overall status.
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	c.mu.RLock()

	if c.cachedStatus != nil && time.Now().Before(c.cacheExpiry) {
		status := c.cachedStatus
		c.mu.RUnlock()

		return status
	}

	c.mu.RUnlock()

	checks := map[string]Check{
		"engine":  c.CheckEngine(ctx),
		"buffers": c.CheckBuffers(),
		"loops":   c.CheckLoops(),
	}

	healthStatus := &HealthStatus{
		Status:    determineOverallStatus(checks),
		Checks:    checks,
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	c.cachedStatus = healthStatus
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
	c.mu.Unlock()

	return healthStatus
}

// CheckEngine gets the probe key through a reader bound to a request loop.
// Success and NotFound both prove the engine answered.
func (c *Checker) CheckEngine(ctx context.Context) Check {
	if c.client == nil || c.loops == nil {
		return Check{Status: StatusUnhealthy, Message: "engine not initialized"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p := &probe{ctx: ctx, loop: c.loops.Pick(), log: c.log}
	reader := c.client.NewReader(p)
	result := make(chan Check, 1)
	name := c.client.Engine().Name()

	start := func() {
		reader.Get(HealthIndex, healthKey, func() {
			result <- Check{Status: StatusHealthy, Message: name + " engine is operational"}
		}, func() {
			result <- engineFailure(name, reader.LastClass(), reader.LastErr())
		})
	}

	if !p.Post(start) {
		return Check{Status: StatusUnhealthy, Message: "event loop " + p.loop.Name() + " is stopped"}
	}

	select {
	case check := <-result:
		return check
	case <-ctx.Done():
		return Check{Status: StatusUnhealthy, Message: "engine probe timed out"}
	}
}

func engineFailure(name string, class kvs.Class, err error) Check {
	switch class {
	case kvs.ClassNotFound:
		return Check{Status: StatusHealthy, Message: name + " engine is operational"}
	case kvs.ClassAllocation:
		return Check{Status: StatusDegraded, Message: "engine probe could not allocate buffers"}
	default:
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("engine check failed (%s): %v", class, err)}
	}
}

// CheckBuffers reports the buffer budget usage.
func (c *Checker) CheckBuffers() Check {
	if c.client == nil {
		return Check{Status: StatusUnhealthy, Message: "engine not initialized"}
	}

	alloc := c.client.Allocator()
	if alloc == nil || alloc.Budget() <= 0 {
		return Check{Status: StatusHealthy, Message: "buffer budget unlimited"}
	}

	usagePercent := float64(alloc.InUse()) / float64(alloc.Budget()) * 100

	switch {
	case usagePercent > 95:
		return Check{Status: StatusDegraded, Message: "buffer budget nearly exhausted (>95%)"}
	default:
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%.1f%% of buffer budget in use", usagePercent)}
	}
}

// CheckLoops reports loops whose backlog grew too large.
func (c *Checker) CheckLoops() Check {
	if c.loops == nil {
		return Check{Status: StatusUnhealthy, Message: "event loops not initialized"}
	}

	for _, l := range c.loops.Loops() {
		if n := l.Pending(); n > maxLoopBacklog {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%s has %d queued callbacks", l.Name(), n)}
		}
	}

	return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d event loops running", len(c.loops.Loops()))}
}

// IsReady checks if the service is ready to accept requests.
func (c *Checker) IsReady(ctx context.Context) bool {
	if !c.ready.Load() {
		return false
	}

	return c.CheckEngine(ctx).Status != StatusUnhealthy
}

// IsLive checks if the service is alive.
func (c *Checker) IsLive(_ context.Context) bool {
	// Basic liveness check - if we can execute this, we're alive
	return true
}

// determineOverallStatus determines the overall health status based on individual checks.
func determineOverallStatus(checks map[string]Check) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}

	if hasDegraded {
		return StatusDegraded
	}

	return StatusHealthy
}

// probe is the request context of a health probe.
type probe struct {
	ctx  context.Context
	loop *eventloop.Loop
	log  zerolog.Logger
}

func (p *probe) Post(fn func()) bool {
	return p.loop.Post(fn)
}

func (p *probe) Canceled() bool {
	return p.ctx.Err() != nil
}

func (p *probe) Logger() *zerolog.Logger {
	return &p.log
}

// Handler creates HTTP handlers for health endpoints.
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler.
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// HealthHandler handles basic health check requests (for load balancers).
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")

	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": string(status.Status),
	})
}

// LivenessHandler handles Kubernetes liveness probe requests.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.checker.IsLive(r.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ok"}`))
	}
}

// ReadinessHandler handles Kubernetes readiness probe requests.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.checker.IsReady(r.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
	}
}

// DetailedHandler handles detailed health check requests.
func (h *Handler) DetailedHandler(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")

	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		// Degraded still serves traffic; the body carries the detail.
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(status)
}
