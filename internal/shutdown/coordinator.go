// Package shutdown provides graceful shutdown coordination for the gateway.
//
// The coordinator stops the process in phases:
//
//  1. Draining - Report not ready and wait for in-flight requests
//  2. HTTP Servers - Shutdown the listeners concurrently
//  3. Loops - Stop the event loops and run their queued continuations
//  4. Engine - Close the key-value backend
//
// Each phase has its own timeout so that one stuck component does not hold
// up the rest, and the whole sequence is bounded by TotalTimeout.
package shutdown

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

// Phase represents a shutdown phase.
type Phase string

// Shutdown phases in order of execution.
const (
	PhaseNone           Phase = "none"
	PhaseDraining       Phase = "draining"
	PhaseHTTPServers    Phase = "http_servers"
	PhaseLoops          Phase = "loops"
	PhaseEngine         Phase = "engine"
	PhaseComplete       Phase = "complete"
	PhaseForcedShutdown Phase = "forced_shutdown"
)

// Config holds shutdown configuration.
type Config struct {
	// TotalTimeout is the maximum time allowed for the entire shutdown sequence.
	// Default: 30 seconds
	TotalTimeout time.Duration

	// DrainTimeout is the time to wait for in-flight requests to complete.
	// Default: 15 seconds
	DrainTimeout time.Duration

	// HTTPTimeout is the time to wait for HTTP servers to shutdown.
	// Default: 10 seconds
	HTTPTimeout time.Duration

	// LoopsTimeout is the time to wait for the event loops to drain.
	// Default: 5 seconds
	LoopsTimeout time.Duration

	// EngineTimeout is the time to wait for the engine to close.
	// Default: 5 seconds
	EngineTimeout time.Duration

	// ForceTimeout is the time after TotalTimeout at which shutdown is
	// reported as forced.
	// Default: 5 seconds
	ForceTimeout time.Duration
}

// DefaultConfig returns the default shutdown configuration.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:  30 * time.Second,
		DrainTimeout:  15 * time.Second,
		HTTPTimeout:   10 * time.Second,
		LoopsTimeout:  5 * time.Second,
		EngineTimeout: 5 * time.Second,
		ForceTimeout:  5 * time.Second,
	}
}

// ConfigForTimeout scales the default phase timeouts to fit total.
func ConfigForTimeout(total time.Duration) Config {
	cfg := DefaultConfig()
	if total <= 0 || total == cfg.TotalTimeout {
		return cfg
	}

	scale := func(d time.Duration) time.Duration {
		return time.Duration(float64(d) * float64(total) / float64(cfg.TotalTimeout))
	}

	return Config{
		TotalTimeout:  total,
		DrainTimeout:  scale(cfg.DrainTimeout),
		HTTPTimeout:   scale(cfg.HTTPTimeout),
		LoopsTimeout:  scale(cfg.LoopsTimeout),
		EngineTimeout: scale(cfg.EngineTimeout),
		ForceTimeout:  cfg.ForceTimeout,
	}
}

// Stoppable represents a component with a Stop method.
type Stoppable interface {
	Name() string
	Stop() error
}

// HTTPServerShutdown wraps an HTTP server for shutdown.
type HTTPServerShutdown interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// InFlightTracker tracks in-flight requests.
type InFlightTracker interface {
	// InFlightCount returns the number of in-flight requests
	InFlightCount() int64
	// WaitForDrain waits for all in-flight requests to complete
	WaitForDrain(ctx context.Context) error
}

// ShutdownHook is a function called during shutdown.
type ShutdownHook func(ctx context.Context) error

// ShutdownComponents holds all components that need to be shutdown.
type ShutdownComponents struct {
	// InFlightTracker tracks in-flight requests for draining
	InFlightTracker InFlightTracker

	// HTTPServers are HTTP servers to shutdown gracefully
	HTTPServers []HTTPServerShutdown

	// Loops stops the event loops and waits for them to drain
	Loops Stoppable

	// Engine is the key-value backend
	Engine io.Closer
}

// Coordinator manages graceful shutdown of all server components.
type Coordinator struct {
	started  time.Time
	hooks    map[Phase][]ShutdownHook
	doneCh   chan struct{}
	phase    Phase
	errors   []error
	config   Config
	mu       sync.RWMutex
	shutdown atomic.Bool
}

// NewCoordinator creates a new shutdown coordinator with the given configuration.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		config: cfg,
		phase:  PhaseNone,
		hooks:  make(map[Phase][]ShutdownHook),
		doneCh: make(chan struct{}),
	}
}

// RegisterHook registers a shutdown hook for a specific phase.
func (c *Coordinator) RegisterHook(phase Phase, hook ShutdownHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[phase] = append(c.hooks[phase], hook)
}

// Phase returns the current shutdown phase.
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.phase
}

// IsShuttingDown returns true if shutdown has been initiated.
func (c *Coordinator) IsShuttingDown() bool {
	return c.shutdown.Load()
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Errors returns any errors that occurred during shutdown.
func (c *Coordinator) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]error{}, c.errors...)
}

func (c *Coordinator) setPhase(phase Phase) {
	c.mu.Lock()
	oldPhase := c.phase
	c.phase = phase
	c.mu.Unlock()

	log.Info().
		Str("from_phase", string(oldPhase)).
		Str("to_phase", string(phase)).
		Dur("elapsed", time.Since(c.started)).
		Msg("Shutdown phase transition")

	metrics.SetShutdownPhase(string(phase))
}

func (c *Coordinator) addError(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	phase := c.phase
	c.mu.Unlock()

	metrics.RecordShutdownError(string(phase))
}

func (c *Coordinator) runHooks(ctx context.Context, phase Phase) {
	c.mu.RLock()
	hooks := c.hooks[phase]
	c.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			log.Error().Err(err).Str("phase", string(phase)).Msg("Shutdown hook failed")
			c.addError(err)
		}
	}
}

// Shutdown runs the shutdown sequence once. Later calls return immediately.
func (c *Coordinator) Shutdown(ctx context.Context, components ShutdownComponents) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		log.Warn().Msg("Shutdown already in progress")

		return nil
	}

	c.started = time.Now()
	log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, c.config.TotalTimeout)
	defer cancel()

	go c.watchForceTimeout(shutdownCtx)

	c.executeDrainPhase(shutdownCtx, components)
	c.executeHTTPServersPhase(shutdownCtx, components)
	c.executeLoopsPhase(shutdownCtx, components)
	c.executeEnginePhase(shutdownCtx, components)

	c.setPhase(PhaseComplete)
	close(c.doneCh)

	duration := time.Since(c.started)
	metrics.SetShutdownDuration(duration)

	if errs := c.Errors(); len(errs) > 0 {
		log.Warn().
			Int("error_count", len(errs)).
			Dur("duration", duration).
			Msg("Shutdown completed with errors")
	} else {
		log.Info().
			Dur("duration", duration).
			Msg("Shutdown completed successfully")
	}

	return nil
}

func (c *Coordinator) watchForceTimeout(ctx context.Context) {
	forceDeadline := c.config.TotalTimeout + c.config.ForceTimeout
	timer := time.NewTimer(forceDeadline)

	defer timer.Stop()

	select {
	case <-timer.C:
		c.setPhase(PhaseForcedShutdown)
		log.Warn().
			Dur("timeout", forceDeadline).
			Msg("Force timeout reached, forcing shutdown")
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

func (c *Coordinator) executeDrainPhase(ctx context.Context, components ShutdownComponents) {
	c.setPhase(PhaseDraining)
	c.runHooks(ctx, PhaseDraining)

	if components.InFlightTracker == nil {
		return
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.config.DrainTimeout)
	defer cancel()

	inFlight := components.InFlightTracker.InFlightCount()

	if inFlight > 0 {
		log.Info().Int64("in_flight_requests", inFlight).Msg("Waiting for in-flight requests to complete")

		if err := components.InFlightTracker.WaitForDrain(drainCtx); err != nil {
			log.Warn().
				Err(err).
				Int64("remaining", components.InFlightTracker.InFlightCount()).
				Msg("Drain timeout, proceeding with shutdown")
			c.addError(err)
		}
	}
}

func (c *Coordinator) executeHTTPServersPhase(ctx context.Context, components ShutdownComponents) {
	c.setPhase(PhaseHTTPServers)
	c.runHooks(ctx, PhaseHTTPServers)

	httpCtx, cancel := context.WithTimeout(ctx, c.config.HTTPTimeout)
	defer cancel()

	var wg sync.WaitGroup

	for _, server := range components.HTTPServers {
		wg.Add(1)

		go func(srv HTTPServerShutdown) {
			defer wg.Done()

			if err := srv.Shutdown(httpCtx); err != nil {
				log.Error().Err(err).Str("server", srv.Name()).Msg("Error shutting down HTTP server")
				c.addError(err)
			} else {
				log.Info().Str("server", srv.Name()).Msg("HTTP server shutdown complete")
			}
		}(server)
	}

	wg.Wait()
}

func (c *Coordinator) executeLoopsPhase(ctx context.Context, components ShutdownComponents) {
	c.setPhase(PhaseLoops)
	c.runHooks(ctx, PhaseLoops)

	if components.Loops == nil {
		return
	}

	loopsCtx, cancel := context.WithTimeout(ctx, c.config.LoopsTimeout)
	defer cancel()

	c.stopComponent(loopsCtx, components.Loops)
}

func (c *Coordinator) executeEnginePhase(ctx context.Context, components ShutdownComponents) {
	c.setPhase(PhaseEngine)
	c.runHooks(ctx, PhaseEngine)

	if components.Engine == nil {
		return
	}

	engineCtx, cancel := context.WithTimeout(ctx, c.config.EngineTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- components.Engine.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("Error closing engine")
			c.addError(err)
		} else {
			log.Info().Msg("Engine closed")
		}
	case <-engineCtx.Done():
		log.Warn().Msg("Timeout closing engine")
		c.addError(engineCtx.Err())
	}
}

func (c *Coordinator) stopComponent(ctx context.Context, component Stoppable) {
	done := make(chan error, 1)

	go func() {
		done <- component.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Str("component", component.Name()).Msg("Error stopping component")
			c.addError(err)
		} else {
			log.Debug().Str("component", component.Name()).Msg("Component stopped")
		}
	case <-ctx.Done():
		log.Warn().Str("component", component.Name()).Msg("Timeout stopping component")
		c.addError(ctx.Err())
	}
}
