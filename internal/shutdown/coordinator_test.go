package shutdown_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/metrics"
	"github.com/piwi3910/s3gateway/internal/shutdown"
)

func testConfig() shutdown.Config {
	return shutdown.Config{
		TotalTimeout:  200 * time.Millisecond,
		DrainTimeout:  20 * time.Millisecond,
		HTTPTimeout:   20 * time.Millisecond,
		LoopsTimeout:  20 * time.Millisecond,
		EngineTimeout: 20 * time.Millisecond,
		ForceTimeout:  50 * time.Millisecond,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := shutdown.DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 15*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Second, cfg.LoopsTimeout)
	assert.Equal(t, 5*time.Second, cfg.EngineTimeout)
	assert.Equal(t, 5*time.Second, cfg.ForceTimeout)
}

func TestConfigForTimeout(t *testing.T) {
	assert.Equal(t, shutdown.DefaultConfig(), shutdown.ConfigForTimeout(0))

	cfg := shutdown.ConfigForTimeout(60 * time.Second)
	assert.Equal(t, 60*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.LoopsTimeout)
	assert.Equal(t, 5*time.Second, cfg.ForceTimeout)
}

func TestCoordinatorPhaseTransitions(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())

	assert.Equal(t, shutdown.PhaseNone, coord.Phase())
	assert.False(t, coord.IsShuttingDown())

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{}))

	assert.Equal(t, shutdown.PhaseComplete, coord.Phase())
	assert.True(t, coord.IsShuttingDown())
	assert.Empty(t, coord.Errors())

	select {
	case <-coord.Done():
	default:
		t.Fatal("Done channel was not closed")
	}
}

func TestCoordinatorShutdownOnlyOnce(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())
	engine := &mockCloser{}

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{Engine: engine}))
	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{Engine: engine}))

	assert.Equal(t, int32(1), engine.closeCalls.Load())
}

func TestCoordinatorPhaseOrder(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())

	var (
		mu    sync.Mutex
		order []string
	)

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	coord.RegisterHook(shutdown.PhaseDraining, func(context.Context) error {
		record("not-ready")
		return nil
	})

	components := shutdown.ShutdownComponents{
		InFlightTracker: &mockInFlightTracker{count: 2, onWait: func() { record("drain") }},
		HTTPServers: []shutdown.HTTPServerShutdown{
			&mockHTTPServer{name: "s3", onShutdown: func() { record("s3") }},
		},
		Loops:  &mockStoppable{name: "loops", onStop: func() { record("loops") }},
		Engine: &mockCloser{onClose: func() { record("engine") }},
	}

	require.NoError(t, coord.Shutdown(context.Background(), components))

	assert.Equal(t, []string{"not-ready", "drain", "s3", "loops", "engine"}, order)
	assert.Empty(t, coord.Errors())
}

func TestCoordinatorConcurrentHTTPServerShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPTimeout = 500 * time.Millisecond
	cfg.TotalTimeout = time.Second

	coord := shutdown.NewCoordinator(cfg)

	s3 := &mockHTTPServer{name: "s3", delay: 50 * time.Millisecond}
	admin := &mockHTTPServer{name: "admin", delay: 50 * time.Millisecond}

	start := time.Now()
	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{
		HTTPServers: []shutdown.HTTPServerShutdown{s3, admin},
	}))

	// Sequential shutdown would take at least 100ms.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, s3.shutdownCalled.Load())
	assert.True(t, admin.shutdownCalled.Load())
}

func TestCoordinatorRecordsErrors(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())

	serverErr := errors.New("listener stuck")
	loopsErr := errors.New("loop failed")
	hookErr := errors.New("hook failed")

	coord.RegisterHook(shutdown.PhaseEngine, func(context.Context) error { return hookErr })

	loopErrors := testutil.ToFloat64(metrics.ShutdownErrors.WithLabelValues(string(shutdown.PhaseLoops)))

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{
		HTTPServers: []shutdown.HTTPServerShutdown{&mockHTTPServer{name: "s3", err: serverErr}},
		Loops:       &mockStoppable{name: "loops", err: loopsErr},
	}))

	errs := coord.Errors()
	assert.Len(t, errs, 3)
	assert.Contains(t, errs, serverErr)
	assert.Contains(t, errs, loopsErr)
	assert.Contains(t, errs, hookErr)

	assert.Equal(t, loopErrors+1, testutil.ToFloat64(metrics.ShutdownErrors.WithLabelValues(string(shutdown.PhaseLoops))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ShutdownPhase.WithLabelValues(string(shutdown.PhaseComplete))))
}

func TestCoordinatorTimeoutOnSlowComponent(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())
	engine := &mockCloser{delay: 200 * time.Millisecond}

	start := time.Now()
	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{Engine: engine}))

	assert.Less(t, time.Since(start), 150*time.Millisecond)
	require.Len(t, coord.Errors(), 1)
	assert.ErrorIs(t, coord.Errors()[0], context.DeadlineExceeded)
}

func TestCoordinatorDrainTimeout(t *testing.T) {
	coord := shutdown.NewCoordinator(testConfig())
	tracker := &mockInFlightTracker{count: 1, block: true}

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.ShutdownComponents{InFlightTracker: tracker}))

	require.Len(t, coord.Errors(), 1)
	assert.ErrorIs(t, coord.Errors()[0], context.DeadlineExceeded)
}

// Mock implementations.

type mockHTTPServer struct {
	name           string
	err            error
	delay          time.Duration
	onShutdown     func()
	shutdownCalled atomic.Bool
}

func (m *mockHTTPServer) Name() string {
	return m.name
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	if m.onShutdown != nil {
		m.onShutdown()
	}

	m.shutdownCalled.Store(true)

	return m.err
}

type mockCloser struct {
	err        error
	delay      time.Duration
	onClose    func()
	closeCalls atomic.Int32
}

func (m *mockCloser) Close() error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	if m.onClose != nil {
		m.onClose()
	}

	m.closeCalls.Add(1)

	return m.err
}

type mockStoppable struct {
	name   string
	err    error
	onStop func()
}

func (m *mockStoppable) Name() string {
	return m.name
}

func (m *mockStoppable) Stop() error {
	if m.onStop != nil {
		m.onStop()
	}

	return m.err
}

type mockInFlightTracker struct {
	onWait func()
	count  int64
	block  bool
}

func (m *mockInFlightTracker) InFlightCount() int64 {
	return atomic.LoadInt64(&m.count)
}

func (m *mockInFlightTracker) WaitForDrain(ctx context.Context) error {
	if m.onWait != nil {
		m.onWait()
	}

	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}

	atomic.StoreInt64(&m.count, 0)

	return nil
}
