package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/s3gateway/internal/api/admin"
	apimiddleware "github.com/piwi3910/s3gateway/internal/api/middleware"
	"github.com/piwi3910/s3gateway/internal/api/s3"
	"github.com/piwi3910/s3gateway/internal/config"
	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/health"
	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/kvs/badgerkv"
	"github.com/piwi3910/s3gateway/internal/kvs/memkv"
	"github.com/piwi3910/s3gateway/internal/kvs/natskv"
	"github.com/piwi3910/s3gateway/internal/metrics"
	"github.com/piwi3910/s3gateway/internal/object"
	"github.com/piwi3910/s3gateway/internal/s3action"
	"github.com/piwi3910/s3gateway/internal/shutdown"
)

// Version is the current version of the gateway.
const Version = "0.1.0"

const metricsInterval = 15 * time.Second

// Server is the gateway process: one backend client, the request loops and
// the S3 and admin listeners.
type Server struct {
	cfg *config.Config

	client *kvs.Client
	loops  *eventloop.Group

	healthChecker *health.Checker
	inFlight      *apimiddleware.InFlight

	s3Server    *http.Server
	adminServer *http.Server
}

// New opens the configured backend and builds both listeners.
func New(cfg *config.Config) (*Server, error) {
	engine, err := OpenEngine(cfg)
	if err != nil {
		return nil, err
	}

	metrics.Init(cfg.NodeID, engine.Name())
	log.Info().Str("node_id", cfg.NodeID).Str("engine", engine.Name()).Msg("Engine opened")

	codec, err := object.NewCodec(cfg.Object.Compression)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("failed to create object codec: %w", err)
	}

	policy := object.DefaultPolicy(codec)
	if cfg.Object.CompressionMinSize > 0 {
		policy.MinSize = cfg.Object.CompressionMinSize
	}

	srv := &Server{
		cfg:      cfg,
		client:   kvs.NewClient(engine, kvs.NewAllocator(cfg.Buffers.MaxBytes)),
		loops:    eventloop.NewGroup(cfg.Loops.Count),
		inFlight: apimiddleware.NewInFlight(),
	}

	srv.healthChecker = health.NewChecker(srv.client, srv.loops, log.Logger)

	srv.setupS3Server(s3action.Deps{
		Client:        srv.client,
		Compression:   policy,
		MaxObjectSize: cfg.Object.MaxSize,
		Region:        cfg.Region,
		Owner:         cfg.Owner,
	})
	srv.setupAdminServer()

	return srv, nil
}

// OpenEngine opens the backend selected by cfg.Engine.
func OpenEngine(cfg *config.Config) (kvs.Engine, error) {
	switch cfg.Engine.Backend {
	case config.BackendMemory:
		log.Warn().Msg("Using the in-memory engine, data is lost on restart")

		return memkv.New(memkv.Options{
			Workers:      cfg.Engine.Workers,
			QueueSize:    cfg.Engine.QueueSize,
			MaxValueSize: cfg.Engine.MaxValueSize,
		}), nil
	case config.BackendBadger:
		engine, err := badgerkv.Open(badgerkv.Options{
			Dir:          cfg.Engine.Badger.Dir,
			InMemory:     cfg.Engine.Badger.InMemory,
			SyncWrites:   cfg.Engine.Badger.SyncWrites,
			Workers:      cfg.Engine.Workers,
			QueueSize:    cfg.Engine.QueueSize,
			MaxValueSize: cfg.Engine.MaxValueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger engine: %w", err)
		}

		return engine, nil
	case config.BackendNATS:
		engine, err := natskv.Connect(natskv.Options{
			URL:          cfg.Engine.NATS.URL,
			BucketPrefix: cfg.Engine.NATS.BucketPrefix,
			Replicas:     cfg.Engine.NATS.Replicas,
			Timeout:      cfg.Engine.NATS.Timeout,
			Workers:      cfg.Engine.Workers,
			QueueSize:    cfg.Engine.QueueSize,
			MaxValueSize: cfg.Engine.MaxValueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect nats engine: %w", err)
		}

		return engine, nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

func (s *Server) setupS3Server(deps s3action.Deps) {
	r := chi.NewRouter()

	// Middleware
	r.Use(s.inFlight.Middleware)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.RequestID) // S3 request ID and x-amz-id-2 headers
	r.Use(apimiddleware.RequestLogger(log.Logger))
	r.Use(apimiddleware.MetricsMiddleware)
	r.Use(middleware.Recoverer)

	s3Handler := s3.NewHandler(s.loops, deps, log.Logger)
	s3Handler.RegisterRoutes(r)

	s.s3Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.S3Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) setupAdminServer() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Admin.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check handlers
	healthHandler := health.NewHandler(s.healthChecker)
	r.Get("/health", healthHandler.HealthHandler)
	r.Get("/health/live", healthHandler.LivenessHandler)
	r.Get("/health/ready", healthHandler.ReadinessHandler)

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	adminHandler := admin.NewHandler(s.client, s.loops, Version)
	r.Route("/api/v1/admin", func(r chi.Router) {
		adminHandler.RegisterRoutes(r)
		r.Get("/health/detailed", healthHandler.DetailedHandler)
	})

	s.adminServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.AdminPort),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// S3Handler returns the handler of the S3 listener.
func (s *Server) S3Handler() http.Handler {
	return s.s3Server.Handler
}

// AdminHandler returns the handler of the admin listener.
func (s *Server) AdminHandler() http.Handler {
	return s.adminServer.Handler
}

// Start runs the loops and both listeners until ctx is canceled, then shuts
// the process down in phases.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// The loops outlive ctx so that in-flight requests finish while the
	// listeners drain. The coordinator stops them.
	loops := &loopsComponent{group: s.loops, done: make(chan error, 1)}

	go func() {
		loops.done <- s.loops.Run(context.Background())
	}()

	g.Go(func() error {
		s.runMetricsCollector(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", s.cfg.S3Port).Msg("Starting S3 API server")

		if err := s.s3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("S3 server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", s.cfg.AdminPort).Msg("Starting Admin API server")

		if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server error: %w", err)
		}

		return nil
	})

	s.healthChecker.SetReady(true)

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down servers...")

		coord := shutdown.NewCoordinator(shutdown.ConfigForTimeout(s.cfg.ShutdownTimeout))
		coord.RegisterHook(shutdown.PhaseDraining, func(context.Context) error {
			s.healthChecker.SetReady(false)
			return nil
		})

		return coord.Shutdown(context.Background(), shutdown.ShutdownComponents{
			InFlightTracker: s.inFlight,
			HTTPServers: []shutdown.HTTPServerShutdown{
				namedServer{name: "s3", Server: s.s3Server},
				namedServer{name: "admin", Server: s.adminServer},
			},
			Loops:  loops,
			Engine: s.client,
		})
	})

	return g.Wait()
}

type namedServer struct {
	*http.Server
	name string
}

func (n namedServer) Name() string {
	return n.name
}

// loopsComponent stops the loop group and waits for Run to return.
type loopsComponent struct {
	group *eventloop.Group
	done  chan error
}

func (l *loopsComponent) Name() string {
	return "event_loops"
}

func (l *loopsComponent) Stop() error {
	l.group.Stop()

	err := <-l.done
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, eventloop.ErrLoopStopped) {
		return err
	}

	return nil
}

// runMetricsCollector periodically refreshes the gauges that are otherwise
// only updated on activity.
func (s *Server) runMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	s.collectMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectMetrics()
		}
	}
}

func (s *Server) collectMetrics() {
	for _, l := range s.loops.Loops() {
		metrics.SetLoopQueueDepth(l.Name(), l.Pending())
	}

	metrics.SetBufferBytesInUse(s.client.Allocator().InUse())
}
