package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows the paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request
	Routes() []string // Routes returns the path patterns this handler serves
}

// Sessions is the sync engine surface the API drives; [tasks.Orchestrator] implements it.
type Sessions interface {
	StartSync(ctx context.Context, group models.SyncGroup, policy models.Policy) (tasks.SessionHandle, error)
	Status(handle tasks.SessionHandle) (models.SessionStatus, error)
	Sessions() []models.SessionStatus
	ApprovePlan(ctx context.Context, handle tasks.SessionHandle) error
	Cancel(handle tasks.SessionHandle) error
	ResolveConflict(ctx context.Context, handle tasks.SessionHandle, fingerprint string, keep bool) error
	FindDuplicates(ctx context.Context, snapshotID string, threshold float64) (*models.Snapshot, []models.DuplicateGroup, error)
}

// Snapshots reads stored snapshots; [store.Store] implements it.
type Snapshots interface {
	ByID(ctx context.Context, id string) (*models.Snapshot, error)
}

// Platforms lists registered adapters; [services.Registry] implements it.
type Platforms interface {
	Available() []models.Platform
}

// Config holds what the API serves besides the engine itself.
type Config struct {
	Version            string
	Groups             []models.SyncGroup
	DefaultPolicy      models.Policy
	DuplicateThreshold float64
}

// Server is the HTTP API for the sync engine.
type Server struct {
	cfg       Config
	router    chi.Router
	sessions  Sessions
	snapshots Snapshots
	platforms Platforms
	gatherer  prometheus.Gatherer
	logger    *log.Logger
}

// Option configures a [Server].
type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithPlatforms reports adapter availability on /health and /api/platforms.
func WithPlatforms(p Platforms) Option {
	return func(s *Server) { s.platforms = p }
}

// New builds the server and its routes.
func New(cfg Config, sessions Sessions, snapshots Snapshots, opts ...Option) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = models.PreferUnion
	}
	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		sessions:  sessions,
		snapshots: snapshots,
		gatherer:  prometheus.DefaultGatherer,
		logger:    shared.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/platforms", s.handlePlatforms)
		r.Get("/groups", s.handleGroups)

		r.Get("/sync", s.handleListSessions)
		r.Post("/sync", s.handleStartSync)
		r.Get("/sync/{id}", s.handleSessionStatus)
		r.Post("/sync/{id}/approve", s.handleApprove)
		r.Post("/sync/{id}/cancel", s.handleCancel)
		r.Post("/sync/{id}/conflicts/{fingerprint}", s.handleResolveConflict)

		r.Get("/snapshots/{id}", s.handleSnapshot)
		r.Get("/snapshots/{id}/duplicates", s.handleDuplicates)
	})
}

// Mount registers every route of h.
func (s *Server) Mount(h Handler) {
	for _, route := range h.Routes() {
		s.router.Handle(route, h)
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

// NewCallbackRouter serves only handlers, for short-lived local callback servers.
func NewCallbackRouter(handlers ...Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, h := range handlers {
		for _, route := range h.Routes() {
			r.Handle(route, h)
		}
	}
	return r
}

// Run serves srv until ctx is done, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
