package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/internal/leaderboard"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
	"github.com/ducminhle1904/ea-stress/internal/state"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// WorkflowReader reads stored workflows
type WorkflowReader interface {
	Load(id string) (workflow.State, error)
	List() ([]state.Summary, error)
}

// Resumer applies a resume payload to a stored workflow without running it
type Resumer interface {
	ApplyResume(id string, p workflow.Payload) (workflow.State, error)
}

// Ranking returns the best completed runs
type Ranking interface {
	Top(ctx context.Context, n int) ([]leaderboard.Entry, error)
}

// Config holds server configuration. Leaderboard and Health are optional.
type Config struct {
	Addr        string
	Log         zerolog.Logger
	Workflows   WorkflowReader
	Resumer     Resumer
	Leaderboard Ranking
	Health      *monitoring.HealthChecker
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	workflows   WorkflowReader
	resumer     Resumer
	leaderboard Ranking
	health      *monitoring.HealthChecker
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		workflows:   cfg.Workflows,
		resumer:     cfg.Resumer,
		leaderboard: cfg.Leaderboard,
		health:      cfg.Health,
	}
	if s.health == nil {
		s.health = monitoring.NewHealthChecker()
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health.ServeHTTP)
	s.router.Method(http.MethodGet, "/metrics", monitoring.NewMetricsHandler())

	s.router.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.handleListWorkflows)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Post("/{id}/resume/{kind}", s.handleResume)
	})

	s.router.Get("/leaderboard", s.handleLeaderboard)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
