// Package server exposes the leaseline store as the REST API the optimistic
// engines consume: JSON data-envelope responses, status-code failures, and
// atomic reorder endpoints, plus a websocket change feed carrying confirmed
// mutations.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/leaseline-dev/leaseline/internal/store"
)

// Config configures a Server.
type Config struct {
	// Store is the backing persistence layer.
	Store store.Store

	// Logger receives request and feed logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics, when non-nil, instruments every request and serves the
	// /metrics endpoint.
	Metrics *Metrics

	// Tracing enables an OpenTelemetry span per request.
	Tracing bool

	// RequestTimeout bounds request handling for the REST routes. The feed
	// route is exempt. Defaults to 30s.
	RequestTimeout time.Duration
}

// Server is the REST API over a store.
type Server struct {
	store   store.Store
	logger  *slog.Logger
	feed    *Feed
	handler http.Handler
}

// New assembles the router. The returned server is ready to mount.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		store:  cfg.Store,
		logger: logger,
		feed:   NewFeed(logger),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.Tracing {
		r.Use(Tracing())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// The feed holds its connection open, so it sits outside the timeout.
	r.Get("/api/feed", s.feed.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))

		r.Route("/api/statuses", func(r chi.Router) {
			r.Get("/", s.listStatuses)
			r.Post("/", s.createStatus)
			r.Put("/reorder", s.reorderStatuses)
			r.Route("/{statusID}", func(r chi.Router) {
				r.Get("/", s.getStatus)
				r.Patch("/", s.updateStatus)
				r.Put("/", s.updateStatus)
				r.Delete("/", s.deleteStatus)
				r.Get("/tasks", s.listTasks)
				r.Post("/tasks", s.createTask)
				r.Put("/tasks/reorder", s.reorderTasks)
			})
		})

		r.Route("/api/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Patch("/", s.updateTask)
			r.Put("/", s.updateTask)
			r.Delete("/", s.deleteTask)
		})
	})

	s.handler = r
	return s
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close shuts down the change feed.
func (s *Server) Close() {
	s.feed.Close()
}
