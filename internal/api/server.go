// Package api serves estimates, schedules and policy configuration over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/throttle"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. A nil limiter disables throttling and
// a nil tp uses the global tracer provider.
func NewServer(cfg domain.ServerConfig, handler *Handler, limiter *throttle.Limiter, tp trace.TracerProvider) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	if cfg.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(TracingMiddleware(tp))
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(handler.metrics))
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if handler.metrics != nil {
		router.Handle("/metrics", handler.metrics.Handler())
	}

	// Reference data
	router.Get("/variants", handler.ListVariants)
	router.Get("/schedules", handler.ListSchedules)
	router.Get("/schedules/{id}", handler.GetSchedule)

	// Estimates are throttled per client
	router.Group(func(r chi.Router) {
		r.Use(ClientMiddleware)
		r.Use(ThrottleMiddleware(limiter, handler.metrics))
		r.Post("/estimate", handler.Estimate)
	})

	// Scenario management
	router.Get("/scenarios", handler.ListScenarios)
	router.Post("/scenarios", handler.CreateScenario)
	router.Get("/scenarios/{id}", handler.GetScenario)
	router.Delete("/scenarios/{id}", handler.DeleteScenario)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
