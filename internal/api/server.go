package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/heron/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// Transactions and evaluation
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Post("/transactions/{id}/evaluate", handler.EvaluateTransaction)
	router.Post("/evaluate/batch", handler.EvaluateBatch)

	// Alert lifecycle
	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Get("/summary", handler.AlertSummary)
		r.Get("/analytics", handler.AlertAnalytics)
		r.Post("/bulk", handler.BulkUpdateAlerts)
		r.Post("/escalate", handler.BulkEscalateAlerts)
		r.Get("/{id}", handler.GetAlert)
		r.Put("/{id}/status", handler.UpdateAlertStatus)
		r.Post("/{id}/escalate", handler.EscalateAlert)
		r.Post("/{id}/assign", handler.AssignAlert)
	})

	// ISO20022 traces
	router.Get("/traces", handler.ListTraces)
	router.Post("/traces/ingest", handler.IngestTraces)

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
