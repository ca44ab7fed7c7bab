// Package server exposes a small read-only status API over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantleap/polyrunner/internal/server/handler"
	"github.com/quantleap/polyrunner/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
	Mode   string // run mode reported by the health endpoint
}

// Deps aggregates the read surfaces the status endpoints project.
type Deps struct {
	Positions      handler.PositionLister
	Governor       handler.RiskView
	Queue          handler.QueueView
	MaxDrawdownPct float64
	MaxOpen        int
}

// Server is the read-only HTTP status API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the status routes and wires the middleware chain.
// The health endpoint bypasses authentication.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	health := handler.NewHealthHandler(cfg.Mode, time.Now().UTC())
	positions := handler.NewPositionHandler(deps.Positions, logger)
	risk := handler.NewRiskHandler(deps.Governor, deps.Positions, deps.MaxDrawdownPct, deps.MaxOpen, logger)
	queue := handler.NewQueueHandler(deps.Queue)

	// Authenticated API routes.
	api := http.NewServeMux()
	api.HandleFunc("GET /api/positions", positions.ListPositions)
	api.HandleFunc("GET /api/risk", risk.GetRisk)
	api.HandleFunc("GET /api/queue", queue.GetQueue)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.Handle("/api/", middleware.KeyAuth(cfg.APIKey)(api))

	h := middleware.RequestLogger(logger)(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("status server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("status server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
