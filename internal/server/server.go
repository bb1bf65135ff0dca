// Package server exposes the HTTP status API and the WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openquant/botcore/internal/server/handler"
	"github.com/openquant/botcore/internal/server/middleware"
	"github.com/openquant/botcore/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers bundles the route handlers wired into the server.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Events    *handler.EventsHandler
	Hub       *ws.Hub
}

// Server wraps http.Server with the API routes and middleware applied.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the route table and returns a Server ready to start.
func New(cfg Config, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/signals", h.Status.ListSignals)
	mux.HandleFunc("GET /api/strategies", h.Status.ListStrategies)
	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", h.Positions.GetPosition)
	mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.Logging(logger.With(slog.String("component", "http")))(root)
	root = corsMiddleware(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start listens and serves until the server is shut down. It returns nil on
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware allows cross-origin requests from the configured origins.
// An empty origin list allows any origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if len(allowed) == 0 || allowed[origin] || allowed["*"] {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
