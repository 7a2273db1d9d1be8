package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"blob-battle/internal/config"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub.
type Server struct {
	router      *chi.Mux
	hub         *WebSocketHub
	rateLimiter *IPRateLimiter
	http        *http.Server
	logger      *zap.Logger
}

// NewServer binds rooms to hub and builds the router. Nothing listens
// until Start is called.
func NewServer(cfg config.AppConfig, rooms RoomService, hub *WebSocketHub, logger *zap.Logger) *Server {
	hub.Bind(rooms)

	s := &Server{
		hub:         hub,
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
		logger:      logger,
	}
	s.router = NewRouter(RouterConfig{
		Rooms:       rooms,
		Hub:         hub,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		AdminToken:  cfg.Server.AdminToken,
		Logger:      logger,
	})
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, disconnects WebSocket clients and
// stops background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	s.rateLimiter.Stop()
	return err
}
