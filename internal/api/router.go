package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
	"blob-battle/internal/observability"
	"blob-battle/internal/room"
)

// RoomService is the part of the room manager the transport uses.
// Keep this minimal so tests can swap in a fake.
type RoomService interface {
	CreateRoom(id string) (room.Info, error)
	DeleteRoom(ctx context.Context, id string) error
	Room(id string) (room.Info, bool)
	Rooms() []room.Info
	Stats() room.Stats

	AddPlayer(ctx context.Context, roomID, playerID, name, color string) (room.JoinResult, error)
	RemovePlayer(ctx context.Context, roomID, playerID string) error
	HandleInput(roomID, playerID string, in game.Input) error
	Acknowledge(roomID, playerID string, tick uint64) error
	Respawn(ctx context.Context, roomID, playerID string) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Rooms:     manager,
//	    RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Rooms is the room manager (required)
	Rooms RoomService

	// Hub serves /ws. Without it the WebSocket route is not mounted.
	Hub *WebSocketHub

	// RateLimiter is an optional pre-configured limiter. If nil one is
	// built from RateLimit, which starts its cleanup goroutine.
	RateLimiter *IPRateLimiter
	RateLimit   config.RateLimitConfig

	// CORSOrigins defaults to localhost on any port.
	CORSOrigins []string

	// AdminToken protects room creation and deletion when set.
	AdminToken string

	Logger *zap.Logger

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	rooms   RoomService
	hub     *WebSocketHub
	limiter *IPRateLimiter
}

// NewRouter constructs the HTTP router with all middleware and routes.
// No network listeners are opened, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if !cfg.DisableLogging {
		r.Use(requestLogger(logger.Named("http")))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = NewIPRateLimiter(cfg.RateLimit)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = config.DefaultServer().CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		rooms:   cfg.Rooms,
		hub:     cfg.Hub,
		limiter: rateLimiter,
	}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleGetStats)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", h.handleListRooms)
			r.Get("/{id}", h.handleGetRoom)

			r.Group(func(r chi.Router) {
				r.Use(AdminAuth(cfg.AdminToken))
				r.Post("/", h.handleCreateRoom)
				r.Delete("/{id}", h.handleDeleteRoom)
			})
		})
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	return r
}

// requestLogger logs each request and records it by route pattern so
// room ids never become metric labels.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			endpoint := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			observability.RecordRequest(r.Method, endpoint, status, elapsed)

			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
