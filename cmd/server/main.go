package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blob-battle/internal/api"
	"blob-battle/internal/config"
	"blob-battle/internal/logging"
	"blob-battle/internal/observability"
	"blob-battle/internal/room"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "blob-battle:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env from the parent directory, then the current one
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug("no .env file found, using environment variables only")
	}
	logger.Info("blob battle starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("tick_rate", cfg.Rooms.TickRate),
		zap.Int("broadcast_rate", cfg.Rooms.BroadcastRate),
		zap.Float64("map_width", cfg.Simulation.MapWidth),
		zap.Float64("map_height", cfg.Simulation.MapHeight),
		zap.Int("max_rooms", cfg.Rooms.MaxRooms),
		zap.Int("max_players_per_room", cfg.Rooms.MaxPlayersPerRoom),
	)

	// The hub is the manager's transport and the manager is the hub's room
	// service, so the server binds them once both exist.
	hub := api.NewWebSocketHub(cfg.RateLimit, cfg.Server.CORSOrigins, logger)
	manager := room.NewManager(cfg, hub, logger)
	server := api.NewServer(cfg, manager, hub, logger)

	var debug *http.Server
	if cfg.Server.EnableDebug {
		debug = observability.NewDebugServer(cfg.Server.DebugAddr, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if debug != nil {
		g.Go(func() error {
			logger.Info("debug server listening", zap.String("addr", debug.Addr))
			if err := debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if debug != nil {
			if err := debug.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("debug shutdown: %w", err))
			}
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
