package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/auth"
	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/coordination"
	"github.com/fleetpulse/fleetpulse/internal/database"
	"github.com/fleetpulse/fleetpulse/internal/gateway"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/redis"
	"github.com/fleetpulse/fleetpulse/internal/server"
	"github.com/fleetpulse/fleetpulse/internal/tracking"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func runGracefulShutdown(srv *server.Server, hub *gateway.Hub, cancelCoordinator context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelCoordinator()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	// Dedicated client for the blocking pattern subscriptions
	subClient := setupRedis(context.Background(), cfg)
	defer func() { _ = subClient.Close() }()

	// Persistence is optional: without DATABASE_URL every update is
	// fan-out only.
	var pool *pgxpool.Pool
	var recorder tracking.Recorder
	if cfg.DatabaseURL != "" {
		pool = setupDB(cfg)
		defer pool.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		eventRecorder, err := database.NewEventRecorder(ctx, pool)
		cancel()
		if err != nil {
			slog.Error("Failed to prepare event recorder", "error", err)
			os.Exit(1)
		}
		recorder = eventRecorder
	} else {
		slog.Info("DATABASE_URL not set, location event persistence disabled")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := gateway.NewHub(verifier, clock, cfg.HeartbeatInterval)

	coordinator := coordination.NewCoordinator(redisClient, subClient, hub)
	hub.AttachCoordinator(coordinator)

	coordCtx, cancelCoordinator := context.WithCancel(context.Background())
	go coordinator.Start(coordCtx)

	locations := redis.NewLocationStore(redisClient)
	tracker := tracking.NewService(locations, hub, tracking.NewRedisPublisher(redisClient), subClient, recorder)

	srv := server.NewServer(cfg, hub, tracker, redisClient, pool)

	done := runGracefulShutdown(srv, hub, cancelCoordinator)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
