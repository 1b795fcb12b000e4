package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/gateway"
	"github.com/fleetpulse/fleetpulse/internal/tracking"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *gateway.Hub
	tracker   *tracking.Service
	redis     *goredis.Client
	db        *pgxpool.Pool
	startTime time.Time
}

// NewServer wires the HTTP layer. db may be nil when persistence is not
// configured; readiness then skips the postgres check.
func NewServer(cfg *config.Config, hub *gateway.Hub, tracker *tracking.Service, redisClient *goredis.Client, db *pgxpool.Pool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		hub:       hub,
		tracker:   tracker,
		redis:     redisClient,
		db:        db,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
