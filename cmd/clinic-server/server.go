package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/calendar"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/changefeed"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/internal/platform/websocket"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		AppName:  "clinic-server/" + version,
	}
}

// services holds the domain layer shared by the HTTP server and the CLI.
type services struct {
	identity *identity.Service
	appts    *scheduling.Service
	calendar *calendar.Service
}

func newServices(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, metrics *telemetry.Metrics) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenIssuer(cfg.JWTIssuer, []byte(cfg.JWTSigningKey), cfg.JWTTTL)
	users := identity.NewService(identity.NewUserRepoPG(pool), tokens, logger)

	apptRepo := scheduling.NewAppointmentRepoPG(pool)
	fetcher := scheduling.NewFetcher(apptRepo, logger, metrics)
	appts := scheduling.NewService(apptRepo, fetcher, db.NewTxManager(pool),
		scheduling.CollisionPolicy(cfg.SlotCollisionPolicy), logger)

	return &services{
		identity: users,
		appts:    appts,
		calendar: calendar.NewService(fetcher, loc, logger),
	}, nil
}

// serverDeps are the long-lived pieces newServer does not own.
type serverDeps struct {
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics
	hub     *websocket.Hub
	checks  map[string]db.CheckFunc
}

func newServer(cfg *config.Config, logger zerolog.Logger, d serverDeps) (*echo.Echo, error) {
	svcs, err := newServices(cfg, logger, d.pool, d.metrics)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.TracingMiddleware())
	e.Use(d.metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.pool, d.checks))
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(svcs.identity).RegisterRoutes(apiV1, apiV1)
	scheduling.NewHandler(svcs.appts).RegisterRoutes(apiV1)
	calendar.NewHandler(svcs.calendar).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(d.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)
	telemetry.SetupPropagation()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Change feed
	metrics := telemetry.NewMetrics()
	feed := changefeed.NewFeed(metrics)
	defer feed.Close()
	listener := changefeed.NewListener(pool, cfg.ChangefeedChannel, feed, logger, metrics)
	hub := websocket.NewHub(logger, metrics)
	go listener.Run(ctx)
	go hub.Run(ctx, feed)

	e, err := newServer(cfg, logger, serverDeps{
		pool:    pool,
		metrics: metrics,
		hub:     hub,
		checks:  map[string]db.CheckFunc{"changefeed": listener.Healthy},
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Str("collision_policy", cfg.SlotCollisionPolicy).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
