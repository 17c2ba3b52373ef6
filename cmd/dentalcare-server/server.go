package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/config"
	"github.com/dentalcare/dentalcare/internal/domain/admin"
	"github.com/dentalcare/dentalcare/internal/domain/billing"
	"github.com/dentalcare/dentalcare/internal/domain/clinical"
	"github.com/dentalcare/dentalcare/internal/domain/identity"
	"github.com/dentalcare/dentalcare/internal/domain/messaging"
	"github.com/dentalcare/dentalcare/internal/domain/records"
	"github.com/dentalcare/dentalcare/internal/domain/reminder"
	"github.com/dentalcare/dentalcare/internal/domain/scheduling"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/blobstore"
	"github.com/dentalcare/dentalcare/internal/platform/db"
	"github.com/dentalcare/dentalcare/internal/platform/middleware"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	wsPath          = "/api/v1/ws"
)

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(os.Getenv("ENV"))
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Error reporting
	sentryOn, err := initSentry(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
	}
	defer sentry.Flush(2 * time.Second)

	signingKey, randomKey, err := resolveSigningKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key error")
	}
	if randomKey {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using random key (tokens and signed URLs will not survive restart)")
	}

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	hub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())
	a, err := newApp(cfg, pool, signingKey, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer a.Close()

	e := newServer(cfg, a, hub, db.HealthHandler(pool), sentryOn, logger)

	// Background loops
	if cfg.ReminderInterval > 0 {
		go a.dispatcher.Start(ctx)
	}
	if cfg.ReconcileInterval > 0 {
		go a.scheduling.StartReconciler(ctx, cfg.ReconcileInterval)
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the middleware chain and every
// route group. dbHealth serves /health/db.
func newServer(cfg *config.Config, a *app, hub *websocket.Hub, dbHealth echo.HandlerFunc, sentryOn bool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	// Global middleware. The sentry hub is attached first so Recovery can
	// report through it.
	if sentryOn {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "6M"))
	e.Use(middleware.RequestTimeout(requestTimeout, wsPath))

	// Auth middleware
	e.Use(auth.JWTMiddleware(auth.MiddlewareConfig{
		Verifier:    a.tokens,
		Roles:       a.roles,
		Revocations: a.revocations,
		Skipper:     auth.AuthSkipper,
		Logger:      logger.With().Str("component", "auth").Logger(),
	}))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", dbHealth)

	// Signed object URLs
	blobstore.NewHandler(a.store, a.signer).RegisterRoutes(e)

	// API group
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond > 0 {
		apiV1.Use(middleware.RateLimit(rateLimitCfg))
	}

	identity.NewHandler(a.identity).RegisterRoutes(apiV1)
	admin.NewHandler(a.admin).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	reminder.NewHandler(a.dispatcher).RegisterRoutes(apiV1)

	var recommendMW []echo.MiddlewareFunc
	if cfg.RecommendRatePerMin > 0 {
		recommendMW = append(recommendMW, middleware.RateLimit(middleware.PerMinute(cfg.RecommendRatePerMin)))
	}
	clinical.NewHandler(a.clinical).RegisterRoutes(apiV1, recommendMW...)

	records.NewHandler(a.records).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	messaging.NewHandler(a.messaging).RegisterRoutes(apiV1)
	notification.NewHandler(a.notifications).RegisterRoutes(apiV1)

	// Realtime push
	websocket.NewHandler(hub, cfg.CORSOrigins, logger.With().Str("component", "websocket").Logger()).RegisterRoutes(apiV1)

	return e
}
