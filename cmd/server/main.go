package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/vision/backend/internal/broker"
	"github.com/vision/backend/internal/config"
	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/database"
	"github.com/vision/backend/internal/db"
	"github.com/vision/backend/internal/entries"
	"github.com/vision/backend/internal/hub"
	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/middleware"
	"github.com/vision/backend/internal/results"
	"github.com/vision/backend/internal/router"
	"github.com/vision/backend/internal/sentry"
	"github.com/vision/backend/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	if err := run(cfg); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sentryEnabled, err := sentry.Init(cfg.SentryDSN, cfg.SentryEnvironment, "")
	if err != nil {
		return err
	}
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		return logging.WrapError(err, "failed to connect to database")
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		return logging.WrapError(err, "failed to run migrations")
	}

	// Initialize queries
	queries := db.New(sqlDB)

	store, closeStore, err := newCredentialStore(ctx, cfg, queries)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := entries.LoadCatalog(cfg.EntriesPath)
	if err != nil {
		return logging.WrapError(err, "failed to load entries")
	}

	scores := entries.NewScoreStore(queries, catalog, cfg.MaxScore)
	aggregator := results.NewAggregator(scores, cfg.MaxScore)
	b := broker.New()

	h := hub.New(store, scores, aggregator, b, catalog.IDs(), hub.Options{
		AccessTokenLifetime: cfg.AccessTokenLifetime,
		SweepInterval:       cfg.SessionSweepInterval,
		UnboundTimeout:      cfg.UnboundTimeout,
	})
	go h.Run(ctx)

	auth := services.NewAuthService(cfg.JWTSecret)
	creds := services.NewCredentialService(queries, store, auth, cfg.AccessTokenLifetime, cfg.RefreshTokenLifetime)

	var handler http.Handler = router.New(cfg, router.Deps{
		Credentials: creds,
		Catalog:     catalog,
		Scores:      scores,
		Aggregator:  aggregator,
		Broker:      b,
		Hub:         h,
		RateLimiter: middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute),
	})
	if sentryEnabled {
		handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.Int("entries", len(catalog.IDs())),
			slog.String("credential_backend", cfg.CredentialBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the http.Server.
	if err := h.Shutdown(shutdownCtx); err != nil {
		slog.Warn("hub shutdown incomplete", slog.Any("error", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return logging.WrapError(err, "http shutdown")
	}
	return nil
}

func newCredentialStore(ctx context.Context, cfg *config.Config, queries *db.Queries) (credentials.Store, func(), error) {
	switch cfg.CredentialBackend {
	case config.BackendRedis:
		rs, err := credentials.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, logging.WrapError(err, "failed to configure redis credential store")
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, logging.WrapError(err, "failed to reach redis")
		}
		return rs, func() { rs.Close() }, nil
	case config.BackendSQLite, "":
		return credentials.NewSQLiteStore(queries), func() {}, nil
	default:
		return nil, nil, errors.New("unknown CREDENTIAL_BACKEND " + cfg.CredentialBackend)
	}
}
