package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"smsrelay/api/internal/app"
	"smsrelay/api/internal/config"
	"smsrelay/api/internal/live"
	"smsrelay/api/internal/logging"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
	"smsrelay/api/internal/throttle"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, err := store.ParseDialect(cfg.StoreDriver)
	if err != nil {
		return err
	}
	if dialect == store.DialectSQLite {
		dir := filepath.Dir(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		return err
	}
	logger.Info("store ready", "driver", string(dialect))

	var limiter throttle.Limiter = throttle.Disabled{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLimiter, err := throttle.NewRedisLimiter(cfg.RedisURL, throttle.Options{
			MaxAttempts: cfg.LoginMaxAttempts,
			Window:      cfg.LoginWindow,
		})
		if err != nil {
			return err
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		logger.Info("login throttling enabled", "max_attempts", cfg.LoginMaxAttempts, "window", cfg.LoginWindow.String())
	} else {
		logger.Warn("REDIS_URL not set, login throttling disabled")
	}

	sessions := session.NewRegistry(session.Options{
		TTL:           cfg.SessionTTL,
		SweepInterval: cfg.SessionSweepInterval,
		Logger:        logger,
	})
	hub := live.NewHub(live.Options{
		SendBuffer:   cfg.LiveSendBuffer,
		WriteTimeout: cfg.LiveWriteTimeout,
		Logger:       logger,
	})

	service, err := app.NewService(cfg, store.NewSQLStore(db, dialect), sessions, hub, limiter, logger)
	if err != nil {
		return err
	}
	if err := service.Bootstrap(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, hub, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sessions.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("SMS relay listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
