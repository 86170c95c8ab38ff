package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/notifykit/fanout/internal/config"
	"github.com/notifykit/fanout/internal/handler"
	"github.com/notifykit/fanout/internal/infra/postgresql"
	"github.com/notifykit/fanout/internal/infra/postgresql/migrations"
	infraredis "github.com/notifykit/fanout/internal/infra/redis"
	"github.com/notifykit/fanout/internal/observability"
	"github.com/notifykit/fanout/internal/repository"
	"github.com/notifykit/fanout/internal/service"
	"github.com/notifykit/fanout/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	outbox := repository.NewGormOutboxRepo(db)
	tokens := repository.NewGormTokenRepo(db)
	contacts := repository.NewGormContactRepo(db)

	// The API only enqueues; providers live in the worker.
	dispatcher, err := service.NewDispatchService(deliveries, outbox, cfg.BackoffBase(), cfg.MaxAttempts, logger)
	if err != nil {
		return fmt.Errorf("dispatch service init failed: %w", err)
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:      "fanout-api",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterDispatchRoutes(app, dispatcher, notifications, deliveries, outbox, tokens, contacts); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining requests")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
