package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifykit/fanout/internal/config"
	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/infra/postgresql"
	"github.com/notifykit/fanout/internal/infra/postgresql/migrations"
	infraredis "github.com/notifykit/fanout/internal/infra/redis"
	"github.com/notifykit/fanout/internal/observability"
	"github.com/notifykit/fanout/internal/provider"
	"github.com/notifykit/fanout/internal/repository"
	"github.com/notifykit/fanout/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

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
		logger.Fatal("worker exited with error", zap.Error(err))
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

	dispatcher, err := service.NewDispatchService(deliveries, outbox, cfg.BackoffBase(), cfg.MaxAttempts, logger)
	if err != nil {
		return fmt.Errorf("dispatch service init failed: %w", err)
	}

	metrics := observability.NewMetrics()
	dispatcher.SetMetrics(metrics)

	if err := registerProviders(cfg, dispatcher, rdb, tokens, contacts, logger); err != nil {
		return err
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}
	dispatcher.SetRateLimiter(limiter)

	worker, err := service.NewOutboxWorker(
		outbox,
		notifications,
		dispatcher,
		cfg.PollInterval(),
		cfg.VisibilityTimeout(),
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("outbox worker init failed: %w", err)
	}
	worker.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux(metrics),
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("outbox worker started",
			zap.Duration("pollInterval", cfg.PollInterval()),
			zap.Duration("visibilityTimeout", cfg.VisibilityTimeout()),
			zap.Int("concurrency", cfg.WorkerConcurrency),
		)
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("worker stopped")
	return nil
}

func registerProviders(
	cfg *config.Config,
	dispatcher *service.DispatchService,
	rdb *goredis.Client,
	tokens repository.TokenRepository,
	contacts repository.ContactRepository,
	logger *zap.Logger,
) error {
	push, err := provider.NewPushProvider(provider.PushConfig{
		APIURL: cfg.PushAPIURL,
		APIKey: cfg.PushAPIKey,
	}, tokens, logger)
	if err != nil {
		return fmt.Errorf("push provider init failed: %w", err)
	}
	pushClassifier, err := provider.NewPushClassifier(tokens, logger)
	if err != nil {
		return fmt.Errorf("push classifier init failed: %w", err)
	}
	dispatcher.RegisterProvider(domain.ChannelPush, push, pushClassifier)

	email, err := provider.NewEmailProvider(provider.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, contacts, logger)
	if err != nil {
		return fmt.Errorf("email provider init failed: %w", err)
	}
	dispatcher.RegisterProvider(domain.ChannelEmail, email, nil)

	broker, err := infraredis.NewRedisRealtimeBroker(rdb)
	if err != nil {
		return fmt.Errorf("realtime broker init failed: %w", err)
	}
	realtime, err := provider.NewRealtimeProvider(broker)
	if err != nil {
		return fmt.Errorf("realtime provider init failed: %w", err)
	}
	dispatcher.RegisterProvider(domain.ChannelRealtime, realtime, nil)

	return nil
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
