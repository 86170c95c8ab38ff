package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/observability"
	"github.com/notifykit/fanout/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency      = 1
	defaultPollInterval       = 5 * time.Second
	defaultClaimLimit         = 100
	defaultVisibilityTimeout  = 5 * time.Minute
	reclaimSweepsPerVisTimout = 2
)

// OutboxWorker is the polling scheduler that drives Process. Each sweep
// claims due pending entries via the conditional status update and hands them
// to a bounded worker pool; a slower second loop returns entries stuck in
// PROCESSING past the visibility timeout to PENDING.
type OutboxWorker struct {
	outbox        repository.OutboxRepository
	notifications repository.NotificationRepository
	dispatcher    *DispatchService
	logger        *zap.Logger
	metrics       *observability.Metrics

	pollInterval      time.Duration
	claimLimit        int
	concurrency       int
	visibilityTimeout time.Duration
	now               func() time.Time
}

func NewOutboxWorker(
	outbox repository.OutboxRepository,
	notifications repository.NotificationRepository,
	dispatcher *DispatchService,
	pollInterval time.Duration,
	visibilityTimeout time.Duration,
	concurrency int,
	logger *zap.Logger,
) (*OutboxWorker, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = defaultVisibilityTimeout
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxWorker{
		outbox:            outbox,
		notifications:     notifications,
		dispatcher:        dispatcher,
		logger:            logger,
		pollInterval:      pollInterval,
		claimLimit:        defaultClaimLimit,
		concurrency:       concurrency,
		visibilityTimeout: visibilityTimeout,
		now:               time.Now,
	}, nil
}

func (w *OutboxWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the claim and reclaim loops until context cancellation.
func (w *OutboxWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.runClaimLoop(groupCtx) })
	g.Go(func() error { return w.runReclaimLoop(groupCtx) })

	return g.Wait()
}

func (w *OutboxWorker) runClaimLoop(ctx context.Context) error {
	// Initial sweep so already-due entries do not wait for the first tick.
	if err := w.sweep(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("outbox sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("outbox sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *OutboxWorker) runReclaimLoop(ctx context.Context) error {
	interval := w.visibilityTimeout / reclaimSweepsPerVisTimout
	if interval < w.pollInterval {
		interval = w.pollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := w.now().UTC().Add(-w.visibilityTimeout)
			reclaimed, err := w.outbox.ReclaimStuck(ctx, cutoff)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("failed to reclaim stuck outbox entries", zap.Error(err))
				continue
			}
			if reclaimed > 0 {
				w.logger.Warn("reclaimed stuck outbox entries",
					zap.Int64("count", reclaimed),
					zap.Duration("visibilityTimeout", w.visibilityTimeout),
				)
				if w.metrics != nil {
					w.metrics.AddOutboxReclaimed(reclaimed)
				}
			}
		}
	}
}

func (w *OutboxWorker) sweep(ctx context.Context) error {
	claimed, err := w.outbox.ClaimDue(ctx, w.claimLimit, w.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim due outbox entries: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i := range claimed {
		entry := claimed[i]
		g.Go(func() error {
			if w.metrics != nil {
				w.metrics.IncWorkerInFlight()
				defer w.metrics.DecWorkerInFlight()
			}

			if err := w.processEntry(groupCtx, entry); err != nil {
				w.logger.Error("outbox entry processing failed",
					zap.String("outboxId", entry.ID),
					zap.String("notificationId", entry.NotificationID),
					zap.Error(err),
				)
			}
			// Per-entry failures never stop the sweep; the visibility
			// timeout recovers entries left in PROCESSING.
			return nil
		})
	}

	return g.Wait()
}

func (w *OutboxWorker) processEntry(ctx context.Context, entry domain.OutboxEntry) error {
	notification, err := w.notifications.GetByID(ctx, entry.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to load notification %s: %w", entry.NotificationID, err)
	}

	return w.dispatcher.Process(ctx, entry.ID, DispatchPayload{
		Notification: *notification,
		UserID:       entry.UserID,
		Channels:     entry.Channels,
	})
}
