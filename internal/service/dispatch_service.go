package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/observability"
	"github.com/notifykit/fanout/internal/provider"
	"github.com/notifykit/fanout/internal/ratelimit"
	"github.com/notifykit/fanout/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts   = 5
	minBackoffDelay      = 60 * time.Second
	maxBackoffDelay      = time.Hour
	maxBackoffJitterMill = 500
)

// DispatchPayload is the work-item payload handed to Process by whichever
// scheduler claimed the outbox entry.
type DispatchPayload struct {
	Notification domain.Notification
	UserID       string
	Channels     []domain.Channel
}

// DispatchService fans one notification out to (user, channel) targets.
// Enqueue is producer-facing and performs durable writes only; Process is
// consumer-facing and drains one claimed outbox entry across its channels.
type DispatchService struct {
	deliveries  repository.DeliveryRepository
	outbox      repository.OutboxRepository
	providers   map[domain.Channel]provider.Provider
	classifiers map[domain.Channel]provider.Classifier
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics

	backoffBase time.Duration
	maxAttempts int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewDispatchService(
	deliveries repository.DeliveryRepository,
	outbox repository.OutboxRepository,
	backoffBase time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) (*DispatchService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if backoffBase < minBackoffDelay {
		backoffBase = minBackoffDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		deliveries:  deliveries,
		outbox:      outbox,
		providers:   make(map[domain.Channel]provider.Provider),
		classifiers: make(map[domain.Channel]provider.Classifier),
		logger:      logger,
		backoffBase: backoffBase,
		maxAttempts: maxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

// RegisterProvider wires one channel to its transport. Channels with no
// registered provider are skipped silently during Process.
func (s *DispatchService) RegisterProvider(channel domain.Channel, p provider.Provider, c provider.Classifier) {
	if s == nil || !channel.IsValid() || p == nil {
		return
	}
	s.providers[channel] = p
	if c == nil {
		c = provider.PassthroughClassifier{}
	}
	s.classifiers[channel] = c
}

func (s *DispatchService) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if s == nil {
		return
	}
	s.rateLimiter = limiter
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue records the fan-out durably: per user it upserts one QUEUED
// delivery row per channel, then inserts one PENDING outbox entry. Delivery
// rows always commit before the outbox entry becomes visible, so a claimed
// entry never finds a channel without its row. Duplicate enqueue of the same
// (notification, user) pair is a re-delivery request: the delivery upsert is
// a no-op and a fresh outbox entry is created. No network I/O happens here.
func (s *DispatchService) Enqueue(ctx context.Context, notification *domain.Notification, userIDs []string, channels []domain.Channel) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if err := notification.Validate(); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: at least one target user is required", domain.ErrValidation)
	}

	if len(channels) == 0 {
		channels = domain.AllChannels()
	}
	for _, ch := range channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, ch)
		}
	}

	now := s.now().UTC()
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return fmt.Errorf("%w: user id must not be empty", domain.ErrValidation)
		}

		records := make([]*domain.DeliveryRecord, 0, len(channels))
		for _, ch := range channels {
			records = append(records, &domain.DeliveryRecord{
				ID:             uuid.NewString(),
				NotificationID: notification.ID,
				UserID:         userID,
				Channel:        ch,
				Status:         domain.DeliveryQueued,
				CreatedAt:      now,
			})
		}
		if err := s.deliveries.UpsertQueued(ctx, records); err != nil {
			return fmt.Errorf("failed to upsert delivery records: %w", err)
		}

		entry := &domain.OutboxEntry{
			ID:             uuid.NewString(),
			NotificationID: notification.ID,
			UserID:         userID,
			Channels:       channels,
			Status:         domain.OutboxPending,
			Attempts:       0,
			CreatedAt:      now,
		}
		if err := s.outbox.Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to create outbox entry: %w", err)
		}

		s.logger.Debug("fan-out target enqueued",
			zap.String("notificationId", notification.ID),
			zap.String("userId", userID),
			zap.String("outboxId", entry.ID),
			zap.Int("channels", len(channels)),
		)
	}

	return nil
}

// Process drains one claimed outbox entry across its channels, in request
// order. It assumes the caller holds the PROCESSING lease. Channel sends are
// sequential so a partial failure leaves an inspectable boundary; an
// unabsorbed provider error aborts the remaining channels and reschedules the
// whole entry with backoff, or fails it terminally past the attempt budget.
func (s *DispatchService) Process(ctx context.Context, outboxID string, payload DispatchPayload) error {
	if ctx == nil {
		ctx = context.Background()
	}

	entry, err := s.outbox.GetByID(ctx, outboxID)
	if err != nil {
		return fmt.Errorf("failed to load outbox entry: %w", err)
	}
	// Re-processing a settled entry is a no-op.
	if entry.Status.IsTerminal() {
		return nil
	}

	start := s.now()
	channels := payload.Channels
	if len(channels) == 0 {
		channels = entry.Channels
	}

	var procErr error
	for _, ch := range channels {
		prov, ok := s.providers[ch]
		if !ok {
			continue
		}

		procErr = s.processChannel(ctx, prov, ch, entry, payload)
		if procErr != nil {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveProcessDuration(s.now().Sub(start))
	}

	if procErr == nil {
		if err := s.outbox.MarkSent(ctx, entry.ID); err != nil {
			return fmt.Errorf("failed to settle outbox entry: %w", err)
		}
		return nil
	}

	return s.reschedule(ctx, entry, channels, payload.UserID, procErr)
}

func (s *DispatchService) processChannel(
	ctx context.Context,
	prov provider.Provider,
	ch domain.Channel,
	entry *domain.OutboxEntry,
	payload DispatchPayload,
) error {
	logger := s.logger.With(
		zap.String("outboxId", entry.ID),
		zap.String("notificationId", entry.NotificationID),
		zap.String("userId", payload.UserID),
		zap.String("channel", ch.String()),
	)

	// Retried entries re-enter this loop; channels that already went out in
	// an aborted earlier attempt must not be sent twice.
	status, err := s.deliveries.GetStatus(ctx, entry.NotificationID, payload.UserID, ch)
	switch {
	case err == nil && status == domain.DeliverySent:
		logger.Debug("channel already sent in earlier attempt, skipping")
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		// Avoid failing the whole entry over a status read; the send itself
		// decides the outcome.
		logger.Warn("failed to load delivery status before send", zap.Error(err))
	}

	channelName := strings.ToLower(ch.String())
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	result, sendErr := prov.Send(ctx, payload.UserID, payload.Notification)
	if sendErr != nil {
		classifier, ok := s.classifiers[ch]
		if !ok {
			classifier = provider.PassthroughClassifier{}
		}
		if handled := classifier.Handle(ctx, sendErr, payload.UserID, entry.NotificationID); handled != nil {
			return handled
		}

		// Classifier absorbed the failure: the credential is gone, and the
		// channel settles as skipped.
		if err := s.deliveries.MarkSkipped(ctx, entry.NotificationID, payload.UserID, ch, sendErr.Error()); err != nil {
			return fmt.Errorf("failed to mark delivery skipped: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncDeliverySkipped(channelName, "permanent_error")
		}
		logger.Warn("channel skipped after permanent provider error", zap.Error(sendErr))
		return nil
	}

	switch result.Outcome {
	case provider.OutcomeSent:
		if err := s.deliveries.MarkSent(ctx, entry.NotificationID, payload.UserID, ch, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark delivery sent: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncDeliverySent(channelName)
		}
		logger.Debug("channel delivered", zap.String("providerMessageId", result.MessageID))
	default:
		if err := s.deliveries.MarkSkipped(ctx, entry.NotificationID, payload.UserID, ch, result.Reason); err != nil {
			return fmt.Errorf("failed to mark delivery skipped: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncDeliverySkipped(channelName, "not_applicable")
		}
		logger.Debug("channel skipped", zap.String("reason", result.Reason))
	}

	return nil
}

// reschedule handles an aborted attempt: back to PENDING with backoff while
// the attempt budget lasts, terminally FAILED once it is spent.
func (s *DispatchService) reschedule(ctx context.Context, entry *domain.OutboxEntry, channels []domain.Channel, userID string, procErr error) error {
	attempt := entry.Attempts + 1

	if attempt >= s.maxAttempts {
		if err := s.outbox.MarkFailed(ctx, entry.ID, procErr.Error()); err != nil {
			return fmt.Errorf("failed to mark outbox entry failed: %w", err)
		}
		for _, ch := range channels {
			if err := s.deliveries.MarkFailed(ctx, entry.NotificationID, userID, ch, procErr.Error()); err != nil {
				return fmt.Errorf("failed to mark delivery failed: %w", err)
			}
			if s.metrics != nil {
				s.metrics.IncDeliveryFailed(strings.ToLower(ch.String()))
			}
		}
		if s.metrics != nil {
			s.metrics.IncOutboxFailed()
		}
		s.logger.Error("outbox entry failed terminally",
			zap.String("outboxId", entry.ID),
			zap.String("notificationId", entry.NotificationID),
			zap.String("userId", userID),
			zap.Int("attempts", attempt),
			zap.Error(procErr),
		)
		return nil
	}

	nextAttemptAt := s.now().UTC().Add(s.computeBackoff(attempt))
	if err := s.outbox.Reschedule(ctx, entry.ID, nextAttemptAt, procErr.Error()); err != nil {
		return fmt.Errorf("failed to reschedule outbox entry: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncOutboxRetry()
	}
	s.logger.Warn("outbox entry rescheduled after transient failure",
		zap.String("outboxId", entry.ID),
		zap.String("notificationId", entry.NotificationID),
		zap.String("userId", userID),
		zap.Int("attempt", attempt),
		zap.Time("nextAttemptAt", nextAttemptAt),
		zap.Error(procErr),
	)
	return nil
}

func (s *DispatchService) computeBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := s.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			delay = maxBackoffDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil {
		jitterMillis = s.randIntn(maxBackoffJitterMill + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
