package provider

import (
	"context"
	"fmt"

	"github.com/notifykit/fanout/internal/repository"
	"go.uber.org/zap"
)

// Classifier decides, per channel, what a provider failure means. Returning
// nil absorbs the error (the caller treats the channel as skipped, after any
// credential cleanup); returning the error unchanged marks it transient and
// the whole entry gets rescheduled.
type Classifier interface {
	Handle(ctx context.Context, sendErr error, userID, notificationID string) error
}

// PushClassifier holds the fixed set of error codes that permanently
// invalidate a device token. On a match it deletes the token and absorbs the
// error; everything else re-raises for retry.
type PushClassifier struct {
	tokens         repository.TokenRepository
	permanentCodes map[string]struct{}
	logger         *zap.Logger
}

func NewPushClassifier(tokens repository.TokenRepository, logger *zap.Logger) (*PushClassifier, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushClassifier{
		tokens: tokens,
		permanentCodes: map[string]struct{}{
			CodeUnregistered:    {},
			CodeInvalidArgument: {},
		},
		logger: logger,
	}, nil
}

func (c *PushClassifier) Handle(ctx context.Context, sendErr error, userID, notificationID string) error {
	if sendErr == nil {
		return nil
	}

	code := ErrorCode(sendErr)
	_, isPermanentCode := c.permanentCodes[code]
	if !isPermanentCode && !IsPermanent(sendErr) {
		return sendErr
	}

	if err := c.tokens.Delete(ctx, userID); err != nil {
		c.logger.Error("failed to delete invalid push token",
			zap.String("userId", userID),
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
		// Cleanup failure must not mask the original classification: the
		// token stays invalid either way, so the channel is still skipped.
	}

	c.logger.Warn("push token invalidated",
		zap.String("userId", userID),
		zap.String("notificationId", notificationID),
		zap.String("code", code),
	)
	return nil
}

// PassthroughClassifier re-raises permanent errors and transient errors
// alike: channels without a stored credential have nothing to invalidate.
type PassthroughClassifier struct{}

func (PassthroughClassifier) Handle(_ context.Context, sendErr error, _, _ string) error {
	return sendErr
}
