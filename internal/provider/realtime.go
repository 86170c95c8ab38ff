package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/notifykit/fanout/internal/domain"
	infraredis "github.com/notifykit/fanout/internal/infra/redis"
)

// RealtimePayload is the in-app message pushed to a live connection.
type RealtimePayload struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Priority   string            `json:"priority"`
	ActionURL  string            `json:"actionUrl,omitempty"`
	ActionData map[string]string `json:"actionData,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// RealtimeProvider delivers to users with a live in-app connection. A user
// with no active connection is skipped; this channel never queues for later.
type RealtimeProvider struct {
	broker infraredis.RealtimeBroker
}

func NewRealtimeProvider(broker infraredis.RealtimeBroker) (*RealtimeProvider, error) {
	if broker == nil {
		return nil, fmt.Errorf("realtime broker is required")
	}
	return &RealtimeProvider{broker: broker}, nil
}

func (p *RealtimeProvider) Send(ctx context.Context, userID string, notification domain.Notification) (*Result, error) {
	if p == nil || p.broker == nil {
		return nil, fmt.Errorf("realtime provider is not initialized")
	}

	payload := RealtimePayload{
		ID:        notification.ID,
		Title:     notification.Title,
		Content:   notification.Content,
		Type:      notification.Type,
		Priority:  notification.Priority.String(),
		CreatedAt: notification.CreatedAt,
	}
	if notification.ActionURL != nil {
		payload.ActionURL = *notification.ActionURL
	}
	if len(notification.ActionData) > 0 {
		payload.ActionData = notification.ActionData
	}

	delivered, err := p.broker.DeliverIfConnected(ctx, userID, payload)
	if err != nil {
		return nil, &ProviderError{
			Code:    CodeUnavailable,
			Message: "realtime delivery failed",
			Cause:   err,
		}
	}
	if !delivered {
		return skipped("user has no active connection"), nil
	}

	return sent(""), nil
}
