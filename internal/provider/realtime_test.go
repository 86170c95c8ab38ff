package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/notifykit/fanout/internal/domain"
)

type fakeRealtimeBroker struct {
	deliverFn func(ctx context.Context, userID string, payload any) (bool, error)
}

func (f *fakeRealtimeBroker) DeliverIfConnected(ctx context.Context, userID string, payload any) (bool, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, userID, payload)
	}
	return false, nil
}

func TestRealtimeProviderSendConnected(t *testing.T) {
	t.Parallel()

	actionURL := "https://app.example.com/orders/42"
	var gotPayload RealtimePayload

	broker := &fakeRealtimeBroker{
		deliverFn: func(ctx context.Context, userID string, payload any) (bool, error) {
			gotPayload = payload.(RealtimePayload)
			return true, nil
		},
	}

	p, err := NewRealtimeProvider(broker)
	if err != nil {
		t.Fatalf("NewRealtimeProvider() error = %v", err)
	}

	result, err := p.Send(context.Background(), "u1", domain.Notification{
		ID:        "n-1",
		Title:     "Order shipped",
		Content:   "On the way",
		Type:      "ORDER_SHIPPED",
		Priority:  domain.PriorityHigh,
		ActionURL: &actionURL,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Outcome != OutcomeSent {
		t.Fatalf("outcome = %s, want SENT", result.Outcome)
	}

	if gotPayload.ID != "n-1" || gotPayload.Priority != "HIGH" {
		t.Fatalf("payload = %+v", gotPayload)
	}
	if gotPayload.ActionURL != actionURL {
		t.Fatalf("payload action url = %q", gotPayload.ActionURL)
	}
}

func TestRealtimeProviderSendNotConnectedSkips(t *testing.T) {
	t.Parallel()

	p, err := NewRealtimeProvider(&fakeRealtimeBroker{})
	if err != nil {
		t.Fatalf("NewRealtimeProvider() error = %v", err)
	}

	result, err := p.Send(context.Background(), "u1", domain.Notification{ID: "n-1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want SKIPPED", result.Outcome)
	}
	if result.Reason != "user has no active connection" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestRealtimeProviderSendBrokerError(t *testing.T) {
	t.Parallel()

	broker := &fakeRealtimeBroker{
		deliverFn: func(ctx context.Context, userID string, payload any) (bool, error) {
			return false, errors.New("redis down")
		},
	}

	p, err := NewRealtimeProvider(broker)
	if err != nil {
		t.Fatalf("NewRealtimeProvider() error = %v", err)
	}

	_, sendErr := p.Send(context.Background(), "u1", domain.Notification{ID: "n-1"})
	if sendErr == nil {
		t.Fatal("Send() should error")
	}

	var providerErr *ProviderError
	if !errors.As(sendErr, &providerErr) {
		t.Fatalf("Send() error = %T, want *ProviderError", sendErr)
	}
	if providerErr.Code != CodeUnavailable {
		t.Fatalf("code = %s, want UNAVAILABLE", providerErr.Code)
	}
	if providerErr.Permanent {
		t.Fatal("broker failures must stay retryable")
	}
}
