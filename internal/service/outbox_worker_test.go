package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/provider"
	"go.uber.org/zap"
)

func newTestWorker(t *testing.T, outbox *fakeOutboxRepo, notifications *fakeNotificationRepo, dispatcher *DispatchService) *OutboxWorker {
	t.Helper()

	w, err := NewOutboxWorker(outbox, notifications, dispatcher, 10*time.Millisecond, time.Minute, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOutboxWorker() error = %v", err)
	}
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	return w
}

func TestOutboxWorkerSweepProcessesClaimedEntries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	processed := map[string]bool{}
	settled := map[string]bool{}

	entries := []domain.OutboxEntry{
		{ID: "ob-1", NotificationID: "n1", UserID: "u1", Channels: []domain.Channel{domain.ChannelRealtime}, Status: domain.OutboxProcessing},
		{ID: "ob-2", NotificationID: "n1", UserID: "u2", Channels: []domain.Channel{domain.ChannelRealtime}, Status: domain.OutboxProcessing},
	}

	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return entries, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.OutboxEntry, error) {
			for i := range entries {
				if entries[i].ID == id {
					return &entries[i], nil
				}
			}
			return nil, domain.ErrNotFound
		},
		markSentFn: func(ctx context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			settled[id] = true
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			n := validNotification()
			n.ID = id
			return n, nil
		},
	}

	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)
	dispatcher.RegisterProvider(domain.ChannelRealtime, &fakeProvider{
		sendFn: func(ctx context.Context, userID string, n domain.Notification) (*provider.Result, error) {
			mu.Lock()
			defer mu.Unlock()
			processed[userID] = true
			return &provider.Result{Outcome: provider.OutcomeSent}, nil
		},
	}, nil)

	w := newTestWorker(t, outbox, notifications, dispatcher)

	if err := w.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	if !processed["u1"] || !processed["u2"] {
		t.Fatalf("processed users = %v, want both", processed)
	}
	if !settled["ob-1"] || !settled["ob-2"] {
		t.Fatalf("settled entries = %v, want both", settled)
	}
}

func TestOutboxWorkerSweepContinuesPastEntryFailure(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var loaded []string

	entries := []domain.OutboxEntry{
		{ID: "ob-bad", NotificationID: "n-missing", UserID: "u1", Channels: []domain.Channel{domain.ChannelRealtime}, Status: domain.OutboxProcessing},
		{ID: "ob-good", NotificationID: "n-ok", UserID: "u2", Channels: []domain.Channel{domain.ChannelRealtime}, Status: domain.OutboxProcessing},
	}

	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return entries, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.OutboxEntry, error) {
			for i := range entries {
				if entries[i].ID == id {
					return &entries[i], nil
				}
			}
			return nil, domain.ErrNotFound
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			mu.Lock()
			loaded = append(loaded, id)
			mu.Unlock()
			if id == "n-missing" {
				return nil, domain.ErrNotFound
			}
			n := validNotification()
			n.ID = id
			return n, nil
		},
	}

	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)
	dispatcher.RegisterProvider(domain.ChannelRealtime, sendingProvider("m1"), nil)

	w := newTestWorker(t, outbox, notifications, dispatcher)

	if err := w.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded notifications = %v, want both entries attempted", loaded)
	}
}

func TestOutboxWorkerSweepEmptyClaimIsQuiet(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return nil, nil
		},
	}
	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)
	w := newTestWorker(t, outbox, &fakeNotificationRepo{}, dispatcher)

	if err := w.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
}

func TestOutboxWorkerSweepPropagatesClaimError(t *testing.T) {
	t.Parallel()

	claimErr := errors.New("db unavailable")
	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return nil, claimErr
		},
	}
	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)
	w := newTestWorker(t, outbox, &fakeNotificationRepo{}, dispatcher)

	if err := w.sweep(context.Background()); !errors.Is(err, claimErr) {
		t.Fatalf("sweep() error = %v, want %v", err, claimErr)
	}
}

func TestOutboxWorkerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return nil, nil
		},
	}
	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)
	w := newTestWorker(t, outbox, &fakeNotificationRepo{}, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not stop after context cancellation")
	}
}

func TestOutboxWorkerReclaimLoopReturnsStuckEntries(t *testing.T) {
	t.Parallel()

	reclaimed := make(chan time.Time, 1)

	outbox := &fakeOutboxRepo{
		claimDueFn: func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
			return nil, nil
		},
		reclaimStuckFn: func(ctx context.Context, stuckBefore time.Time) (int64, error) {
			select {
			case reclaimed <- stuckBefore:
			default:
			}
			return 1, nil
		},
	}
	dispatcher := newTestDispatcher(t, &fakeDeliveryRepo{}, outbox)

	w, err := NewOutboxWorker(outbox, &fakeNotificationRepo{}, dispatcher, 5*time.Millisecond, 10*time.Millisecond, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOutboxWorker() error = %v", err)
	}
	fixed := time.Unix(1_700_000_000, 0).UTC()
	w.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	select {
	case cutoff := <-reclaimed:
		want := fixed.Add(-10 * time.Millisecond)
		if !cutoff.Equal(want) {
			t.Fatalf("reclaim cutoff = %v, want %v", cutoff, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reclaim sweep never ran")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

type fakeNotificationRepo struct {
	createFn  func(ctx context.Context, n *domain.Notification) error
	getByIDFn func(ctx context.Context, id string) (*domain.Notification, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}
