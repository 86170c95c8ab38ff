package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/transport"
	"go.uber.org/zap"
)

type handlerFakes struct {
	dispatcher    *fakeDispatcher
	notifications *fakeNotificationRepo
	deliveries    *fakeDeliveryRepo
	outbox        *fakeOutboxRepo
	tokens        *fakeTokenRepo
	contacts      *fakeContactRepo
}

func newDispatchTestApp(t *testing.T, f handlerFakes) *fiber.App {
	t.Helper()

	if f.dispatcher == nil {
		f.dispatcher = &fakeDispatcher{}
	}
	if f.notifications == nil {
		f.notifications = &fakeNotificationRepo{}
	}
	if f.deliveries == nil {
		f.deliveries = &fakeDeliveryRepo{}
	}
	if f.outbox == nil {
		f.outbox = &fakeOutboxRepo{}
	}
	if f.tokens == nil {
		f.tokens = &fakeTokenRepo{}
	}
	if f.contacts == nil {
		f.contacts = &fakeContactRepo{}
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	err := RegisterDispatchRoutes(app, f.dispatcher, f.notifications, f.deliveries, f.outbox, f.tokens, f.contacts)
	if err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	return resp, raw
}

func TestDispatchNotificationAccepted(t *testing.T) {
	t.Parallel()

	var created *domain.Notification
	var enqueuedUsers []string
	var enqueuedChannels []domain.Channel
	var order []string

	f := handlerFakes{
		notifications: &fakeNotificationRepo{
			createFn: func(ctx context.Context, n *domain.Notification) error {
				order = append(order, "create")
				created = n
				return nil
			},
		},
		dispatcher: &fakeDispatcher{
			enqueueFn: func(ctx context.Context, n *domain.Notification, userIDs []string, channels []domain.Channel) error {
				order = append(order, "enqueue")
				enqueuedUsers = userIDs
				enqueuedChannels = channels
				return nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	body := `{
		"title": "Order shipped",
		"content": "Your order is on the way",
		"type": "ORDER_SHIPPED",
		"priority": "high",
		"userIds": ["u1", "u2"],
		"channels": ["push", "email"]
	}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/notifications/dispatch", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, raw)
	}

	if len(order) != 2 || order[0] != "create" || order[1] != "enqueue" {
		t.Fatalf("call order = %v, want [create enqueue]", order)
	}
	if created == nil || created.ID == "" {
		t.Fatal("notification should be created with a generated id")
	}
	if created.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %s, want HIGH", created.Priority)
	}
	if len(enqueuedUsers) != 2 {
		t.Fatalf("enqueued users = %v, want 2", enqueuedUsers)
	}
	if len(enqueuedChannels) != 2 || enqueuedChannels[0] != domain.ChannelPush {
		t.Fatalf("enqueued channels = %v", enqueuedChannels)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["notificationId"] != created.ID {
		t.Fatalf("notificationId = %v, want %s", parsed["notificationId"], created.ID)
	}
	if parsed["userCount"] != float64(2) {
		t.Fatalf("userCount = %v, want 2", parsed["userCount"])
	}
}

func TestDispatchNotificationDefaultsChannels(t *testing.T) {
	t.Parallel()

	var enqueuedChannels []domain.Channel
	f := handlerFakes{
		dispatcher: &fakeDispatcher{
			enqueueFn: func(ctx context.Context, n *domain.Notification, userIDs []string, channels []domain.Channel) error {
				enqueuedChannels = channels
				return nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	body := `{"title":"t","content":"c","type":"GENERIC","priority":"normal","userIds":["u1"]}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/notifications/dispatch", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, raw)
	}
	if len(enqueuedChannels) != 0 {
		t.Fatalf("channels = %v, want empty so the dispatcher applies the default set", enqueuedChannels)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got := parsed["channels"].([]any); len(got) != len(domain.AllChannels()) {
		t.Fatalf("response channels = %v, want all channels", got)
	}
}

func TestDispatchNotificationValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"title":`},
		{name: "bad priority", body: `{"title":"t","content":"c","type":"G","priority":"urgent","userIds":["u1"]}`},
		{name: "bad channel", body: `{"title":"t","content":"c","type":"G","priority":"normal","userIds":["u1"],"channels":["fax"]}`},
		{name: "no users", body: `{"title":"t","content":"c","type":"G","priority":"normal"}`},
		{name: "missing title", body: `{"content":"c","type":"G","priority":"normal","userIds":["u1"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newDispatchTestApp(t, handlerFakes{})
			resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications/dispatch", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestListDeliveries(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	f := handlerFakes{
		deliveries: &fakeDeliveryRepo{
			listFn: func(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error) {
				if notificationID != "n-1" {
					t.Fatalf("notification id = %q, want n-1", notificationID)
				}
				return []domain.DeliveryRecord{
					{NotificationID: "n-1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.DeliverySent, SentAt: &sentAt},
					{NotificationID: "n-1", UserID: "u1", Channel: domain.ChannelEmail, Status: domain.DeliverySkipped},
				}, nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/notifications/n-1/deliveries", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}

	var parsed struct {
		Data []deliveryResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(parsed.Data))
	}
	if parsed.Data[0].Status != "SENT" || parsed.Data[1].Status != "SKIPPED" {
		t.Fatalf("statuses = %s, %s", parsed.Data[0].Status, parsed.Data[1].Status)
	}
}

func TestGetOutboxEntryNotFound(t *testing.T) {
	t.Parallel()

	f := handlerFakes{
		outbox: &fakeOutboxRepo{
			getByIDFn: func(ctx context.Context, id string) (*domain.OutboxEntry, error) {
				return nil, domain.ErrNotFound
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/outbox/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetOutboxEntry(t *testing.T) {
	t.Parallel()

	f := handlerFakes{
		outbox: &fakeOutboxRepo{
			getByIDFn: func(ctx context.Context, id string) (*domain.OutboxEntry, error) {
				return &domain.OutboxEntry{
					ID:             id,
					NotificationID: "n-1",
					UserID:         "u1",
					Channels:       []domain.Channel{domain.ChannelPush},
					Status:         domain.OutboxPending,
					Attempts:       2,
				}, nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/outbox/ob-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var parsed outboxResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.ID != "ob-1" || parsed.Status != "PENDING" || parsed.Attempts != 2 {
		t.Fatalf("response = %+v", parsed)
	}
}

func TestSavePushToken(t *testing.T) {
	t.Parallel()

	var saved *domain.PushToken
	f := handlerFakes{
		tokens: &fakeTokenRepo{
			saveFn: func(ctx context.Context, token *domain.PushToken) error {
				saved = token
				return nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, _ := performRequest(t, app, http.MethodPut, "/v1/users/u1/push-token", `{"token":"device-token-abc"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if saved == nil || saved.UserID != "u1" || saved.Token != "device-token-abc" {
		t.Fatalf("saved = %+v", saved)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/users/u1/push-token", `{"token":"  "}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for blank token", resp.StatusCode)
	}
}

func TestDeletePushToken(t *testing.T) {
	t.Parallel()

	var deleted string
	f := handlerFakes{
		tokens: &fakeTokenRepo{
			deleteFn: func(ctx context.Context, userID string) error {
				deleted = userID
				return nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, _ := performRequest(t, app, http.MethodDelete, "/v1/users/u1/push-token", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if deleted != "u1" {
		t.Fatalf("deleted user = %q, want u1", deleted)
	}
}

func TestSaveContact(t *testing.T) {
	t.Parallel()

	var saved *domain.UserContact
	f := handlerFakes{
		contacts: &fakeContactRepo{
			saveFn: func(ctx context.Context, contact *domain.UserContact) error {
				saved = contact
				return nil
			},
		},
	}
	app := newDispatchTestApp(t, f)

	resp, _ := performRequest(t, app, http.MethodPut, "/v1/users/u1/contact", `{"email":"user@example.com"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if saved == nil || saved.Email != "user@example.com" {
		t.Fatalf("saved = %+v", saved)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/users/u1/contact", `{"email":"not-an-email"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid email", resp.StatusCode)
	}
}

type fakeDispatcher struct {
	enqueueFn func(ctx context.Context, notification *domain.Notification, userIDs []string, channels []domain.Channel) error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, notification *domain.Notification, userIDs []string, channels []domain.Channel) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, notification, userIDs, channels)
	}
	return nil
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

type fakeDeliveryRepo struct {
	upsertQueuedFn func(ctx context.Context, records []*domain.DeliveryRecord) error
	markSentFn     func(ctx context.Context, notificationID, userID string, channel domain.Channel, sentAt time.Time) error
	markSkippedFn  func(ctx context.Context, notificationID, userID string, channel domain.Channel, reason string) error
	markFailedFn   func(ctx context.Context, notificationID, userID string, channel domain.Channel, errMsg string) error
	getStatusFn    func(ctx context.Context, notificationID, userID string, channel domain.Channel) (domain.DeliveryStatus, error)
	listFn         func(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error)
}

func (f *fakeDeliveryRepo) UpsertQueued(ctx context.Context, records []*domain.DeliveryRecord) error {
	if f.upsertQueuedFn != nil {
		return f.upsertQueuedFn(ctx, records)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkSent(ctx context.Context, notificationID, userID string, channel domain.Channel, sentAt time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, notificationID, userID, channel, sentAt)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkSkipped(ctx context.Context, notificationID, userID string, channel domain.Channel, reason string) error {
	if f.markSkippedFn != nil {
		return f.markSkippedFn(ctx, notificationID, userID, channel, reason)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, notificationID, userID string, channel domain.Channel, errMsg string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, notificationID, userID, channel, errMsg)
	}
	return nil
}

func (f *fakeDeliveryRepo) GetStatus(ctx context.Context, notificationID, userID string, channel domain.Channel) (domain.DeliveryStatus, error) {
	if f.getStatusFn != nil {
		return f.getStatusFn(ctx, notificationID, userID, channel)
	}
	return domain.DeliveryQueued, nil
}

func (f *fakeDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error) {
	if f.listFn != nil {
		return f.listFn(ctx, notificationID)
	}
	return nil, nil
}

type fakeOutboxRepo struct {
	createFn       func(ctx context.Context, e *domain.OutboxEntry) error
	getByIDFn      func(ctx context.Context, id string) (*domain.OutboxEntry, error)
	claimFn        func(ctx context.Context, id string, now time.Time) (*domain.OutboxEntry, error)
	claimDueFn     func(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error)
	markSentFn     func(ctx context.Context, id string) error
	rescheduleFn   func(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	markFailedFn   func(ctx context.Context, id string, lastError string) error
	reclaimStuckFn func(ctx context.Context, stuckBefore time.Time) (int64, error)
}

func (f *fakeOutboxRepo) Create(ctx context.Context, e *domain.OutboxEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	return nil
}

func (f *fakeOutboxRepo) GetByID(ctx context.Context, id string) (*domain.OutboxEntry, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeOutboxRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.OutboxEntry, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id, now)
	}
	return nil, nil
}

func (f *fakeOutboxRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
	if f.claimDueFn != nil {
		return f.claimDueFn(ctx, limit, now)
	}
	return nil, nil
}

func (f *fakeOutboxRepo) MarkSent(ctx context.Context, id string) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id)
	}
	return nil
}

func (f *fakeOutboxRepo) Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	if f.rescheduleFn != nil {
		return f.rescheduleFn(ctx, id, nextAttemptAt, lastError)
	}
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, lastError)
	}
	return nil
}

func (f *fakeOutboxRepo) ReclaimStuck(ctx context.Context, stuckBefore time.Time) (int64, error) {
	if f.reclaimStuckFn != nil {
		return f.reclaimStuckFn(ctx, stuckBefore)
	}
	return 0, nil
}

type fakeTokenRepo struct {
	getFn    func(ctx context.Context, userID string) (*domain.PushToken, error)
	saveFn   func(ctx context.Context, token *domain.PushToken) error
	deleteFn func(ctx context.Context, userID string) error
}

func (f *fakeTokenRepo) Get(ctx context.Context, userID string) (*domain.PushToken, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTokenRepo) Save(ctx context.Context, token *domain.PushToken) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, token)
	}
	return nil
}

func (f *fakeTokenRepo) Delete(ctx context.Context, userID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, userID)
	}
	return nil
}

type fakeContactRepo struct {
	getEmailFn func(ctx context.Context, userID string) (string, error)
	saveFn     func(ctx context.Context, contact *domain.UserContact) error
}

func (f *fakeContactRepo) GetEmail(ctx context.Context, userID string) (string, error) {
	if f.getEmailFn != nil {
		return f.getEmailFn(ctx, userID)
	}
	return "", domain.ErrNotFound
}

func (f *fakeContactRepo) Save(ctx context.Context, contact *domain.UserContact) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, contact)
	}
	return nil
}
