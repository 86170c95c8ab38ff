package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/repository"
)

type Dispatcher interface {
	Enqueue(ctx context.Context, notification *domain.Notification, userIDs []string, channels []domain.Channel) error
}

type DispatchHandler struct {
	dispatcher    Dispatcher
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	outbox        repository.OutboxRepository
	tokens        repository.TokenRepository
	contacts      repository.ContactRepository

	now func() time.Time
}

func NewDispatchHandler(
	dispatcher Dispatcher,
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	outbox repository.OutboxRepository,
	tokens repository.TokenRepository,
	contacts repository.ContactRepository,
) (*DispatchHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}

	return &DispatchHandler{
		dispatcher:    dispatcher,
		notifications: notifications,
		deliveries:    deliveries,
		outbox:        outbox,
		tokens:        tokens,
		contacts:      contacts,
		now:           time.Now,
	}, nil
}

func RegisterDispatchRoutes(
	router fiber.Router,
	dispatcher Dispatcher,
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	outbox repository.OutboxRepository,
	tokens repository.TokenRepository,
	contacts repository.ContactRepository,
) error {
	h, err := NewDispatchHandler(dispatcher, notifications, deliveries, outbox, tokens, contacts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications/dispatch", h.DispatchNotification)
	v1.Get("/notifications/:id/deliveries", h.ListDeliveries)
	v1.Get("/outbox/:id", h.GetOutboxEntry)
	v1.Put("/users/:userId/push-token", h.SavePushToken)
	v1.Delete("/users/:userId/push-token", h.DeletePushToken)
	v1.Put("/users/:userId/contact", h.SaveContact)

	return nil
}

type dispatchRequest struct {
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Priority   string            `json:"priority"`
	ImageURL   *string           `json:"imageUrl,omitempty"`
	ActionURL  *string           `json:"actionUrl,omitempty"`
	ActionData map[string]string `json:"actionData,omitempty"`
	UserIDs    []string          `json:"userIds"`
	Channels   []string          `json:"channels,omitempty"`
}

type dispatchResponse struct {
	NotificationID string   `json:"notificationId"`
	UserCount      int      `json:"userCount"`
	Channels       []string `json:"channels"`
}

type deliveryResponse struct {
	NotificationID string     `json:"notificationId"`
	UserID         string     `json:"userId"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type outboxResponse struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notificationId"`
	UserID         string     `json:"userId"`
	Channels       []string   `json:"channels"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

type contactRequest struct {
	Email string `json:"email"`
}

func (h *DispatchHandler) DispatchNotification(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, channels, err := requestToDispatch(req)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.notifications.Create(c.Context(), &notification); err != nil {
		return toHTTPError(err)
	}

	if err := h.dispatcher.Enqueue(c.Context(), &notification, req.UserIDs, channels); err != nil {
		return toHTTPError(err)
	}

	resolved := channels
	if len(resolved) == 0 {
		resolved = domain.AllChannels()
	}

	return c.Status(fiber.StatusAccepted).JSON(dispatchResponse{
		NotificationID: notification.ID,
		UserCount:      len(req.UserIDs),
		Channels:       channelStrings(resolved),
	})
}

func (h *DispatchHandler) ListDeliveries(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: notification id is required", domain.ErrValidation))
	}

	records, err := h.deliveries.ListByNotification(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]deliveryResponse, 0, len(records))
	for _, r := range records {
		items = append(items, deliveryResponse{
			NotificationID: r.NotificationID,
			UserID:         r.UserID,
			Channel:        r.Channel.String(),
			Status:         r.Status.String(),
			SentAt:         r.SentAt,
			Error:          r.Error,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": items,
	})
}

func (h *DispatchHandler) GetOutboxEntry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entry, err := h.outbox.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(outboxResponse{
		ID:             entry.ID,
		NotificationID: entry.NotificationID,
		UserID:         entry.UserID,
		Channels:       channelStrings(entry.Channels),
		Status:         entry.Status.String(),
		Attempts:       entry.Attempts,
		NextAttemptAt:  entry.NextAttemptAt,
		LastError:      entry.LastError,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	})
}

func (h *DispatchHandler) SavePushToken(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return toHTTPError(fmt.Errorf("%w: user id is required", domain.ErrValidation))
	}

	var req pushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return toHTTPError(fmt.Errorf("%w: token is required", domain.ErrValidation))
	}

	if err := h.tokens.Save(c.Context(), &domain.PushToken{
		UserID:    userID,
		Token:     token,
		UpdatedAt: h.now().UTC(),
	}); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId": userID,
	})
}

func (h *DispatchHandler) DeletePushToken(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return toHTTPError(fmt.Errorf("%w: user id is required", domain.ErrValidation))
	}

	if err := h.tokens.Delete(c.Context(), userID); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *DispatchHandler) SaveContact(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return toHTTPError(fmt.Errorf("%w: user id is required", domain.ErrValidation))
	}

	var req contactRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return toHTTPError(fmt.Errorf("%w: a valid email is required", domain.ErrValidation))
	}

	if err := h.contacts.Save(c.Context(), &domain.UserContact{
		UserID:    userID,
		Email:     email,
		UpdatedAt: h.now().UTC(),
	}); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId": userID,
	})
}

func requestToDispatch(req dispatchRequest) (domain.Notification, []domain.Channel, error) {
	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return domain.Notification{}, nil, err
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		ch, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return domain.Notification{}, nil, err
		}
		channels = append(channels, ch)
	}

	if len(req.UserIDs) == 0 {
		return domain.Notification{}, nil, fmt.Errorf("%w: userIds is required", domain.ErrValidation)
	}

	n := domain.Notification{
		ID:         uuid.NewString(),
		Title:      strings.TrimSpace(req.Title),
		Content:    strings.TrimSpace(req.Content),
		Type:       strings.TrimSpace(req.Type),
		Priority:   priority,
		ImageURL:   req.ImageURL,
		ActionURL:  req.ActionURL,
		ActionData: req.ActionData,
	}
	if err := n.Validate(); err != nil {
		return domain.Notification{}, nil, err
	}

	return n, channels, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.String())
	}
	return out
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
