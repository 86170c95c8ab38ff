package repository

import (
	"time"

	"github.com/notifykit/fanout/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	Title      string            `gorm:"type:varchar(255);not null"`
	Content    string            `gorm:"type:text;not null"`
	Type       string            `gorm:"type:varchar(50);not null"`
	Priority   domain.Priority   `gorm:"type:varchar(10);not null"`
	ImageURL   *string           `gorm:"type:text"`
	ActionURL  *string           `gorm:"type:text"`
	ActionData map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// OutboxModel is the persistence model for outbox_entries.
type OutboxModel struct {
	ID             string              `gorm:"type:uuid;primaryKey"`
	NotificationID string              `gorm:"type:uuid;not null"`
	UserID         string              `gorm:"type:varchar(64);not null"`
	Channels       []domain.Channel    `gorm:"serializer:json;not null"`
	Status         domain.OutboxStatus `gorm:"type:varchar(20);not null"`
	Attempts       int                 `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time
	LastError      *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OutboxModel) TableName() string {
	return "outbox_entries"
}

// DeliveryModel is the persistence model for delivery_records.
type DeliveryModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	NotificationID string                `gorm:"type:uuid;not null;uniqueIndex:idx_delivery_dedupe,priority:1"`
	UserID         string                `gorm:"type:varchar(64);not null;uniqueIndex:idx_delivery_dedupe,priority:2"`
	Channel        domain.Channel        `gorm:"type:varchar(10);not null;uniqueIndex:idx_delivery_dedupe,priority:3"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	SentAt         *time.Time
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeliveryModel) TableName() string {
	return "delivery_records"
}

// PushTokenModel is the persistence model for push_tokens.
type PushTokenModel struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	Token     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (PushTokenModel) TableName() string {
	return "push_tokens"
}

// UserContactModel is the persistence model for user_contacts.
type UserContactModel struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	Email     string `gorm:"type:varchar(255);not null"`
	UpdatedAt time.Time
}

func (UserContactModel) TableName() string {
	return "user_contacts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:         n.ID,
		Title:      n.Title,
		Content:    n.Content,
		Type:       n.Type,
		Priority:   n.Priority,
		ImageURL:   n.ImageURL,
		ActionURL:  n.ActionURL,
		ActionData: n.ActionData,
		CreatedAt:  n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:         m.ID,
		Title:      m.Title,
		Content:    m.Content,
		Type:       m.Type,
		Priority:   m.Priority,
		ImageURL:   m.ImageURL,
		ActionURL:  m.ActionURL,
		ActionData: m.ActionData,
		CreatedAt:  m.CreatedAt,
	}
}

func outboxModelFromDomain(e *domain.OutboxEntry) *OutboxModel {
	if e == nil {
		return nil
	}

	return &OutboxModel{
		ID:             e.ID,
		NotificationID: e.NotificationID,
		UserID:         e.UserID,
		Channels:       e.Channels,
		Status:         e.Status,
		Attempts:       e.Attempts,
		NextAttemptAt:  e.NextAttemptAt,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func outboxModelToDomain(m *OutboxModel) *domain.OutboxEntry {
	if m == nil {
		return nil
	}

	return &domain.OutboxEntry{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		UserID:         m.UserID,
		Channels:       m.Channels,
		Status:         m.Status,
		Attempts:       m.Attempts,
		NextAttemptAt:  m.NextAttemptAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.DeliveryRecord) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		UserID:         d.UserID,
		Channel:        d.Channel,
		Status:         d.Status,
		SentAt:         d.SentAt,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		UserID:         m.UserID,
		Channel:        m.Channel,
		Status:         m.Status,
		SentAt:         m.SentAt,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
