package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the outcome of one (notification, user, channel)
// delivery target.
type DeliveryStatus string

const (
	DeliveryQueued  DeliveryStatus = "QUEUED"
	DeliverySent    DeliveryStatus = "SENT"
	DeliverySkipped DeliveryStatus = "SKIPPED"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryQueued, DeliverySent, DeliverySkipped, DeliveryFailed:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryRecord tracks one delivery target. The (NotificationID, UserID,
// Channel) triple is the dedupe key and is unique in storage. SENT is
// terminal: a record never transitions backward from it.
type DeliveryRecord struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	NotificationID string         `gorm:"type:uuid;not null;uniqueIndex:idx_delivery_dedupe,priority:1"`
	UserID         string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_delivery_dedupe,priority:2"`
	Channel        Channel        `gorm:"type:varchar(10);not null;uniqueIndex:idx_delivery_dedupe,priority:3"`
	Status         DeliveryStatus `gorm:"type:varchar(10);not null"`
	SentAt         *time.Time
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
