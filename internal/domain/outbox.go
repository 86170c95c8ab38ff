package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxSent       OutboxStatus = "SENT"
	OutboxFailed     OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxPending, OutboxProcessing, OutboxSent, OutboxFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further processing may touch the entry.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxSent || s == OutboxFailed
}

func ParseOutboxStatusFromString(s string) (OutboxStatus, error) {
	st := OutboxStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid outbox status %q", ErrValidation, s)
	}
	return st, nil
}

// OutboxEntry is one durable fan-out work item: a (notification, user) pair
// carrying the ordered channel set to attempt. PROCESSING acts as a lease:
// at most one worker holds it at a time, claimed via a conditional update.
// Entries are never deleted; terminal rows stay for audit.
type OutboxEntry struct {
	ID             string       `gorm:"type:uuid;primaryKey"`
	NotificationID string       `gorm:"type:uuid;not null"`
	UserID         string       `gorm:"type:varchar(64);not null"`
	Channels       []Channel    `gorm:"serializer:json;not null"`
	Status         OutboxStatus `gorm:"type:varchar(20);not null"`
	Attempts       int          `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time
	LastError      *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e *OutboxEntry) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(e.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	for _, ch := range e.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid outbox status %q", ErrValidation, e.Status)
	}
	return nil
}
