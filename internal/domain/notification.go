package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Channel represents a delivery transport.
type Channel string

const (
	ChannelPush     Channel = "PUSH"
	ChannelEmail    Channel = "EMAIL"
	ChannelRealtime Channel = "REALTIME"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelRealtime:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// AllChannels returns every delivery channel in dispatch order.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelRealtime}
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// DefaultBodyLimit is the maximum rune count for human-readable push bodies.
const DefaultBodyLimit = 120

// Notification is the immutable fact being fanned out. The dispatch engine
// only reads it; the producing domain owns creation.
type Notification struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	Title      string            `gorm:"type:varchar(255);not null"`
	Content    string            `gorm:"type:text;not null"`
	Type       string            `gorm:"type:varchar(50);not null"`
	Priority   Priority          `gorm:"type:varchar(10);not null"`
	ImageURL   *string           `gorm:"type:text"`
	ActionURL  *string           `gorm:"type:text"`
	ActionData map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if strings.TrimSpace(n.Type) == "" {
		return fmt.Errorf("%w: notification type is required", ErrValidation)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	return nil
}

const ellipsis = "…"

// TruncateText cuts s to at most maxRunes runes. Truncated text has trailing
// whitespace trimmed and a single ellipsis appended; the result never exceeds
// maxRunes and never splits a multi-byte glyph.
func TruncateText(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultBodyLimit
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:maxRunes-1]), " \t\n")
	return cut + ellipsis
}
