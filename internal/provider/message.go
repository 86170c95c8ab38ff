package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/notifykit/fanout/internal/domain"
)

// PushMessage is the transport payload for the push channel: a short
// human-readable notification block plus a machine-readable data block and
// platform delivery hints.
type PushMessage struct {
	Token        string            `json:"token"`
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data"`
	Android      AndroidHints      `json:"android"`
	APNS         APNSHints         `json:"apns"`
}

type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type AndroidHints struct {
	Priority    string `json:"priority"`
	Sound       string `json:"sound"`
	ClickAction string `json:"click_action,omitempty"`
}

type APNSHints struct {
	Sound string `json:"sound"`
	Badge int    `json:"badge"`
}

const (
	defaultSound       = "default"
	clickActionOpenURL = "OPEN_ACTION_URL"
)

// BuildPushMessage is a pure transform from a notification to the push
// payload. Bodies longer than bodyLimit runes are truncated with an ellipsis.
func BuildPushMessage(token string, n domain.Notification, bodyLimit int) PushMessage {
	data := map[string]string{
		"notification_id": n.ID,
		"type":            n.Type,
		"priority":        strings.ToLower(n.Priority.String()),
		"created_at":      n.CreatedAt.UTC().Format(time.RFC3339),
	}

	clickAction := ""
	if n.ActionURL != nil && *n.ActionURL != "" {
		data["action_url"] = *n.ActionURL
		clickAction = clickActionOpenURL
	}
	if len(n.ActionData) > 0 {
		if raw, err := json.Marshal(n.ActionData); err == nil {
			data["action_data"] = string(raw)
		}
	}

	msg := PushMessage{
		Token: token,
		Notification: PushNotification{
			Title: n.Title,
			Body:  domain.TruncateText(n.Content, bodyLimit),
		},
		Data: data,
		Android: AndroidHints{
			Priority:    androidPriority(n.Priority),
			Sound:       defaultSound,
			ClickAction: clickAction,
		},
		APNS: APNSHints{
			Sound: defaultSound,
			Badge: 1,
		},
	}

	if n.ImageURL != nil {
		msg.Notification.Image = *n.ImageURL
	}

	return msg
}

func androidPriority(p domain.Priority) string {
	if p == domain.PriorityHigh {
		return "high"
	}
	return "normal"
}
