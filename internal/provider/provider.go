package provider

import (
	"context"

	"github.com/notifykit/fanout/internal/domain"
)

// Outcome is the result of a provider send that did not raise.
type Outcome string

const (
	// OutcomeSent means the transport accepted the message for the user.
	OutcomeSent Outcome = "SENT"
	// OutcomeSkipped means the channel had nothing to do for this user:
	// missing credential, disabled transport, or no live connection.
	OutcomeSkipped Outcome = "SKIPPED"
)

// Result carries the outcome of a send plus transport metadata for audit.
type Result struct {
	Outcome   Outcome
	Reason    string
	MessageID string
}

// Provider delivers one notification to one user over one transport.
// Implementations either complete with a Result or raise a transport error;
// they never report transient application failures through the Result.
type Provider interface {
	Send(ctx context.Context, userID string, notification domain.Notification) (*Result, error)
}

func sent(messageID string) *Result {
	return &Result{Outcome: OutcomeSent, MessageID: messageID}
}

func skipped(reason string) *Result {
	return &Result{Outcome: OutcomeSkipped, Reason: reason}
}
