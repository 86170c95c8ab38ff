package provider

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"sync"

	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/repository"
	"go.uber.org/zap"
)

// SMTPConfig carries the email transport settings. An empty Host disables
// the channel entirely: every send is skipped, never retried.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(c.Host), c.Port)
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailProvider delivers over SMTP. Subject is the notification title, body
// is the content escaped for HTML rendering.
type EmailProvider struct {
	cfg      SMTPConfig
	contacts repository.ContactRepository
	logger   *zap.Logger
	sendMail sendMailFunc
	warnOnce sync.Once
}

func NewEmailProvider(cfg SMTPConfig, contacts repository.ContactRepository, logger *zap.Logger) (*EmailProvider, error) {
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailProvider{
		cfg:      cfg,
		contacts: contacts,
		logger:   logger,
		sendMail: smtp.SendMail,
	}, nil
}

func (p *EmailProvider) Send(ctx context.Context, userID string, notification domain.Notification) (*Result, error) {
	if p == nil || p.contacts == nil {
		return nil, fmt.Errorf("email provider is not initialized")
	}

	if !p.cfg.Enabled() {
		p.warnOnce.Do(func() {
			p.logger.Warn("smtp is not configured, email channel disabled")
		})
		return skipped("smtp not configured"), nil
	}

	email, err := p.contacts.GetEmail(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return skipped("no email address on file"), nil
		}
		return nil, fmt.Errorf("failed to load email address: %w", err)
	}

	msg := p.buildMessage(email, notification)

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	if err := p.sendMail(p.cfg.Addr(), auth, p.cfg.From, []string{email}, msg); err != nil {
		return nil, &ProviderError{
			Code:    CodeSendFailed,
			Message: "smtp delivery failed",
			Cause:   err,
		}
	}

	return sent(""), nil
}

func (p *EmailProvider) buildMessage(to string, notification domain.Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + p.cfg.From + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + notification.Title + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("<p>" + html.EscapeString(notification.Content) + "</p>")
	if notification.ActionURL != nil && *notification.ActionURL != "" {
		b.WriteString("\r\n<p><a href=\"" + html.EscapeString(*notification.ActionURL) + "\">View details</a></p>")
	}
	return []byte(b.String())
}
