package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/notifykit/fanout/internal/domain"
	"github.com/notifykit/fanout/internal/repository"
	"go.uber.org/zap"
)

const defaultPushTimeout = 10 * time.Second

// PushConfig carries the push transport endpoint and credentials. An empty
// APIURL disables the channel: every send is skipped.
type PushConfig struct {
	APIURL    string
	APIKey    string
	BodyLimit int
}

// PushProvider delivers over an FCM-style HTTP transport. The client is a
// long-lived resource initialized once on first use; if initialization fails
// the channel skips instead of erroring.
type PushProvider struct {
	cfg    PushConfig
	tokens repository.TokenRepository
	logger *zap.Logger

	mu          sync.Mutex
	client      *resty.Client
	initialized bool
	warnOnce    sync.Once
}

func NewPushProvider(cfg PushConfig, tokens repository.TokenRepository, logger *zap.Logger) (*PushProvider, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = domain.DefaultBodyLimit
	}

	return &PushProvider{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
	}, nil
}

func (p *PushProvider) initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	endpoint := strings.TrimSpace(p.cfg.APIURL)
	if endpoint == "" {
		return fmt.Errorf("push transport is not configured")
	}

	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)
	if key := strings.TrimSpace(p.cfg.APIKey); key != "" {
		client.SetHeader("Authorization", "Bearer "+key)
	}

	p.client = client
	p.initialized = true
	return nil
}

func (p *PushProvider) isInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *PushProvider) Send(ctx context.Context, userID string, notification domain.Notification) (*Result, error) {
	if p == nil || p.tokens == nil {
		return nil, fmt.Errorf("push provider is not initialized")
	}

	if !p.isInitialized() {
		if err := p.initialize(); err != nil {
			p.warnOnce.Do(func() {
				p.logger.Warn("push transport not configured, channel disabled", zap.Error(err))
			})
			return skipped("push transport not configured"), nil
		}
	}

	token, err := p.tokens.Get(ctx, userID)
	if err != nil {
		// No registered device is a normal state, not a failure.
		if errors.Is(err, domain.ErrNotFound) {
			return skipped("no device token registered"), nil
		}
		return nil, fmt.Errorf("failed to load push token: %w", err)
	}

	msg := BuildPushMessage(token.Token, notification, p.cfg.BodyLimit)

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(p.cfg.APIURL)
	if err != nil {
		return nil, &ProviderError{
			Code:    CodeUnavailable,
			Message: "push transport request failed",
			Cause:   err,
		}
	}

	return p.adaptResponse(response)
}

type pushAPIResponse struct {
	MessageID string `json:"message_id"`
	Error     struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// adaptResponse converts the transport's heterogeneous error shapes into the
// tagged ProviderError variant the classifier understands.
func (p *PushProvider) adaptResponse(response *resty.Response) (*Result, error) {
	if response == nil {
		return nil, &ProviderError{
			Code:    CodeUnavailable,
			Message: "push transport returned empty response",
		}
	}

	var parsed pushAPIResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return sent(parsed.MessageID), nil
	}

	code := strings.ToUpper(strings.TrimSpace(parsed.Error.Status))
	switch {
	case code == CodeUnregistered || statusCode == http.StatusNotFound:
		return nil, &ProviderError{
			Code:      CodeUnregistered,
			Message:   "device token is not registered",
			Permanent: true,
		}
	case code == CodeInvalidArgument || statusCode == http.StatusBadRequest:
		return nil, &ProviderError{
			Code:      CodeInvalidArgument,
			Message:   "device token rejected as invalid",
			Permanent: true,
		}
	case statusCode == http.StatusTooManyRequests:
		return nil, &ProviderError{
			Code:    CodeRateLimited,
			Message: "push transport rate limited",
		}
	default:
		return nil, &ProviderError{
			Code:    CodeSendFailed,
			Message: fmt.Sprintf("push transport returned status %d", statusCode),
		}
	}
}
