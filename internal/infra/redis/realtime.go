package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// RealtimeBroker pushes a payload to a user's live in-app connection.
// Delivery is present-tense only: a payload for a user with no active
// subscriber is dropped, never queued.
type RealtimeBroker interface {
	DeliverIfConnected(ctx context.Context, userID string, payload any) (bool, error)
}

const realtimeChannelPrefix = "realtime:user:"

var _ RealtimeBroker = (*RedisRealtimeBroker)(nil)

// RedisRealtimeBroker publishes over Redis pub/sub. Each connected client
// subscribes to its user channel; the PUBLISH receiver count tells us whether
// anyone was listening.
type RedisRealtimeBroker struct {
	client *goredis.Client
}

func NewRedisRealtimeBroker(client *goredis.Client) (*RedisRealtimeBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisRealtimeBroker{client: client}, nil
}

func UserChannel(userID string) string {
	return realtimeChannelPrefix + strings.TrimSpace(userID)
}

func (b *RedisRealtimeBroker) DeliverIfConnected(ctx context.Context, userID string, payload any) (bool, error) {
	if b == nil || b.client == nil {
		return false, fmt.Errorf("realtime broker is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("user id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal realtime payload: %w", err)
	}

	receivers, err := b.client.Publish(ctx, UserChannel(userID), body).Result()
	if err != nil {
		return false, fmt.Errorf("failed to publish realtime payload: %w", err)
	}

	return receivers > 0, nil
}
