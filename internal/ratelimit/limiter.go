package ratelimit

import "context"

// RateLimiter caps outbound send throughput per delivery channel.
// Allow consumes one slot and reports whether the send may proceed;
// Wait blocks until a slot frees up or the context is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
