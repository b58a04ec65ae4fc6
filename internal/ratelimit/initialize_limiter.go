package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/savethedate/payments/internal/config"
)

const keyInitializeClient = "payments:initialize:client:"

// InitializeLimiter throttles checkout initialisations per client address.
// A nil limiter allows everything.
type InitializeLimiter struct {
	bucket *TokenBucket
	policy Policy
}

func NewInitializeLimiter(client *redis.Client, cfg config.Config) *InitializeLimiter {
	policy := Policy{Rate: cfg.RateLimit.InitializeRate, Burst: cfg.RateLimit.InitializeBurst}
	if client == nil || !policy.valid() {
		return nil
	}
	return &InitializeLimiter{
		bucket: NewTokenBucket(client),
		policy: policy,
	}
}

func (l *InitializeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *InitializeLimiter) Allow(ctx context.Context, clientKey string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "anonymous"
	}
	return l.bucket.Take(ctx, keyInitializeClient+clientKey, l.policy)
}
