package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket lives in one hash per key. The script answers with
// {allowed, whole tokens left, milliseconds until the next token, server now}
// so the caller never has to redo the refill arithmetic.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), wait, now}
`

var (
	ErrLimiterDisabled = errors.New("rate limiter not configured")
	ErrEmptyKey        = errors.New("rate limiter key is empty")
	ErrInvalidPolicy   = errors.New("rate limiter policy must have a positive rate and burst")
)

// Policy is a refill rate in tokens per second and the bucket size.
type Policy struct {
	Rate  float64
	Burst int
}

func (p Policy) valid() bool {
	return p.Rate > 0 && p.Burst > 0
}

// ttl keeps an idle bucket around for twice the time it needs to refill.
func (p Policy) ttl() time.Duration {
	if !p.valid() {
		return time.Second
	}
	seconds := math.Ceil(float64(p.Burst) / p.Rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Take spends one token from the bucket at key. A denied result is not an
// error.
func (t *TokenBucket) Take(ctx context.Context, key string, policy Policy) (*RateLimitResult, error) {
	switch {
	case t == nil || t.client == nil:
		return nil, ErrLimiterDisabled
	case key == "":
		return nil, ErrEmptyKey
	case !policy.valid():
		return nil, ErrInvalidPolicy
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		policy.Rate,
		policy.Burst,
		policy.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 4 {
		return nil, errors.New("unexpected token bucket reply")
	}

	wait := time.Duration(reply[2]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		Limit:      policy.Burst,
		Remaining:  int(reply[1]),
		ResetTime:  time.UnixMilli(reply[3]).Add(wait),
		RetryAfter: wait,
	}, nil
}
