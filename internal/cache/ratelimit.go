package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const identityLimitPrefix = "ratelimit:identity:"

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// identityBucket refills a token bucket stored as a hash and takes one token.
// Times are milliseconds so sub-second refill rates stay exact.
//
// KEYS[1] bucket key
// ARGV    refill per ms, capacity, now ms
// returns {allowed, ms until next token, whole tokens left, ms until full}
var identityBucket = redis.NewScript(`
local per_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_ms)
end

local allowed, wait = 0, 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) / per_ms)
end

local full = math.ceil((capacity - tokens) / per_ms)
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], full + 1000)

return {allowed, wait, math.floor(tokens), full}
`)

// CheckIdentityRateLimit takes one request from the caller's bucket, which
// holds burst tokens and refills at ratePerMinute. A rate of zero disables
// limiting. Redis errors fail open so the gateway stays reachable.
func (c *Cache) CheckIdentityRateLimit(ctx context.Context, entityRef string, ratePerMinute, burst int) (*RateLimitResult, error) {
	now := time.Now()
	open := &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now}
	if ratePerMinute <= 0 || burst <= 0 {
		return open, nil
	}

	perMs := float64(ratePerMinute) / float64(time.Minute.Milliseconds())
	out, err := identityBucket.Run(ctx, c.client,
		[]string{identityLimitPrefix + hashKey(entityRef)},
		perMs, burst, now.UnixMilli(),
	).Int64Slice()
	if err != nil || len(out) != 4 {
		return open, nil
	}

	return &RateLimitResult{
		Allowed:    out[0] == 1,
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
		Remaining:  out[2],
		ResetAt:    now.Add(time.Duration(out[3]) * time.Millisecond),
	}, nil
}

// hashKey shortens an entity ref into a fixed-size key component.
func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
