package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pairlab/pairing-server-go/internal/config"
)

// rateLimitScript implements a sliding window over a sorted set. It
// removes stale members, counts the rest, and either denies with the
// time the oldest member ages out or records the hit.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter provides sliding-window rate limiting backed by Redis.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLimit reports whether a request under key is allowed. Redis
// failures deny the request: the guarded endpoints are unauthenticated,
// so failing open would defeat the limiter exactly when it matters.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request for safety")
		return false, time.Now().Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request for safety")
		return false, time.Now().Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

// CheckInitiateLimit limits how often one IP may request fresh pairing
// codes.
func (rl *RateLimiter) CheckInitiateLimit(ctx context.Context, clientIP string) (bool, time.Time) {
	return rl.CheckLimit(
		ctx,
		fmt.Sprintf("pairing:initiate:%s", clientIP),
		config.InitiateRateLimit,
		config.RateLimitWindowDur,
	)
}

// CheckClaimLimit limits claim attempts per IP, which bounds online
// guessing of active codes.
func (rl *RateLimiter) CheckClaimLimit(ctx context.Context, clientIP string) (bool, time.Time) {
	return rl.CheckLimit(
		ctx,
		fmt.Sprintf("pairing:claim:%s", clientIP),
		config.ClaimRateLimit,
		config.RateLimitWindowDur,
	)
}
