package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	// Requires a local Redis; DB 15 is reserved for tests.
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })

	client.FlushDB(ctx)
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	client := testRedisClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:device1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:device2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		time.Sleep(2100 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:ipA", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:ipA", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:ipB", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	// Unreachable Redis must deny, not allow: these endpoints are
	// unauthenticated.
	invalidClient := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 100 * time.Millisecond,
	})
	defer invalidClient.Close()

	limiter := NewRateLimiter(invalidClient)
	ctx := context.Background()

	allowed, resetAt := limiter.CheckLimit(ctx, "test:key", 1, 1*time.Minute)
	require.False(t, allowed, "Should deny request on Redis failure")
	require.True(t, resetAt.After(time.Now()), "Should return valid reset time")
}

func TestRateLimiter_EndpointLimits(t *testing.T) {
	client := testRedisClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	t.Run("initiate limit per IP", func(t *testing.T) {
		clientIP := "192.168.1.50"

		for i := 0; i < 10; i++ {
			allowed, _ := limiter.CheckInitiateLimit(ctx, clientIP)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckInitiateLimit(ctx, clientIP)
		assert.False(t, allowed, "Should be rate limited after 10 attempts")
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("claim limit per IP", func(t *testing.T) {
		clientIP := "192.168.1.51"

		for i := 0; i < 15; i++ {
			allowed, _ := limiter.CheckClaimLimit(ctx, clientIP)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, _ := limiter.CheckClaimLimit(ctx, clientIP)
		assert.False(t, allowed, "Should be rate limited after 15 attempts")
	})

	t.Run("initiate and claim allowances are independent", func(t *testing.T) {
		clientIP := "192.168.1.52"

		for i := 0; i < 10; i++ {
			allowed, _ := limiter.CheckInitiateLimit(ctx, clientIP)
			assert.True(t, allowed)
		}
		allowed, _ := limiter.CheckInitiateLimit(ctx, clientIP)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckClaimLimit(ctx, clientIP)
		assert.True(t, allowed, "claim allowance should be untouched")
	})
}
