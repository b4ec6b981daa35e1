package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewDistributedRateLimiter(client, PerMinute(3), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Limit)
	assert.InDelta(t, time.Minute.Seconds(), d.RetryAfter.Seconds(), 1)

	// separate key, separate window
	d, err = limiter.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	assert.True(t, mr.Exists("test:user:1"))

	mr.FastForward(time.Minute + time.Second)
	d, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	_, client := newRedis(t)
	limiter := NewDistributedRateLimiter(client, PerMinute(1), "")
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	d, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "ip:10.0.0.1"))
	d, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewDistributedRateLimiter(client, PerMinute(1), "test")
	require.NoError(t, limiter.HealthCheck(context.Background()))

	mr.Close()
	_, err := limiter.Allow(context.Background(), "user:1")
	assert.Error(t, err)
	assert.Error(t, limiter.HealthCheck(context.Background()))
}
