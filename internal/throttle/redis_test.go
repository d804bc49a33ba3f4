package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, opts Options) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	limiter, err := NewRedisLimiter("redis://"+s.Addr(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter, s
}

func TestNewRedisLimiter(t *testing.T) {
	limiter, _ := setupTestRedis(t, Options{})
	require.NoError(t, limiter.Ping(context.Background()))
	assert.Equal(t, int64(DefaultMaxAttempts), limiter.maxAttempts)
	assert.Equal(t, DefaultWindow, limiter.window)
}

func TestNewRedisLimiterInvalidURL(t *testing.T) {
	_, err := NewRedisLimiter("not-a-url://", Options{})
	require.Error(t, err)
}

func TestBlocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	limiter, _ := setupTestRedis(t, Options{MaxAttempts: 3, Window: time.Minute})

	for i := 1; i <= 3; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, allowed, "attempt %d should be allowed", i)
		count, err := limiter.Fail(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestWindowExpires(t *testing.T) {
	ctx := context.Background()
	limiter, s := setupTestRedis(t, Options{MaxAttempts: 1, Window: time.Minute})

	_, err := limiter.Fail(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.TTL("login-failures:10.0.0.1"))

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	s.FastForward(time.Minute + time.Second)
	allowed, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestResetClearsFailures(t *testing.T) {
	ctx := context.Background()
	limiter, s := setupTestRedis(t, Options{MaxAttempts: 1, Window: time.Minute})

	_, err := limiter.Fail(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "10.0.0.1"))
	assert.False(t, s.Exists("login-failures:10.0.0.1"))

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDisabledNeverBlocks(t *testing.T) {
	var limiter Limiter = Disabled{}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, _ = limiter.Fail(ctx, "10.0.0.1")
	}
	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
