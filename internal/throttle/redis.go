// Package throttle counts failed logins per client and blocks clients that
// fail too often within a window.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxAttempts = 10
	DefaultWindow      = 15 * time.Minute
)

// Limiter tracks failed login attempts by key, usually the client IP.
type Limiter interface {
	// Allow reports whether key may attempt another login.
	Allow(ctx context.Context, key string) (bool, error)
	// Fail records a failed attempt and returns the count in the window.
	Fail(ctx context.Context, key string) (int64, error)
	// Reset forgets the failures of key after a successful login.
	Reset(ctx context.Context, key string) error
}

// RedisLimiter keeps one expiring counter per key in Redis.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	maxAttempts int64
	window      time.Duration
}

// Options configures a RedisLimiter.
type Options struct {
	MaxAttempts int
	Window      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	return o
}

// NewRedisLimiter connects to redisURL and verifies the connection.
func NewRedisLimiter(redisURL string, opts Options) (*RedisLimiter, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, opts), nil
}

// NewRedisLimiterWithClient creates a limiter from an existing Redis client
func NewRedisLimiterWithClient(client *redis.Client, opts Options) *RedisLimiter {
	opts = opts.withDefaults()
	return &RedisLimiter{
		client:      client,
		prefix:      "login-failures:",
		maxAttempts: int64(opts.MaxAttempts),
		window:      opts.Window,
	}
}

func (l *RedisLimiter) key(id string) string {
	return l.prefix + id
}

func (l *RedisLimiter) Allow(ctx context.Context, id string) (bool, error) {
	count, err := l.client.Get(ctx, l.key(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read login failures: %w", err)
	}
	return count < l.maxAttempts, nil
}

// Fail increments the counter. The window starts at the first failure.
func (l *RedisLimiter) Fail(ctx context.Context, id string) (int64, error) {
	key := l.key(id)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return count, fmt.Errorf("set login failure window: %w", err)
		}
	}
	return count, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Disabled is a Limiter that never blocks.
type Disabled struct{}

func (Disabled) Allow(context.Context, string) (bool, error) { return true, nil }
func (Disabled) Fail(context.Context, string) (int64, error) { return 0, nil }
func (Disabled) Reset(context.Context, string) error         { return nil }
