// Package redis provides a JSON cache on Redis with per-entry TTLs.
//
// The cache never fails its callers: Redis errors are logged and reported as
// misses (GetJSON) or dropped writes (SetJSON).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helioai/lio-agent/runtime/agent/telemetry"
)

type (
	// Options configures the cache.
	Options struct {
		// Client is the Redis connection. Required.
		Client *redis.Client
		// Logger receives soft-failure diagnostics.
		Logger telemetry.Logger
		// Timeout bounds each Redis call. Defaults to 2s.
		Timeout time.Duration
	}

	// Cache stores JSON encoded values under string keys.
	Cache struct {
		rdb     *redis.Client
		logger  telemetry.Logger
		timeout time.Duration
	}
)

// New returns a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Cache{rdb: opts.Client, logger: opts.Logger, timeout: opts.Timeout}, nil
}

// GetJSON decodes the value stored under key into dst and reports whether a
// usable value was found.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "cache read failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn(ctx, "cache entry undecodable", "key", key, "err", err)
		return false
	}
	return true
}

// SetJSON stores value under key for ttl. A ttl <= 0 stores without expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn(ctx, "cache entry unencodable", "key", key, "err", err)
		return
	}
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn(ctx, "cache write failed", "key", key, "err", err)
	}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warn(ctx, "cache delete failed", "key", key, "err", err)
	}
}

// Name implements health.Pinger.
func (c *Cache) Name() string { return "redis" }

// Ping implements health.Pinger.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
