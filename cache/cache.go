// Package cache provides an optional Redis read-through cache for analytics
// responses. A missing or unreachable Redis degrades to pass-through; cache
// failures are logged, never surfaced.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "analytics:"

// Config controls the Redis connection. An empty Addr disables caching.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache wraps a Redis client. The zero-value (nil client) cache is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// New connects to Redis. An empty address returns a disabled cache rather
// than an error.
func New(cfg Config, log *logrus.Logger) *Cache {
	if cfg.Addr == "" {
		return &Cache{log: log}
	}
	ttl := time.Duration(cfg.TTL)
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, caching disabled")
		return &Cache{log: log}
	}
	log.WithField("addr", cfg.Addr).Info("redis cache connected")
	return &Cache{client: client, ttl: ttl, log: log}
}

// Enabled reports whether a live Redis connection backs this cache.
func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

// Get unmarshals the cached value for key into dest. Returns false on miss,
// disabled cache, or any Redis/decoding failure.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("cache get failed")
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry corrupt, ignoring")
		return false
	}
	return true
}

// Set stores value under key for the configured TTL. Failures are logged.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("cache set failed")
	}
}

// InvalidatePrefix deletes every key under the given prefix. Used after
// training to drop stale analytics responses.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	if !c.Enabled() {
		return
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Warn("cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.WithError(err).Warn("cache invalidation failed")
		}
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
