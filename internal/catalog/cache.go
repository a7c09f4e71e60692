package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache is a read-through Redis cache of JSON-encoded T. Concurrent misses for
// one key share a single load, so a cart recalculation fanning out over lines
// never stampedes the store. A nil client turns it into a pass-through.
type Cache[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCache builds a cache whose keys are prefix+id.
func NewCache[T any](client *redis.Client, prefix string, ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl, logger: zerolog.Nop()}
}

// WithLogger reports Redis failures to logger; they never fail a lookup.
func (c *Cache[T]) WithLogger(logger zerolog.Logger) *Cache[T] {
	c.logger = logger
	return c
}

// Get returns the cached value for id or calls load and stores its result.
// Load errors are returned as-is and nothing is cached.
func (c *Cache[T]) Get(ctx context.Context, id string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key := c.prefix + id
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(v); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Forget evicts id.
func (c *Cache[T]) Forget(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.prefix+id).Err()
}
