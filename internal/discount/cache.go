package discount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/model"
)

const generationKey = "discounts:gen"

// CachedRepository keeps ListActive results in Redis. Every admin write bumps a
// generation counter so stale entries are simply never read again.
type CachedRepository struct {
	Next   Repository
	R      *redis.Client
	TTL    time.Duration
	Logger *zerolog.Logger
}

// ListActive serves q from Redis when possible and falls through to Next otherwise.
// Cache failures never fail the lookup.
func (c *CachedRepository) ListActive(ctx context.Context, q Query) ([]model.Discount, error) {
	if c.R == nil {
		return c.Next.ListActive(ctx, q)
	}
	gen, err := c.R.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.warn(err, "discount cache generation read failed")
		return c.Next.ListActive(ctx, q)
	}
	key := cacheKey(gen, q)
	if raw, err := c.R.Get(ctx, key).Bytes(); err == nil {
		var cached []model.Discount
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn(err, "discount cache read failed")
	}

	rows, err := c.Next.ListActive(ctx, q)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rows); err == nil {
		if err := c.R.Set(ctx, key, raw, c.ttl()).Err(); err != nil {
			c.warn(err, "discount cache write failed")
		}
	}
	return rows, nil
}

// Invalidate retires every cached entry.
func (c *CachedRepository) Invalidate(ctx context.Context) error {
	if c == nil || c.R == nil {
		return nil
	}
	return c.R.Incr(ctx, generationKey).Err()
}

func (c *CachedRepository) ttl() time.Duration {
	if c.TTL <= 0 {
		return 5 * time.Minute
	}
	return c.TTL
}

func (c *CachedRepository) warn(err error, msg string) {
	if c.Logger != nil {
		c.Logger.Warn().Err(err).Msg(msg)
	}
}

func cacheKey(gen int64, q Query) string {
	return fmt.Sprintf("discounts:active:%d:%s:%s:%s", gen, q.Scope, q.ProductID, q.Day)
}
