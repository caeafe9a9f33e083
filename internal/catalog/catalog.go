// Package catalog resolves live product data for the detection ticks.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Product is the live view of a catalog product
type Product struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	InStock   bool    `json:"in_stock"`
	Permalink string  `json:"permalink"`
}

// Lookup resolves products. A missing product is (nil, nil).
type Lookup interface {
	Product(ctx context.Context, id int64) (*Product, error)
}

// Cached wraps a Lookup with a Redis cache. Cache errors fall through to the
// underlying lookup.
type Cached struct {
	next   Lookup
	redis  redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached creates a Redis-backed product cache
func NewCached(next Lookup, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// Product returns a product from cache or the underlying lookup
func (c *Cached) Product(ctx context.Context, id int64) (*Product, error) {
	key := cacheKey(id)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var p Product
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("Discarding malformed cached product", zap.Int64("product_id", id))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
	}

	p, err := c.next.Product(ctx, id)
	if err != nil || p == nil {
		return p, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops a cached product
func (c *Cached) Invalidate(ctx context.Context, id int64) error {
	return c.redis.Del(ctx, cacheKey(id)).Err()
}
