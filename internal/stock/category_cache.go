package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CategoryFlags reports whether a category participates in stock accounting.
type CategoryFlags interface {
	IsTracked(ctx context.Context, categoryID int64) (bool, error)
}

// CategoryStore is the source of truth for tracked flags.
type CategoryStore interface {
	CategoryFlags
	SetTracked(ctx context.Context, categoryID int64, tracked bool) error
}

// CategoryCache caches tracked flags in redis in front of a source of truth.
type CategoryCache struct {
	client *redis.Client
	ttl    time.Duration
	source CategoryStore
	group  singleflight.Group
}

// NewCategoryCache instantiates the cache helper.
func NewCategoryCache(client *redis.Client, ttl time.Duration, source CategoryStore) *CategoryCache {
	return &CategoryCache{client: client, ttl: ttl, source: source}
}

func categoryKey(categoryID int64) string {
	return fmt.Sprintf("stock:category:%d:tracked", categoryID)
}

// IsTracked reads the cached flag, loading it once per key on a miss.
func (c *CategoryCache) IsTracked(ctx context.Context, categoryID int64) (bool, error) {
	if c.client == nil {
		return c.source.IsTracked(ctx, categoryID)
	}
	key := categoryKey(categoryID)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return raw == "1", nil
	}
	if err != redis.Nil {
		return false, err
	}
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		tracked, err := c.source.IsTracked(ctx, categoryID)
		if err != nil {
			return false, err
		}
		flag := "0"
		if tracked {
			flag = "1"
		}
		if err := c.client.Set(ctx, key, flag, c.ttl).Err(); err != nil {
			return false, err
		}
		return tracked, nil
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// SetTracked writes the flag through to the source and drops the cached copy.
func (c *CategoryCache) SetTracked(ctx context.Context, categoryID int64, tracked bool) error {
	if err := c.source.SetTracked(ctx, categoryID, tracked); err != nil {
		return err
	}
	return c.Invalidate(ctx, categoryID)
}

// Invalidate drops the cached flag after a category changes.
func (c *CategoryCache) Invalidate(ctx context.Context, categoryID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, categoryKey(categoryID)).Err()
}

// InvalidateAll drops every cached flag.
func (c *CategoryCache) InvalidateAll(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, "stock:category:*:tracked", 100).Iterator()
	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
