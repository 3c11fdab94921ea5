package validator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "valid:"

// StatusCache stores last known HTTP statuses per URL so repeated searches
// do not re-check recently seen links.
type StatusCache interface {
	// GetMany returns cached statuses aligned with urls; a nil entry means
	// the URL has no cached status.
	GetMany(ctx context.Context, urls []string) ([]*int, error)
	Set(ctx context.Context, url string, status int, ttl time.Duration) error
}

// RedisStatusCache is the shared status cache used by every API server
// process.
type RedisStatusCache struct {
	client *redis.Client
}

// NewRedisStatusCache creates a status cache backed by the shared cache.
func NewRedisStatusCache(client *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{client: client}
}

// GetMany fetches all statuses in a single round trip.
func (c *RedisStatusCache) GetMany(ctx context.Context, urls []string) ([]*int, error) {
	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = cacheKeyPrefix + u
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status cache: %w", err)
	}

	statuses := make([]*int, len(urls))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		status, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		statuses[i] = &status
	}
	return statuses, nil
}

// Set stores one status with its expiry.
func (c *RedisStatusCache) Set(ctx context.Context, url string, status int, ttl time.Duration) error {
	if err := c.client.Set(ctx, cacheKeyPrefix+url, strconv.Itoa(status), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status for %s: %w", url, err)
	}
	return nil
}
