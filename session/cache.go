package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache exposes the field-map operations the mesh needs from Redis: read one
// field, read all fields, write fields, set a TTL, delete a key.
type Cache struct {
	redis redis.UniversalClient
}

// NewCache wraps a Redis client.
func NewCache(client redis.UniversalClient) *Cache {
	return &Cache{redis: client}
}

// GetField returns a single hash field. A missing key or field yields [ErrNotFound].
func (c *Cache) GetField(ctx context.Context, key, field string) (string, error) {
	v, err := c.redis.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, nil
}

// GetAll returns every field of the hash. A missing key yields [ErrNotFound].
func (c *Cache) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// SetFields writes the given fields, leaving others untouched.
func (c *Cache) SetFields(ctx context.Context, key string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := c.redis.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Expire sets the key TTL. Returns [ErrNotFound] when the key is absent.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := c.redis.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
