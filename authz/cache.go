package authz

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how stale a cached permission list may be when a
// write bypasses this process.
const DefaultCacheTTL = 30 * time.Second

// cacheLoadTimeout bounds a shared backing read. The read is detached from
// the caller that started it so one cancelled request cannot fail the
// others waiting on the same user.
const cacheLoadTimeout = 5 * time.Second

// CachedStore fronts a [Store] with a Redis read-through cache. Concurrent
// misses for the same user collapse into one backing read. Writes go to the
// backing store first and then drop the cache entry.
type CachedStore struct {
	next   Store
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedStore wraps next. ttl <= 0 uses DefaultCacheTTL.
func NewCachedStore(next Store, client redis.UniversalClient, prefix string, ttl time.Duration) *CachedStore {
	if prefix == "" {
		prefix = "zt:perm"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{next: next, redis: client, prefix: prefix, ttl: ttl}
}

func (c *CachedStore) key(userID string) string {
	return c.prefix + ":" + userID
}

// Get serves from Redis when possible. A Redis failure falls back to the
// backing store rather than failing the read.
func (c *CachedStore) Get(ctx context.Context, userID string) ([]string, error) {
	if raw, err := c.redis.Get(ctx, c.key(userID)).Bytes(); err == nil {
		var perms []string
		if json.Unmarshal(raw, &perms) == nil {
			return perms, nil
		}
	}

	ch := c.group.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheLoadTimeout)
		defer cancel()
		perms, err := c.next.Get(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(perms); err == nil {
			_ = c.redis.Set(loadCtx, c.key(userID), raw, c.ttl).Err()
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	}
}

func (c *CachedStore) Put(ctx context.Context, userID string, permissions []string) error {
	if err := c.next.Put(ctx, userID, permissions); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, userID string, fn UpdateFunc) ([]string, error) {
	perms, err := c.next.Update(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, userID)
	return perms, nil
}

// invalidate drops the entry; if Redis is down the TTL bounds staleness.
func (c *CachedStore) invalidate(ctx context.Context, userID string) {
	_ = c.redis.Del(ctx, c.key(userID)).Err()
}
