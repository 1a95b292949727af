package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopfabric/govern/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	redisOpTimeout  = 2 * time.Second
)

// RedisCache is a Cache backed by a shared Redis instance so that multiple
// processes observe the same records and invalidations.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache constructs a Redis-backed cache from a redis:// URL.
func NewRedisCache(url string) (*RedisCache, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close shuts down the Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, id string) (*Record, bool, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	payload, err := c.client.Get(cctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", id, err)
	}
	return &rec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, id string, rec *Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", id, err)
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	return c.client.Set(cctx, cacheKey(id), payload, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	return c.client.Del(cctx, cacheKey(id)).Err()
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
}

func cacheKey(id string) string {
	return "tenant:cache:" + id
}
