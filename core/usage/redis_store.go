package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopfabric/govern/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	redisOpTimeout  = 2 * time.Second
	// day buckets outlive the day they meter so billing jobs can still read
	// yesterday, then expire to keep Redis bounded.
	dayBucketTTL = 72 * time.Hour
)

// RedisCounterStore is a CounterStore over a shared Redis so that multiple
// processes meter against the same counters. INCRBY gives atomic increments.
type RedisCounterStore struct {
	client redis.UniversalClient
}

// NewRedisCounterStore constructs a Redis-backed counter store.
func NewRedisCounterStore(url string) (*RedisCounterStore, error) {
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
	return &RedisCounterStore{client: client}, nil
}

// Close shuts down the Redis client.
func (s *RedisCounterStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisCounterStore) Incr(ctx context.Context, tenantID string, res Resource, day string, n int64) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	key := dayKey(tenantID, res, day)
	pipe := s.client.TxPipeline()
	pipe.IncrBy(cctx, key, n)
	pipe.Expire(cctx, key, dayBucketTTL)
	pipe.IncrBy(cctx, lifeKey(tenantID, res), n)
	_, err := pipe.Exec(cctx)
	if err != nil {
		return fmt.Errorf("incr %s/%s: %w", tenantID, res, err)
	}
	return nil
}

func (s *RedisCounterStore) DayTotal(ctx context.Context, tenantID string, res Resource, day string) (int64, error) {
	return s.total(ctx, dayKey(tenantID, res, day))
}

func (s *RedisCounterStore) LifetimeTotal(ctx context.Context, tenantID string, res Resource) (int64, error) {
	return s.total(ctx, lifeKey(tenantID, res))
}

func (s *RedisCounterStore) total(ctx context.Context, key string) (int64, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	val, err := s.client.Get(cctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, tenantID string) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	var cursor uint64
	pattern := keyPrefix(tenantID) + "*"
	for {
		keys, next, err := s.client.Scan(cctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan counters for %s: %w", tenantID, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(cctx, keys...).Err(); err != nil {
				return fmt.Errorf("reset counters for %s: %w", tenantID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
}
