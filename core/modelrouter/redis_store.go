package modelrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopfabric/govern/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	redisOpTimeout  = 2 * time.Second
)

// RedisStore persists version records in a Redis hash per model so routing
// state survives restarts and is shared across processes.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed version store.
func NewRedisStore(url string) (*RedisStore, error) {
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
	return &RedisStore{client: client}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, v *Version) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version %s/%s: %w", v.Model, v.Label, err)
	}
	ok, err := s.client.HSetNX(cctx, modelKey(v.Model), v.Label, payload).Result()
	if err != nil {
		return fmt.Errorf("save version %s/%s: %w", v.Model, v.Label, err)
	}
	if !ok {
		return fmt.Errorf("version %s/%s already registered", v.Model, v.Label)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, model, label string) (*Version, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	payload, err := s.client.HGet(cctx, modelKey(model), label).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s/%s: %w", model, label, ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", model, label, err)
	}
	return decodeVersion(payload)
}

func (s *RedisStore) List(ctx context.Context, model string) ([]*Version, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	entries, err := s.client.HGetAll(cctx, modelKey(model)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", model, err)
	}
	out := make([]*Version, 0, len(entries))
	for _, payload := range entries {
		v, err := decodeVersion([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, v *Version) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	exists, err := s.client.HExists(cctx, modelKey(v.Model), v.Label).Result()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", v.Model, v.Label, err)
	}
	if !exists {
		return fmt.Errorf("update %s/%s: %w", v.Model, v.Label, ErrVersionNotFound)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version %s/%s: %w", v.Model, v.Label, err)
	}
	return s.client.HSet(cctx, modelKey(v.Model), v.Label, payload).Err()
}

func decodeVersion(payload []byte) (*Version, error) {
	var v Version
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &v, nil
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
}

func modelKey(model string) string {
	return "modelrouter:versions:" + model
}
