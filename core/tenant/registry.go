package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shopfabric/govern/core/infra/logging"
	"github.com/shopfabric/govern/core/plan"
)

// DefaultTTL bounds cache staleness for tenant records.
const DefaultTTL = 15 * time.Minute

// Registry resolves tenant identifiers to plan and status with bounded
// staleness. Concurrent misses for the same key coalesce into a single
// storage load.
type Registry struct {
	store Store
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	loads atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the default cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithCache supplies a shared cache (e.g. Redis) instead of the default
// per-process one.
func WithCache(c Cache) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

// NewRegistry constructs a registry over durable tenant storage.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		cache: NewMemoryCache(),
		ttl:   DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the tenant record, loading from storage on a cache miss.
func (r *Registry) Resolve(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("tenant id required: %w", ErrNotFound)
	}
	if rec, ok, err := r.cache.Get(ctx, id); err == nil && ok {
		return rec, nil
	} else if err != nil {
		logging.Error("registry", "cache read failed", "tenant", id, "err", err)
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		// re-check inside the flight: a racing caller may have populated
		// the cache between our miss and the group admitting us
		if rec, ok, err := r.cache.Get(ctx, id); err == nil && ok {
			return rec, nil
		}
		r.loads.Add(1)
		rec, err := r.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(ctx, id, rec, r.ttl); err != nil {
			logging.Error("registry", "cache write failed", "tenant", id, "err", err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	rec, ok := v.(*Record)
	if !ok || rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Validate reports whether the tenant may serve traffic. Not-found and
// inactive outcomes are business results, not errors; err is reserved for
// storage failures.
func (r *Registry) Validate(ctx context.Context, id string) (bool, string, error) {
	rec, err := r.Resolve(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, "tenant not found", nil
	}
	if err != nil {
		return false, "", err
	}
	if rec.Status != StatusActive {
		return false, fmt.Sprintf("tenant status is %s", rec.Status), nil
	}
	return true, "", nil
}

// Invalidate removes the cache entry unconditionally. Callers that mutate
// tenant plan or status must invoke this. A no-op for uncached tenants.
func (r *Registry) Invalidate(ctx context.Context, id string) {
	if err := r.cache.Delete(ctx, id); err != nil {
		logging.Error("registry", "cache invalidate failed", "tenant", id, "err", err)
	}
}

// Plan resolves the tenant's plan tier.
func (r *Registry) Plan(ctx context.Context, id string) (plan.Tier, error) {
	rec, err := r.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return plan.ParseTier(string(rec.Tier)), nil
}

// Loads reports how many storage loads the registry has performed. Used by
// operational monitoring and by cache behavior tests.
func (r *Registry) Loads() int64 {
	return r.loads.Load()
}
