package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Cache stores tenant records with an absolute expiry. A lookup past expiry is
// a miss; Delete is unconditional and safe for absent keys.
type Cache interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	Set(ctx context.Context, id string, rec *Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	rec       *Record
	expiresAt time.Time
}

// MemoryCache is an in-process Cache suitable for single-process deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   clock.Clock
}

// NewMemoryCache constructs an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(clock.New())
}

// NewMemoryCacheWithClock constructs a cache on an injectable clock for tests.
func NewMemoryCacheWithClock(c clock.Clock) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), clock: c}
}

func (m *MemoryCache) Get(_ context.Context, id string) (*Record, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.clock.Now().Before(entry.expiresAt) {
		// expired entries are dropped lazily on the next read
		m.mu.Lock()
		if cur, ok := m.entries[id]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, id)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.rec.Clone(), true, nil
}

func (m *MemoryCache) Set(_ context.Context, id string, rec *Record, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[id] = memoryEntry{rec: rec.Clone(), expiresAt: m.clock.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}
