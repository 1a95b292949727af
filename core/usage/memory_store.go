package usage

import (
	"context"
	"strings"
	"sync"
)

// MemoryCounterStore is an in-process CounterStore for single-process
// deployments and tests. Increments are serialized by a mutex, so no update
// is ever lost.
type MemoryCounterStore struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewMemoryCounterStore constructs an empty counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]int64)}
}

func (s *MemoryCounterStore) Incr(_ context.Context, tenantID string, res Resource, day string, n int64) error {
	s.mu.Lock()
	s.counters[dayKey(tenantID, res, day)] += n
	s.counters[lifeKey(tenantID, res)] += n
	s.mu.Unlock()
	return nil
}

func (s *MemoryCounterStore) DayTotal(_ context.Context, tenantID string, res Resource, day string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[dayKey(tenantID, res, day)], nil
}

func (s *MemoryCounterStore) LifetimeTotal(_ context.Context, tenantID string, res Resource) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[lifeKey(tenantID, res)], nil
}

func (s *MemoryCounterStore) Reset(_ context.Context, tenantID string) error {
	prefix := keyPrefix(tenantID)
	s.mu.Lock()
	for key := range s.counters {
		if strings.HasPrefix(key, prefix) {
			delete(s.counters, key)
		}
	}
	s.mu.Unlock()
	return nil
}

func keyPrefix(tenantID string) string {
	return "usage:" + tenantID + ":"
}

func dayKey(tenantID string, res Resource, day string) string {
	return keyPrefix(tenantID) + string(res) + ":day:" + day
}

func lifeKey(tenantID string, res Resource) string {
	return keyPrefix(tenantID) + string(res) + ":life"
}
