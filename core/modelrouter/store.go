package modelrouter

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists model version records so registration and activation state
// survive process restarts.
type Store interface {
	Save(ctx context.Context, v *Version) error
	Get(ctx context.Context, model, label string) (*Version, error)
	List(ctx context.Context, model string) ([]*Version, error)
	Update(ctx context.Context, v *Version) error
}

// MemoryStore is an in-process Store for single-process deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]map[string]*Version // model -> label -> version
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string]map[string]*Version)}
}

func (s *MemoryStore) Save(_ context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byLabel, ok := s.versions[v.Model]
	if !ok {
		byLabel = make(map[string]*Version)
		s.versions[v.Model] = byLabel
	}
	if _, exists := byLabel[v.Label]; exists {
		return fmt.Errorf("version %s/%s already registered", v.Model, v.Label)
	}
	byLabel[v.Label] = v.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, model, label string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[model][label]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", model, label, ErrVersionNotFound)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, model string) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byLabel := s.versions[model]
	out := make([]*Version, 0, len(byLabel))
	for _, v := range byLabel {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.Model][v.Label]; !ok {
		return fmt.Errorf("update %s/%s: %w", v.Model, v.Label, ErrVersionNotFound)
	}
	s.versions[v.Model][v.Label] = v.Clone()
	return nil
}
