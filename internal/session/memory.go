package session

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sells-group/cma-engine/internal/model"
)

// DefaultCapacity is the session count above which the least recently
// used session is evicted.
const DefaultCapacity = 10_000

// Memory is an in-process Store with TTL and LRU capacity eviction.
// Sessions do not survive a restart.
type Memory struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *model.AnalysisSession]
}

// NewMemory creates a Memory store. Non-positive values select the defaults.
func NewMemory(cfg Config) *Memory {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{cache: expirable.NewLRU[string, *model.AnalysisSession](capacity, nil, ttl)}
}

func (m *Memory) Put(_ context.Context, s *model.AnalysisSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(s.ID, s.Clone())
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.AnalysisSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) UpdateProgress(_ context.Context, p model.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Get(p.SessionID)
	if !ok {
		return ErrNotFound
	}
	next := s.Clone()
	applyProgress(next, p)
	m.cache.Add(p.SessionID, next)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(id)
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len(), nil
}
