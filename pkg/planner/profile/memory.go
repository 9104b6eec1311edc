package profile

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Profile{}, ErrStoreClosed
	}
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return clone(p), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.profiles[p.UserID] = clone(p)
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.profiles), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func clone(p Profile) Profile {
	p.PreferredCategories = slices.Clone(p.PreferredCategories)
	p.Interests = slices.Clone(p.Interests)
	return p
}
