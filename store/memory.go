package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. Entries are lost on process restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get returns the cached entry for route.
func (m *MemoryStore) Get(_ context.Context, route string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[route]
	return e, ok, nil
}

// Set stores the entry for route.
func (m *MemoryStore) Set(_ context.Context, route string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[route] = e
	return nil
}

// Touch refreshes the last access time for route if it is cached.
func (m *MemoryStore) Touch(_ context.Context, route string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[route]; ok {
		e.LastAccess = at
		m.entries[route] = e
	}
	return nil
}

// Sweep removes entries not accessed since cutoff.
func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for route, e := range m.entries {
		if e.LastAccess.Before(cutoff) {
			delete(m.entries, route)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of cached routes.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
