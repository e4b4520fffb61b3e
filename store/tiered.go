package store

import (
	"context"
	"time"
)

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent backend
// (durable path). Writes go to both stores (write-through); reads check memory
// first and fall back to the persistent store on a miss.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(),
		persistent: persistent,
	}
}

// Get reads from memory first. On a miss it falls back to the persistent
// store and backfills memory.
func (t *TieredStore) Get(ctx context.Context, route string) (Entry, bool, error) {
	if e, ok, _ := t.memory.Get(ctx, route); ok {
		return e, true, nil
	}

	e, ok, err := t.persistent.Get(ctx, route)
	if err != nil || !ok {
		return Entry{}, false, err
	}

	t.memory.Set(ctx, route, e)
	return e, true, nil
}

// Set writes through to the persistent backend, then memory.
func (t *TieredStore) Set(ctx context.Context, route string, e Entry) error {
	if err := t.persistent.Set(ctx, route, e); err != nil {
		return err
	}
	return t.memory.Set(ctx, route, e)
}

// Touch writes through to both stores.
func (t *TieredStore) Touch(ctx context.Context, route string, at time.Time) error {
	t.memory.Touch(ctx, route, at)
	return t.persistent.Touch(ctx, route, at)
}

// Sweep removes stale entries from both stores. The persistent count is
// returned because it is authoritative.
func (t *TieredStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	t.memory.Sweep(ctx, cutoff)
	return t.persistent.Sweep(ctx, cutoff)
}

// Close closes the persistent backend. The in-memory store needs no cleanup.
func (t *TieredStore) Close() error {
	return t.persistent.Close()
}
