package store

import (
	"context"
	"time"
)

// Entry is the bucket hash the server last assigned to a route, and when the
// route was last used.
type Entry struct {
	Hash       string
	LastAccess time.Time
}

// Store defines the interface for route hash cache backends. Keys are route
// ids such as "GET:/channels/:id/messages".
type Store interface {
	// Get returns the entry for route. ok is false when nothing is cached.
	Get(ctx context.Context, route string) (e Entry, ok bool, err error)

	// Set stores the entry for route, replacing any previous hash.
	Set(ctx context.Context, route string, e Entry) error

	// Touch updates the last access time of an existing entry. Touching an
	// unknown route is not an error.
	Touch(ctx context.Context, route string, at time.Time) error

	// Sweep removes entries last accessed before cutoff and reports how many
	// were removed.
	Sweep(ctx context.Context, cutoff time.Time) (removed int, err error)

	// Close releases any resources held by the store.
	Close() error
}
