package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite. Learned bucket hashes
// survive restarts, so a fresh process does not have to rediscover which
// routes share a bucket.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("restlimit/store: open sqlite: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS restlimit_hashes (
			route       TEXT PRIMARY KEY,
			hash        TEXT NOT NULL,
			last_access INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("restlimit/store: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the cached entry for route.
func (s *SQLiteStore) Get(ctx context.Context, route string) (Entry, bool, error) {
	var hash string
	var lastAccess int64

	err := s.db.QueryRowContext(ctx,
		`SELECT hash, last_access FROM restlimit_hashes WHERE route = ?`, route,
	).Scan(&hash, &lastAccess)

	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("restlimit/store: get %s: %w", route, err)
	}

	return Entry{Hash: hash, LastAccess: time.UnixMilli(lastAccess)}, true, nil
}

// Set inserts or replaces the entry for route.
func (s *SQLiteStore) Set(ctx context.Context, route string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restlimit_hashes (route, hash, last_access) VALUES (?, ?, ?)
		ON CONFLICT(route) DO UPDATE SET hash = excluded.hash, last_access = excluded.last_access
	`, route, e.Hash, e.LastAccess.UnixMilli())
	if err != nil {
		return fmt.Errorf("restlimit/store: set %s: %w", route, err)
	}
	return nil
}

// Touch refreshes the last access time for route if it is cached.
func (s *SQLiteStore) Touch(ctx context.Context, route string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE restlimit_hashes SET last_access = ? WHERE route = ?`, at.UnixMilli(), route,
	)
	if err != nil {
		return fmt.Errorf("restlimit/store: touch %s: %w", route, err)
	}
	return nil
}

// Sweep deletes entries last accessed before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM restlimit_hashes WHERE last_access < ?`, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("restlimit/store: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
