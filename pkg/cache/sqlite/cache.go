// Package sqlite provides a persistent second cache tier so cached
// responses survive a gateway restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/gatecache/pkg/cache"
)

// Tier is a cache.Tier backed by a SQLite file.
type Tier struct {
	db  *sql.DB
	now func() time.Time
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	entry BLOB NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at);
`

// New opens or creates the cache database at dbPath.
func New(dbPath string) (*Tier, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Tier{db: db, now: time.Now}, nil
}

// Name implements cache.Tier.
func (t *Tier) Name() string { return "sqlite" }

// Get retrieves an entry. Expired rows are deleted and reported absent.
func (t *Tier) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var blob []byte
	var createdAt, ttl int64

	err := t.db.QueryRowContext(ctx,
		`SELECT entry, created_at, ttl_ns FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&blob, &createdAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("cache get: %w", err)
	}

	if ttl > 0 && t.now().UnixNano()-createdAt > ttl {
		_, _ = t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return cache.Entry{}, false, nil
	}

	e, err := cache.DecodeEntry(blob)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

// Set stores an entry, replacing any previous one.
func (t *Tier) Set(ctx context.Context, key string, e cache.Entry, ttl time.Duration) error {
	blob, err := cache.EncodeEntry(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = t.now()
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, model, entry, size_bytes, created_at, ttl_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, e.Model, blob, e.Size(), created.UnixNano(), int64(ttl),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Count returns the number of stored rows and their payload bytes.
func (t *Tier) Count(ctx context.Context) (int, int64, error) {
	var n int
	var size sql.NullInt64
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(size_bytes) FROM cache_entries`).Scan(&n, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("cache count: %w", err)
	}
	return n, size.Int64, nil
}

// Clear removes all entries.
func (t *Tier) Clear(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Prune removes expired entries and returns how many were deleted.
func (t *Tier) Prune(ctx context.Context) (int64, error) {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE ttl_ns > 0 AND ? - created_at > ttl_ns`,
		t.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (t *Tier) Close() error {
	return t.db.Close()
}
