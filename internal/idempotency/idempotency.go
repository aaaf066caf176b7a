// Package idempotency is the durable set of seen event fingerprints.
// It gates the event bus: a fingerprint's first sighting is recorded
// exactly once, and later sightings are no-ops regardless of retries
// or process restarts.
package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/mdvault/internal/statedb"
	"github.com/steveyegge/mdvault/internal/timeutil"
)

// DefaultTTL is how long fingerprints are retained before purge.
const DefaultTTL = 30 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS seen_events (
    fingerprint   TEXT PRIMARY KEY,
    first_seen_ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seen_events_first_seen
    ON seen_events(first_seen_ts);
`

// Store is the fingerprint set backed by a single-file SQLite db.
// Single writer per process; reads are cheap.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path (":memory:" for tests).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("idempotency: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// FirstSighting reports whether fingerprint has never been seen before,
// recording it atomically if so. INSERT OR IGNORE makes this an
// at-most-one race: concurrent callers get exactly one true.
func (s *Store) FirstSighting(ctx context.Context, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_events (fingerprint, first_seen_ts) VALUES (?, ?)`,
		fingerprint, timeutil.Format(timeutil.Now()))
	if err != nil {
		return false, fmt.Errorf("idempotency: record sighting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency: rows affected: %w", err)
	}
	return n == 1, nil
}

// PurgeOlderThan bulk-deletes fingerprints first seen before cutoff.
// Returns the number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE first_seen_ts < ?`,
		timeutil.Format(cutoff))
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return res.RowsAffected()
}

// Vacuum compacts the database file. Run from the scheduler, not the
// hot path.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("idempotency: vacuum: %w", err)
	}
	return nil
}

// Count returns the number of recorded fingerprints (for diagnostics).
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_events`).Scan(&n)
	return n, err
}
