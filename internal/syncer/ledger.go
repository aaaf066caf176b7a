// Package syncer implements two-way mirroring between vault entities
// and external calendar-like systems: a durable per-remote-id ledger,
// echo suppression, latest-wins conflict resolution, and the pull/push
// reconciliation loop.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/mdvault/internal/statedb"
	"github.com/steveyegge/mdvault/internal/timeutil"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS sync_ledger (
    source               TEXT NOT NULL,
    remote_id            TEXT NOT NULL,
    entity_id            TEXT NOT NULL DEFAULT '',
    version_seen         INTEGER NOT NULL DEFAULT 0,
    etag_seen            TEXT NOT NULL DEFAULT '',
    last_sync_ts         TEXT NOT NULL DEFAULT '',
    last_write_ts_local  TEXT NOT NULL DEFAULT '',
    last_write_ts_remote TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (source, remote_id)
);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_entity ON sync_ledger(entity_id);
`

// Row is one ledger record: what we last saw and last wrote for a
// mirrored remote object.
type Row struct {
	Source            string
	RemoteID          string
	EntityID          string
	VersionSeen       int64
	EtagSeen          string
	LastSyncTS        time.Time
	LastWriteTSLocal  time.Time
	LastWriteTSRemote time.Time
}

// Ledger is the durable (source, remote_id) bookkeeping table.
type Ledger struct {
	db *sql.DB
}

// OpenLedger creates or opens the ledger at path (":memory:" for tests).
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("syncer: init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Get returns the row for (source, remoteID), or nil when the remote
// object has never been seen.
func (l *Ledger) Get(ctx context.Context, source, remoteID string) (*Row, error) {
	var r Row
	var lastSync, lastLocal, lastRemote string
	err := l.db.QueryRowContext(ctx, `
		SELECT source, remote_id, entity_id, version_seen, etag_seen,
		       last_sync_ts, last_write_ts_local, last_write_ts_remote
		FROM sync_ledger WHERE source = ? AND remote_id = ?`,
		source, remoteID).
		Scan(&r.Source, &r.RemoteID, &r.EntityID, &r.VersionSeen, &r.EtagSeen,
			&lastSync, &lastLocal, &lastRemote)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncer: ledger get: %w", err)
	}
	for _, pair := range []struct {
		raw  string
		into *time.Time
	}{{lastSync, &r.LastSyncTS}, {lastLocal, &r.LastWriteTSLocal}, {lastRemote, &r.LastWriteTSRemote}} {
		if pair.raw == "" {
			continue
		}
		t, err := timeutil.Parse(pair.raw)
		if err != nil {
			return nil, fmt.Errorf("syncer: ledger row (%s, %s): %w", source, remoteID, err)
		}
		*pair.into = t
	}
	return &r, nil
}

// Put upserts a row. Zero time fields are stored as empty strings.
func (l *Ledger) Put(ctx context.Context, r Row) error {
	fmtTS := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return timeutil.Format(t)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_ledger
		    (source, remote_id, entity_id, version_seen, etag_seen,
		     last_sync_ts, last_write_ts_local, last_write_ts_remote)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, remote_id) DO UPDATE SET
		    entity_id            = excluded.entity_id,
		    version_seen         = excluded.version_seen,
		    etag_seen            = excluded.etag_seen,
		    last_sync_ts         = excluded.last_sync_ts,
		    last_write_ts_local  = excluded.last_write_ts_local,
		    last_write_ts_remote = excluded.last_write_ts_remote`,
		r.Source, r.RemoteID, r.EntityID, r.VersionSeen, r.EtagSeen,
		fmtTS(r.LastSyncTS), fmtTS(r.LastWriteTSLocal), fmtTS(r.LastWriteTSRemote))
	if err != nil {
		return fmt.Errorf("syncer: ledger put: %w", err)
	}
	return nil
}

// Tombstone clears the entity binding for a locally deleted mirrored
// entity. The row survives so a later pull of the still-live remote
// object does not resurrect the entity as brand new history.
func (l *Ledger) Tombstone(ctx context.Context, entityID string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE sync_ledger SET entity_id = '' WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("syncer: tombstone %s: %w", entityID, err)
	}
	return nil
}

// ByEntity returns the row bound to entityID, or nil.
func (l *Ledger) ByEntity(ctx context.Context, entityID string) (*Row, error) {
	var source, remoteID string
	err := l.db.QueryRowContext(ctx,
		`SELECT source, remote_id FROM sync_ledger WHERE entity_id = ?`, entityID).
		Scan(&source, &remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncer: ledger by entity: %w", err)
	}
	return l.Get(ctx, source, remoteID)
}

// Reconcile drops rows whose entity no longer exists and is not a
// tombstone. Runs at startup after the vault scan.
func (l *Ledger) Reconcile(ctx context.Context, entityExists func(id string) bool) (int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT source, remote_id, entity_id FROM sync_ledger WHERE entity_id != ''`)
	if err != nil {
		return 0, fmt.Errorf("syncer: ledger scan: %w", err)
	}
	type key struct{ source, remoteID string }
	var stale []key
	for rows.Next() {
		var k key
		var entityID string
		if err := rows.Scan(&k.source, &k.remoteID, &entityID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("syncer: ledger scan: %w", err)
		}
		if !entityExists(entityID) {
			stale = append(stale, k)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	var dropped int64
	for _, k := range stale {
		if _, err := l.db.ExecContext(ctx,
			`DELETE FROM sync_ledger WHERE source = ? AND remote_id = ?`,
			k.source, k.remoteID); err != nil {
			return dropped, fmt.Errorf("syncer: ledger reconcile: %w", err)
		}
		dropped++
	}
	return dropped, nil
}
