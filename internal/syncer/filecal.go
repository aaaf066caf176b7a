package syncer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

// FileCalendar is a file-backed Calendar collaborator: the remote is a
// directory holding a JSONL change feed (inbound) and a JSONL outbox
// (outbound pushes). It exists so sync can run end to end without a
// network provider; a real API client implements the same interface.
type FileCalendar struct {
	dir    string
	source string

	mu       sync.Mutex
	versions map[string]int64 // remote_id -> highest pushed version
}

// feedRecord is one line of feed.jsonl or outbox.jsonl.
type feedRecord struct {
	RemoteID     string         `json:"remote_id"`
	Version      int64          `json:"version"`
	Etag         string         `json:"etag"`
	LastModified string         `json:"last_modified"`
	Deleted      bool           `json:"deleted,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	Header       map[string]any `json:"header,omitempty"`
	Body         string         `json:"body,omitempty"`
}

const (
	feedFile   = "feed.jsonl"
	outboxFile = "outbox.jsonl"
)

// OpenFileCalendar loads the outbox to recover per-remote-id version
// counters, so versions keep advancing across process restarts.
func OpenFileCalendar(dir, source string) (*FileCalendar, error) {
	if source == "" {
		source = "calendar"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filecal: mkdir %s: %w", dir, err)
	}
	fc := &FileCalendar{dir: dir, source: source, versions: map[string]int64{}}

	f, err := os.Open(filepath.Join(dir, outboxFile)) // #nosec G304 - path under vault state dir
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filecal: open outbox: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec feedRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Version > fc.versions[rec.RemoteID] {
			fc.versions[rec.RemoteID] = rec.Version
		}
	}
	return fc, sc.Err()
}

func (fc *FileCalendar) Source() string { return fc.source }

// Pull reads the whole feed and returns the latest record per remote
// id, ordered by remote id for determinism. The feed is append-only;
// later lines supersede earlier ones.
func (fc *FileCalendar) Pull(ctx context.Context) ([]RemoteChange, error) {
	f, err := os.Open(filepath.Join(fc.dir, feedFile)) // #nosec G304 - path under vault state dir
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filecal: open feed: %w", err)
	}
	defer func() { _ = f.Close() }()

	latest := map[string]feedRecord{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec feedRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.RemoteID == "" {
			continue
		}
		if cur, ok := latest[rec.RemoteID]; !ok || rec.Version >= cur.Version {
			latest[rec.RemoteID] = rec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("filecal: scan feed: %w", err)
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []RemoteChange
	for _, id := range ids {
		rec := latest[id]
		change := RemoteChange{
			RemoteID: rec.RemoteID,
			Version:  rec.Version,
			Etag:     rec.Etag,
			Deleted:  rec.Deleted,
			Kind:     types.Kind(rec.Kind),
			Body:     rec.Body,
		}
		if rec.LastModified != "" {
			ts, err := timeutil.Parse(rec.LastModified)
			if err != nil {
				return nil, fmt.Errorf("filecal: %s: bad last_modified: %w", rec.RemoteID, err)
			}
			change.LastModified = ts
		}
		if rec.Header != nil {
			change.Header = types.Header(rec.Header)
		}
		if change.Kind == "" {
			change.Kind = types.KindEvent
		}
		out = append(out, change)
	}
	return out, nil
}

// Push appends the entity to the outbox and returns the new remote
// version and a content etag. The remote id comes from the entity's
// x-sync block, or is derived from the entity id on first push.
func (fc *FileCalendar) Push(ctx context.Context, ent *types.Entity) (int64, string, error) {
	remoteID := ""
	if sync := ent.Header.Sync(); sync != nil {
		remoteID, _ = sync[types.SyncRemoteID].(string)
	}
	if remoteID == "" {
		remoteID = "loc-" + ent.ID()
	}

	fc.mu.Lock()
	version := fc.versions[remoteID] + 1
	fc.versions[remoteID] = version
	fc.mu.Unlock()

	etag := contentEtag(ent)
	rec := feedRecord{
		RemoteID:     remoteID,
		Version:      version,
		Etag:         etag,
		LastModified: timeutil.Format(time.Now()),
		Kind:         string(ent.Kind),
		Header:       map[string]any(ent.Header),
		Body:         ent.Body,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, "", fmt.Errorf("filecal: marshal push: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(fc.dir, outboxFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 - controlled path
	if err != nil {
		return 0, "", fmt.Errorf("filecal: open outbox: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return 0, "", fmt.Errorf("filecal: append outbox: %w", err)
	}
	return version, etag, nil
}

func contentEtag(ent *types.Entity) string {
	h := sha256.New()
	h.Write([]byte(ent.Title()))
	h.Write([]byte{0})
	h.Write([]byte(ent.State()))
	h.Write([]byte{0})
	h.Write([]byte(ent.Body))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
