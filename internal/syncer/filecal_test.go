package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/mdvault/internal/types"
)

func TestFileCalendarPullLatestWins(t *testing.T) {
	dir := t.TempDir()
	feed := `{"remote_id":"ev-1","version":1,"etag":"a","last_modified":"2025-10-08T09:00:00+00:00","kind":"event","header":{"title":"Standup"}}
{"remote_id":"ev-1","version":2,"etag":"b","last_modified":"2025-10-08T10:00:00+00:00","kind":"event","header":{"title":"Standup (moved)"}}
{"remote_id":"ev-2","version":1,"etag":"c","last_modified":"2025-10-08T11:00:00+00:00","deleted":true}
`
	if err := os.WriteFile(filepath.Join(dir, feedFile), []byte(feed), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	fc, err := OpenFileCalendar(dir, "calendar")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	changes, err := fc.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].RemoteID != "ev-1" || changes[0].Version != 2 || changes[0].Etag != "b" {
		t.Fatalf("ev-1 latest = %+v", changes[0])
	}
	if changes[0].Header.String(types.FieldTitle) != "Standup (moved)" {
		t.Fatalf("stale feed line won: %+v", changes[0].Header)
	}
	if !changes[1].Deleted {
		t.Fatalf("ev-2 delete lost: %+v", changes[1])
	}
}

func TestFileCalendarPushVersionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	fc, err := OpenFileCalendar(dir, "calendar")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ent := &types.Entity{Kind: types.KindEvent, Header: types.Header{
		types.FieldID:    "event-20251008-0900-standup",
		types.FieldTitle: "Standup",
		types.FieldState: types.StateActive,
	}}
	v1, etag1, err := fc.Push(context.Background(), ent)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if v1 != 1 || etag1 == "" {
		t.Fatalf("first push version = %d etag = %q", v1, etag1)
	}
	v2, _, err := fc.Push(context.Background(), ent)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("second push version = %d, want 2", v2)
	}

	reopened, err := OpenFileCalendar(dir, "calendar")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v3, _, err := reopened.Push(context.Background(), ent)
	if err != nil {
		t.Fatalf("push after reopen: %v", err)
	}
	if v3 != 3 {
		t.Fatalf("version after reopen = %d, want 3", v3)
	}
}

func TestFileCalendarEmptyFeed(t *testing.T) {
	fc, err := OpenFileCalendar(t.TempDir(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fc.Source() != "calendar" {
		t.Fatalf("default source = %q", fc.Source())
	}
	changes, err := fc.Pull(context.Background())
	if err != nil || changes != nil {
		t.Fatalf("empty pull = %v, %v", changes, err)
	}
}
