package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

func TestFingerprintStableAcrossRepresentation(t *testing.T) {
	a, err := Fingerprint("chat", "msg-1", map[string]any{"b": 1.0, "a": "x"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := Fingerprint("chat", "msg-1", map[string]any{"a": "x", "b": 1})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("fingerprints differ for equivalent payloads:\n%s\n%s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-hex fingerprint, got %d chars", len(a))
	}

	c, err := Fingerprint("chat", "msg-2", map[string]any{"a": "x", "b": 1})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a == c {
		t.Fatalf("different external ids must not collide")
	}
}

// fakeHost records writes and serves reads from an in-memory map.
type fakeHost struct {
	entities map[string]*types.Entity
	created  []*types.Entity
	upserted []*types.Entity
}

func newFakeHost() *fakeHost {
	return &fakeHost{entities: map[string]*types.Entity{}}
}

func (f *fakeHost) Create(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error) {
	h := header.Clone()
	if h.String(types.FieldID) == "" {
		h[types.FieldID] = string(kind) + "-test-" + h.String(types.FieldTitle)
	}
	if h.String(types.FieldState) == "" {
		h[types.FieldState] = kind.DefaultState()
	}
	ent := &types.Entity{Kind: kind, Header: h, Body: body}
	f.entities[ent.ID()] = ent
	f.created = append(f.created, ent)
	return ent, nil
}

func (f *fakeHost) Upsert(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error) {
	id := header.String(types.FieldID)
	if existing, ok := f.entities[id]; ok {
		existing.Header = existing.Header.Merge(header)
		existing.Body = body
		f.upserted = append(f.upserted, existing)
		return existing, nil
	}
	ent, err := f.Create(ctx, kind, header, body)
	if err != nil {
		return nil, err
	}
	f.upserted = append(f.upserted, ent)
	return ent, nil
}

func (f *fakeHost) Read(ctx context.Context, id string) (*types.Entity, error) {
	ent, ok := f.entities[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return ent, nil
}

func chatEnvelope(text string, ts time.Time) *eventbus.Envelope {
	env := eventbus.NewEnvelope("chat", eventbus.EventMessageReceived, map[string]any{
		"external_id": "msg-100",
		"text":        text,
	})
	env.EventTS = timeutil.Truncate(ts)
	return env
}

func TestChatHandlerCreatesTask(t *testing.T) {
	host := newFakeHost()
	h := &ChatHandler{Host: host, Audit: audit.New(t.TempDir())}

	ts := time.Date(2025, 10, 8, 13, 42, 17, 0, time.UTC)
	if err := h.Handle(context.Background(), chatEnvelope("TODO: Review Q4 report", ts)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(host.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(host.created))
	}
	ent := host.created[0]
	if ent.Kind != types.KindTask {
		t.Fatalf("expected a task, got %s", ent.Kind)
	}
	if ent.Title() != "Review Q4 report" {
		t.Fatalf("title = %q", ent.Title())
	}
	if got := ent.Header.String(types.FieldCreatedTS); got != "2025-10-08T13:42:17+00:00" {
		t.Fatalf("created_ts = %q", got)
	}
}

func TestChatHandlerExtractsDueClause(t *testing.T) {
	host := newFakeHost()
	h := &ChatHandler{Host: host, Audit: audit.New(t.TempDir())}

	ts := time.Date(2025, 10, 8, 13, 0, 0, 0, time.UTC)
	if err := h.Handle(context.Background(), chatEnvelope("TODO: ship the release by tomorrow 5pm", ts)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	ent := host.created[0]
	if ent.Title() != "ship the release" {
		t.Fatalf("title = %q, want due clause stripped", ent.Title())
	}
	due, err := ent.Header.Time(types.FieldDueTS)
	if err != nil {
		t.Fatalf("due_ts: %v", err)
	}
	if due.Day() != 9 || due.Hour() != 17 {
		t.Fatalf("due_ts = %v, want Oct 9 17:00", due)
	}
}

func TestChatHandlerPlainTextBecomesNote(t *testing.T) {
	host := newFakeHost()
	h := &ChatHandler{Host: host, Audit: audit.New(t.TempDir())}

	text := "Meeting thoughts\nWe should revisit the roadmap."
	if err := h.Handle(context.Background(), chatEnvelope(text, timeutil.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	ent := host.created[0]
	if ent.Kind != types.KindNote {
		t.Fatalf("expected a note, got %s", ent.Kind)
	}
	if ent.Title() != "Meeting thoughts" {
		t.Fatalf("title = %q", ent.Title())
	}
	if ent.Body != text {
		t.Fatalf("body = %q", ent.Body)
	}
}

func TestUpsertHandlerEditBeforeCreate(t *testing.T) {
	host := newFakeHost()
	h := &UpsertHandler{Host: host, Audit: audit.New(t.TempDir())}
	ctx := context.Background()

	mkEnv := func(op, title string) *eventbus.Envelope {
		env := eventbus.NewEnvelope("agent", eventbus.EventEntityUpserted, map[string]any{
			"op":   op,
			"kind": "task",
			"header": map[string]any{
				types.FieldID:    "task-20251008-1200-x",
				types.FieldTitle: title,
			},
			"body": "",
		})
		return env
	}

	// Update arrives first: inverted into a create with the update as
	// initial state.
	if err := h.Handle(ctx, mkEnv("update", "new")); err != nil {
		t.Fatalf("update: %v", err)
	}
	ent, err := host.Read(ctx, "task-20251008-1200-x")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ent.Title() != "new" {
		t.Fatalf("title = %q, want %q", ent.Title(), "new")
	}

	// The late create must not clobber the newer title.
	if err := h.Handle(ctx, mkEnv("create", "old")); err != nil {
		t.Fatalf("create: %v", err)
	}
	ent, _ = host.Read(ctx, "task-20251008-1200-x")
	if ent.Title() != "new" {
		t.Fatalf("late create clobbered title: %q", ent.Title())
	}
}

func TestKindForHeader(t *testing.T) {
	tests := []struct {
		header types.Header
		want   types.Kind
	}{
		{types.Header{types.FieldID: "task-20250101-0900-x"}, types.KindTask},
		{types.Header{types.FieldID: "event-20250101-0900-x"}, types.KindEvent},
		{types.Header{types.FieldStartTS: "2025-01-01T09:00:00+00:00"}, types.KindEvent},
		{types.Header{types.FieldState: "doing"}, types.KindTask},
		{types.Header{types.FieldDueTS: "2025-01-01T09:00:00+00:00"}, types.KindTask},
		{types.Header{types.FieldTitle: "just a note"}, types.KindNote},
	}
	for _, tt := range tests {
		if got := kindForHeader(tt.header); got != tt.want {
			t.Fatalf("kindForHeader(%v) = %s, want %s", tt.header, got, tt.want)
		}
	}
}

func TestDropHandlerFrontmatterUpsert(t *testing.T) {
	host := newFakeHost()
	h := &DropHandler{Host: host, Audit: audit.New(t.TempDir())}

	contents := "---\nid: task-20250101-0900-imported\ntitle: Imported task\nstate: todo\ntags: []\ncreated_ts: \"2025-01-01T09:00:00+00:00\"\nupdated_ts: \"2025-01-01T09:00:00+00:00\"\n---\nBody here.\n"
	env := eventbus.NewEnvelope("inbox", eventbus.EventFileDropped, map[string]any{
		"name":     "import.md",
		"contents": contents,
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	ent, err := host.Read(context.Background(), "task-20250101-0900-imported")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ent.Kind != types.KindTask {
		t.Fatalf("kind = %s", ent.Kind)
	}
	if ent.Title() != "Imported task" {
		t.Fatalf("title = %q", ent.Title())
	}
}
