package rollup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/mdvault/internal/types"
)

type listHost struct {
	ents []*types.Entity
}

func (h *listHost) List(ctx context.Context, kind *types.Kind, filter func(*types.Entity) bool) ([]*types.Entity, error) {
	return h.ents, nil
}

func entity(kind types.Kind, id, title, state string, fields map[string]time.Time, tags ...string) *types.Entity {
	h := types.Header{
		types.FieldID:    id,
		types.FieldTitle: title,
		types.FieldState: state,
		types.FieldTags:  tags,
	}
	created := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	h.SetTime(types.FieldCreatedTS, created)
	h.SetTime(types.FieldUpdatedTS, created)
	for field, ts := range fields {
		h.SetTime(field, ts)
	}
	return &types.Entity{Kind: kind, Header: h}
}

func TestDailyFallBackWindow(t *testing.T) {
	// 2025-10-26 in Brussels is the fall-back day: 25 hours, covering
	// [2025-10-25T22:00Z, 2025-10-26T23:00Z).
	inside := time.Date(2025, 10, 26, 22, 30, 0, 0, time.UTC)
	before := time.Date(2025, 10, 25, 21, 59, 0, 0, time.UTC)
	after := time.Date(2025, 10, 26, 23, 0, 0, 0, time.UTC)

	host := &listHost{ents: []*types.Entity{
		entity(types.KindEvent, "event-a", "Late event", types.StateActive,
			map[string]time.Time{types.FieldStartTS: inside}, "work"),
		entity(types.KindEvent, "event-b", "Too early", types.StateActive,
			map[string]time.Time{types.FieldStartTS: before}),
		entity(types.KindEvent, "event-c", "Too late", types.StateActive,
			map[string]time.Time{types.FieldStartTS: after}),
	}}

	doc, err := New(host).Daily(context.Background(), "2025-10-26", "Europe/Brussels")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if doc.Window.Duration() != 25*time.Hour {
		t.Fatalf("window duration = %v, want 25h", doc.Window.Duration())
	}
	if !doc.Window.DST {
		t.Fatalf("DST flag not set on a transition day")
	}
	if len(doc.Events) != 1 || doc.Events[0].ID != "event-a" {
		t.Fatalf("events = %+v", doc.Events)
	}
	if doc.TagCounts["work"] != 1 {
		t.Fatalf("tag counts = %v", doc.TagCounts)
	}

	md := doc.Markdown()
	if !strings.Contains(md, "DST transition") {
		t.Fatalf("markdown missing DST note:\n%s", md)
	}
}

func TestDailySections(t *testing.T) {
	day := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)

	host := &listHost{ents: []*types.Entity{
		entity(types.KindTask, "task-done", "Shipped", types.StateDone,
			map[string]time.Time{types.FieldDoneTS: day, types.FieldStartTS: day.Add(-time.Hour)}, "release"),
		entity(types.KindTask, "task-doing", "In flight", types.StateDoing,
			map[string]time.Time{types.FieldStartTS: day.Add(-2 * time.Hour)}, "release"),
		entity(types.KindTask, "task-due", "Deadline", types.StateTodo,
			map[string]time.Time{types.FieldDueTS: day.Add(3 * time.Hour)}),
		entity(types.KindTask, "task-elsewhere", "Other day", types.StateTodo,
			map[string]time.Time{types.FieldDueTS: day.AddDate(0, 0, 5)}),
		entity(types.KindNote, "note-x", "Just a note", types.StateActive, nil),
	}}

	doc, err := New(host).Daily(context.Background(), "2025-10-08", "UTC")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if doc.Window.DST {
		t.Fatalf("unexpected DST flag")
	}
	if len(doc.Completed) != 1 || doc.Completed[0].ID != "task-done" {
		t.Fatalf("completed = %+v", doc.Completed)
	}
	if len(doc.InProgress) != 1 || doc.InProgress[0].ID != "task-doing" {
		t.Fatalf("in progress = %+v", doc.InProgress)
	}
	if len(doc.Due) != 1 || doc.Due[0].ID != "task-due" {
		t.Fatalf("due = %+v", doc.Due)
	}
	if doc.TagCounts["release"] != 2 {
		t.Fatalf("tag counts = %v", doc.TagCounts)
	}
}

func TestInvalidEntitiesCountedAsQuarantined(t *testing.T) {
	day := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	bad := entity(types.KindTask, "task-bad", "", types.StateTodo,
		map[string]time.Time{types.FieldDueTS: day})
	// Empty title fails validation; the task must not appear in any
	// section, only in the quarantined count.
	host := &listHost{ents: []*types.Entity{bad}}

	doc, err := New(host).Daily(context.Background(), "2025-10-08", "UTC")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(doc.Due) != 0 {
		t.Fatalf("invalid entity leaked into a section")
	}
	if doc.Quarantined != 1 {
		t.Fatalf("quarantined = %d, want 1", doc.Quarantined)
	}
	if !strings.Contains(doc.Markdown(), "Quarantined") {
		t.Fatalf("markdown missing quarantined section")
	}
}

func TestWeeklyWindow(t *testing.T) {
	doc, err := New(&listHost{}).Weekly(context.Background(), "2025-10-08", "UTC")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if doc.Window.Duration() != 7*24*time.Hour {
		t.Fatalf("duration = %v", doc.Window.Duration())
	}
	// Oct 8 2025 is a Wednesday; the week starts Monday Oct 6.
	wantStart := time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	if !doc.Window.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", doc.Window.Start, wantStart)
	}
	if doc.Markdown() == "" {
		t.Fatalf("empty markdown")
	}
}
