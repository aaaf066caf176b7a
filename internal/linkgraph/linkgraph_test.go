package linkgraph

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/steveyegge/mdvault/internal/idgen"
	"github.com/steveyegge/mdvault/internal/types"
)

func entity(kind types.Kind, id, title, body string, links ...string) *types.Entity {
	h := types.Header{
		types.FieldID:    id,
		types.FieldTitle: title,
	}
	if len(links) > 0 {
		h[types.FieldLinks] = links
	}
	return &types.Entity{Kind: kind, Header: h, Body: body}
}

func TestExtractTargets(t *testing.T) {
	e := entity(types.KindTask, "task-1", "A", "see [[note-1]] and [[Q4 Numbers|the numbers]]", "note-2")
	e.Header[types.FieldDependsOn] = []string{"task-2"}
	got := ExtractTargets(e)
	want := []string{"note-2", "task-2", "note-1", "Q4 Numbers"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("targets %v, want %v", got, want)
	}
}

func TestBacklinksAndBroken(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "link_journal.log"), nil, 0)
	if err := g.Upsert(entity(types.KindNote, "note-1", "Q4 Numbers", "")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := g.Upsert(entity(types.KindTask, "task-1", "Review", "ref [[note-1]] and [[missing-9]]")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if got := g.Backlinks("note-1"); !reflect.DeepEqual(got, []string{"task-1"}) {
		t.Fatalf("backlinks: %v", got)
	}
	rep := g.Diagnose()
	if !reflect.DeepEqual(rep.Broken["task-1"], []string{"missing-9"}) {
		t.Fatalf("broken: %v", rep.Broken)
	}
}

func TestTitleAndAliasResolution(t *testing.T) {
	aliases, _ := idgen.LoadAliases(filepath.Join(t.TempDir(), ".aliases.json"))
	_ = aliases.Record("note-old", "note-1")

	g := New("", aliases, 0)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Q4 Numbers", ""))
	_ = g.Upsert(entity(types.KindTask, "task-1", "Review", "by title [[q4 numbers]] and by alias [[note-old]]"))

	if got := g.Backlinks("note-1"); !reflect.DeepEqual(got, []string{"task-1"}) {
		t.Fatalf("backlinks via title/alias: %v", got)
	}
	if len(g.Diagnose().Broken) != 0 {
		t.Fatalf("unexpected broken: %v", g.Diagnose().Broken)
	}
}

func TestDeleteMarksDangling(t *testing.T) {
	g := New("", nil, 0)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Numbers", ""))
	_ = g.Upsert(entity(types.KindTask, "task-1", "Review", "[[note-1]]"))

	if err := g.Delete("note-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rep := g.Diagnose()
	if !reflect.DeepEqual(rep.Broken["task-1"], []string{"note-1"}) {
		t.Fatalf("expected dangling edge marked broken, got %v", rep.Broken)
	}
}

func TestReferentialRestoration(t *testing.T) {
	g := New("", nil, 0)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Numbers", ""))
	_ = g.Upsert(entity(types.KindTask, "task-1", "Review", "[[note-1]]"))
	_ = g.Delete("note-1")

	before := len(g.Diagnose().Broken["task-1"])
	if before != 1 {
		t.Fatalf("setup: expected 1 broken, got %d", before)
	}

	// Re-creating the id restores the backlink and clears the break.
	_ = g.Upsert(entity(types.KindNote, "note-1", "Numbers v2", ""))
	rep := g.Diagnose()
	if len(rep.Broken["task-1"]) != 0 {
		t.Fatalf("broken not cleared: %v", rep.Broken)
	}
	if got := g.Backlinks("note-1"); !reflect.DeepEqual(got, []string{"task-1"}) {
		t.Fatalf("backlinks after restore: %v", got)
	}
}

func TestCycles(t *testing.T) {
	g := New("", nil, 0)
	_ = g.Upsert(entity(types.KindTask, "task-a", "A", "", "task-b"))
	_ = g.Upsert(entity(types.KindTask, "task-b", "B", "", "task-c"))
	_ = g.Upsert(entity(types.KindTask, "task-c", "C", "", "task-a"))
	_ = g.Upsert(entity(types.KindNote, "note-solo", "Standalone note", ""))

	rep := g.Diagnose()
	if len(rep.Cycles) != 1 || len(rep.Cycles[0]) != 3 {
		t.Fatalf("cycles: %v", rep.Cycles)
	}
	if !reflect.DeepEqual(rep.Orphans, []string{"note-solo"}) {
		t.Fatalf("orphans: %v", rep.Orphans)
	}
}

func TestNearDuplicates(t *testing.T) {
	g := New("", nil, 0.8)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Quarterly Budget Review", ""))
	_ = g.Upsert(entity(types.KindNote, "note-2", "Quarterly Budget Reviews", ""))
	_ = g.Upsert(entity(types.KindNote, "note-3", "Completely different", ""))

	rep := g.Diagnose()
	if len(rep.NearDuplicates) != 1 {
		t.Fatalf("near duplicates: %v", rep.NearDuplicates)
	}
	if rep.NearDuplicates[0] != [2]string{"note-1", "note-2"} {
		t.Fatalf("pair: %v", rep.NearDuplicates[0])
	}
}

func TestJournalReplay(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "link_journal.log")

	g := New(journal, nil, 0)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Numbers", ""))
	_ = g.Upsert(entity(types.KindTask, "task-1", "Review", "[[note-1]]"))
	_ = g.Delete("note-1")

	// Fresh graph, same journal: replay must reproduce the state.
	g2 := New(journal, nil, 0)
	if err := g2.Replay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	rep := g2.Diagnose()
	if !reflect.DeepEqual(rep.Broken["task-1"], []string{"note-1"}) {
		t.Fatalf("replayed broken: %v", rep.Broken)
	}
}

func TestRebuildTruncatesJournal(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "link_journal.log")
	g := New(journal, nil, 0)
	_ = g.Upsert(entity(types.KindNote, "note-1", "Numbers", ""))

	if err := g.Rebuild([]*types.Entity{
		entity(types.KindNote, "note-1", "Numbers", ""),
		entity(types.KindTask, "task-1", "Review", "[[note-1]]"),
	}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	g2 := New(journal, nil, 0)
	if err := g2.Replay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	// Journal was truncated by the rebuild, so replay yields nothing.
	if len(g2.Backlinks("note-1")) != 0 {
		t.Fatalf("journal should be empty after rebuild")
	}
	// The rebuilt graph itself has the full state.
	if got := g.Backlinks("note-1"); !reflect.DeepEqual(got, []string{"task-1"}) {
		t.Fatalf("rebuilt backlinks: %v", got)
	}
}
