package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/mdvault/internal/types"
)

func TestAppendCreatesDailyJSONL(t *testing.T) {
	artifacts := t.TempDir()
	l := New(artifacts)

	if err := l.Append(Record{TraceID: "t-1", Op: "entity.create", EntityID: "task-1", Outcome: OutcomeOK}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(Record{TraceID: "t-2", Op: "entity.update", EntityID: "task-1", Outcome: OutcomeError}); err != nil {
		t.Fatalf("append: %v", err)
	}

	name := time.Now().UTC().Format("2006-01-02") + ".jsonl"
	f, err := os.Open(filepath.Join(artifacts, "audit", name))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		lines++
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %d not json: %v", lines, err)
		}
		if r.TS == "" || !strings.HasSuffix(r.TS, "+00:00") {
			t.Fatalf("line %d missing UTC ts: %q", lines, r.TS)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestOpRecordsDurationAndError(t *testing.T) {
	artifacts := t.TempDir()
	l := New(artifacts)

	finish := l.Op("t-9", "entity.transition", "task-1")
	finish(OutcomeError, &types.FSMError{EntityID: "task-1", From: "done", To: "doing", Reason: "no reason given"})

	name := time.Now().UTC().Format("2006-01-02") + ".jsonl"
	data, err := os.ReadFile(filepath.Join(artifacts, "audit", name))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Error == nil || r.Error.Kind != "fsm_guard_failed" {
		t.Fatalf("expected fsm_guard_failed error detail, got %+v", r.Error)
	}
	if r.DurationMS < 0 {
		t.Fatalf("negative duration")
	}
}

func TestQuarantineArtifact(t *testing.T) {
	artifacts := t.TempDir()
	l := New(artifacts)

	errs := []types.FieldError{{Category: types.CategoryCommon, Field: "title", Message: "title must be non-empty"}}
	path, err := l.Quarantine("t-A", types.KindTask, map[string]any{"title": ""}, errs, "validation_failed")
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "-t-A-task.json") {
		t.Fatalf("unexpected artifact name: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var rec QuarantineRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.TraceID != "t-A" || rec.Reason != "validation_failed" || len(rec.Errors) != 1 {
		t.Fatalf("bad record: %+v", rec)
	}
}
