package frontmatter

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/steveyegge/mdvault/internal/types"
)

func sampleHeader() types.Header {
	return types.Header{
		types.FieldID:        "task-20251008-1342-review-q4-report",
		types.FieldTitle:     "Review Q4 report",
		types.FieldState:     "todo",
		types.FieldTags:      []string{"work", "finance"},
		types.FieldCreatedTS: "2025-10-08T13:42:17+00:00",
		types.FieldUpdatedTS: "2025-10-08T13:42:17+00:00",
		types.FieldLinks:     []string{"note-20251001-0900-q4-numbers"},
		types.FieldAssignee:  "sam",
		types.FieldSync: map[string]any{
			types.SyncSource:      "gcal",
			types.SyncRemoteID:    "evt_123",
			types.SyncVersionSeen: int64(7),
			types.SyncEtagSeen:    "E7",
			types.SyncLastWriteTS: "2025-10-08T13:42:17+00:00",
		},
		"custom_field": "plain",
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	h := sampleHeader()
	a, err := Serialize(h)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, err := Serialize(h.Clone())
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("non-deterministic output:\n%s\nvs\n%s", a, b)
		}
	}
}

func TestCanonicalKeyOrder(t *testing.T) {
	out, err := Serialize(sampleHeader())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	lines := strings.Split(string(out), "\n")
	var topKeys []string
	for _, l := range lines {
		if l == "" || strings.HasPrefix(l, " ") || strings.HasPrefix(l, "  -") {
			continue
		}
		topKeys = append(topKeys, strings.SplitN(l, ":", 2)[0])
	}
	want := []string{"id", "title", "state", "tags", "created_ts", "updated_ts", "links", "assignee", "x-sync", "custom_field"}
	if !reflect.DeepEqual(topKeys, want) {
		t.Fatalf("key order %v, want %v", topKeys, want)
	}
}

func TestRoundTripHeader(t *testing.T) {
	h := sampleHeader()
	out, err := Serialize(h)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	back, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, out)
	}
	if !reflect.DeepEqual(types.Header(back), h) {
		t.Fatalf("round trip mismatch:\nparsed:  %#v\noriginal: %#v", back, h)
	}

	// serialize(parse(s)) == s for any s the codec emits.
	again, err := Serialize(back)
	if err != nil {
		t.Fatalf("reserialize: %v", err)
	}
	if !bytes.Equal(out, again) {
		t.Fatalf("byte round trip mismatch:\n%s\nvs\n%s", out, again)
	}
}

func TestQuotingRules(t *testing.T) {
	h := types.Header{
		types.FieldID:    "note-1",
		types.FieldTitle: "watch out: colons",
		"wiki":           "[[task-20251008-1342-review]]",
		"numeric":        "42",
		"boolish":        "true",
		"octothorpe":     "#tag",
		"plain":          "nothing special",
	}
	out, err := Serialize(h)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`title: "watch out: colons"`,
		`wiki: "[[task-20251008-1342-review]]"`,
		`numeric: "42"`,
		`boolish: "true"`,
		`octothorpe: "#tag"`,
		"plain: nothing special",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}

	back, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back["numeric"] != "42" || back["boolish"] != "true" {
		t.Fatalf("quoted scalars must stay strings: %#v", back)
	}
}

func TestSequencesAreBlockStyle(t *testing.T) {
	h := types.Header{
		types.FieldID:   "note-1",
		types.FieldTags: []string{"a", "b"},
	}
	out, _ := Serialize(h)
	if !strings.Contains(string(out), "tags:\n  - a\n  - b\n") {
		t.Fatalf("expected block list:\n%s", out)
	}
}

func TestEmptySequence(t *testing.T) {
	h := types.Header{types.FieldID: "note-1", types.FieldTags: []string{}}
	out, _ := Serialize(h)
	if !strings.Contains(string(out), "tags: []\n") {
		t.Fatalf("expected empty flow seq:\n%s", out)
	}
	back, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, ok := back[types.FieldTags].([]string); !ok || len(got) != 0 {
		t.Fatalf("expected empty []string, got %#v", back[types.FieldTags])
	}
}

func TestEncodeDecodeEntity(t *testing.T) {
	h := sampleHeader()
	body := "# Review\n\nSee [[note-20251001-0900-q4-numbers]].\n"
	data, err := EncodeEntity(h, body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\nid: ") {
		t.Fatalf("bad prefix:\n%s", data[:40])
	}

	gotHeader, gotBody, err := DecodeEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotBody != body {
		t.Fatalf("body mismatch: %q", gotBody)
	}
	if !reflect.DeepEqual(gotHeader, h) {
		t.Fatalf("header mismatch: %#v", gotHeader)
	}
}

func TestDecodeEntityErrors(t *testing.T) {
	if _, _, err := DecodeEntity([]byte("no delimiter")); err == nil {
		t.Fatalf("expected error for missing delimiter")
	}
	if _, _, err := DecodeEntity([]byte("---\nid: x\n")); err == nil {
		t.Fatalf("expected error for unterminated header")
	}
}

func TestParseRejectsNestedSequences(t *testing.T) {
	if _, err := Parse([]byte("tags:\n  - [a, b]\n")); err == nil {
		t.Fatalf("expected error for nested sequence")
	}
}
