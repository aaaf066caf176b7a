// Package types defines the core data model for the mdvault engine:
// entity kinds, the YAML header shape, task/note state machines, and
// the shared error taxonomy.
package types

import (
	"fmt"
	"time"

	"github.com/steveyegge/mdvault/internal/timeutil"
)

// Kind identifies an entity family. Each kind lives in its own
// directory under the vault root ({kind}s/{id}.md).
type Kind string

const (
	KindTask  Kind = "task"
	KindNote  Kind = "note"
	KindEvent Kind = "event"
)

// IsValid reports whether k is one of the three entity kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindTask, KindNote, KindEvent:
		return true
	}
	return false
}

// Dir returns the vault subdirectory holding files of this kind.
func (k Kind) Dir() string {
	return string(k) + "s"
}

// Task states.
const (
	StateTodo    = "todo"
	StateDoing   = "doing"
	StateReview  = "review"
	StateDone    = "done"
	StateBlocked = "blocked"
)

// Note/Event states.
const (
	StateActive   = "active"
	StateArchived = "archived"
)

// States returns the allowed state set for the kind.
func (k Kind) States() []string {
	if k == KindTask {
		return []string{StateTodo, StateDoing, StateReview, StateDone, StateBlocked}
	}
	return []string{StateActive, StateArchived}
}

// DefaultState is the state a freshly created entity receives when the
// caller did not set one.
func (k Kind) DefaultState() string {
	if k == KindTask {
		return StateTodo
	}
	return StateActive
}

// Header field names. The frontmatter codec owns the canonical ordering;
// everything else refers to fields through these constants.
const (
	FieldID             = "id"
	FieldTitle          = "title"
	FieldState          = "state"
	FieldTags           = "tags"
	FieldCreatedTS      = "created_ts"
	FieldUpdatedTS      = "updated_ts"
	FieldDueTS          = "due_ts"
	FieldStartTS        = "start_ts"
	FieldEndTS          = "end_ts"
	FieldDoneTS         = "done_ts"
	FieldLinks          = "links"
	FieldDependsOn      = "depends_on"
	FieldBlocks         = "blocks"
	FieldRelatesTo      = "relates_to"
	FieldAssignee       = "assignee"
	FieldEstimate       = "estimate"
	FieldEstimateFrozen = "estimate_frozen"
	FieldReopenReason   = "reopen_reason"
	FieldBlockedReason  = "blocked_reason"
	FieldLocation       = "location"
	FieldAttendees      = "attendees"
	FieldSync           = "x-sync"
)

// x-sync sub-map keys.
const (
	SyncSource      = "source"
	SyncRemoteID    = "remote_id"
	SyncVersionSeen = "version_seen"
	SyncEtagSeen    = "etag_seen"
	SyncLastWriteTS = "last_write_ts"
)

// Header is the parsed YAML frontmatter of an entity. Values are kept
// in their wire shape — strings, []string, and a nested map for x-sync —
// so that parse(serialize(h)) compares equal and unknown keys survive
// round trips untouched.
type Header map[string]any

// Clone returns a deep copy. Sequences and the x-sync map are copied;
// scalar values are immutable.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		switch tv := v.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []any:
			out[k] = append([]any(nil), tv...)
		case map[string]any:
			sub := make(map[string]any, len(tv))
			for sk, sv := range tv {
				sub[sk] = sv
			}
			out[k] = sub
		default:
			out[k] = v
		}
	}
	return out
}

// Merge applies delta on top of h and returns the result. A nil value
// in delta removes the key; h itself is not modified.
func (h Header) Merge(delta Header) Header {
	out := h.Clone()
	if out == nil {
		out = Header{}
	}
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the field as a string; missing or non-string yields "".
func (h Header) String(field string) string {
	s, _ := h[field].(string)
	return s
}

// StringSlice returns the field as a string slice, tolerating the
// []any shape the YAML parser can produce.
func (h Header) StringSlice(field string) []string {
	switch v := h[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Time parses the field as a UTC instant. The zero time and an error
// are returned when the field is absent or malformed.
func (h Header) Time(field string) (time.Time, error) {
	s, ok := h[field].(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("types: field %q not set", field)
	}
	return timeutil.Parse(s)
}

// SetTime stores an instant in canonical wire form.
func (h Header) SetTime(field string, t time.Time) {
	h[field] = timeutil.Format(t)
}

// Bool returns the field as a bool, tolerating the string forms the
// YAML layer may have preserved.
func (h Header) Bool(field string) bool {
	switch v := h[field].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Sync returns the x-sync sub-map, or nil when the entity is not
// mirrored from a remote system.
func (h Header) Sync() map[string]any {
	m, _ := h[FieldSync].(map[string]any)
	return m
}

// Entity is a single vault record: one Markdown file with a YAML header.
type Entity struct {
	Kind   Kind
	Header Header
	Body   string
}

// ID returns the entity id from the header.
func (e *Entity) ID() string { return e.Header.String(FieldID) }

// Title returns the entity title from the header.
func (e *Entity) Title() string { return e.Header.String(FieldTitle) }

// State returns the current lifecycle state.
func (e *Entity) State() string { return e.Header.String(FieldState) }

// Path returns the vault-relative file path for the entity.
func (e *Entity) Path() string {
	return e.Kind.Dir() + "/" + e.ID() + ".md"
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	return &Entity{Kind: e.Kind, Header: e.Header.Clone(), Body: e.Body}
}
