package ingress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/frontmatter"
	"github.com/steveyegge/mdvault/internal/timeparsing"
	"github.com/steveyegge/mdvault/internal/types"
)

// Host is the slice of the single-writer surface the ingress handlers
// need. All entity mutations flow through it.
type Host interface {
	Create(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error)
	Upsert(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error)
	Read(ctx context.Context, id string) (*types.Entity, error)
}

// taskPrefix marks a chat message that should become a task.
const taskPrefix = "todo:"

// ChatHandler turns message.received envelopes into entities. Text
// prefixed "TODO:" becomes a task; anything else becomes a note titled
// by its first line.
type ChatHandler struct {
	Host  Host
	Audit *audit.Logger
}

func (h *ChatHandler) ID() string        { return "ingress.chat" }
func (h *ChatHandler) Handles() []string { return []string{eventbus.EventMessageReceived} }
func (h *ChatHandler) Priority() int     { return 10 }

func (h *ChatHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	text := strings.TrimSpace(env.PayloadString("text"))
	if text == "" {
		return nil
	}
	ent, err := h.handleText(ctx, env, text)
	entityID := ""
	if ent != nil {
		entityID = ent.ID()
	}
	h.Audit.Op(env.TraceID, "ingress.chat", entityID)(audit.OutcomeFor(err), err)
	return err
}

func (h *ChatHandler) handleText(ctx context.Context, env *eventbus.Envelope, text string) (*types.Entity, error) {
	kind := types.KindNote
	title := text
	header := types.Header{}

	if len(text) >= len(taskPrefix) && strings.EqualFold(text[:len(taskPrefix)], taskPrefix) {
		kind = types.KindTask
		title = strings.TrimSpace(text[len(taskPrefix):])
		if due, remaining, ok := parseDueClause(title, env.EventTS); ok {
			header.SetTime(types.FieldDueTS, due)
			title = remaining
		}
	} else if nl := strings.IndexByte(title, '\n'); nl >= 0 {
		title = strings.TrimSpace(title[:nl])
	}
	if title == "" {
		title = "untitled"
	}

	header[types.FieldTitle] = title
	header.SetTime(types.FieldCreatedTS, env.EventTS)
	header.SetTime(types.FieldUpdatedTS, env.EventTS)

	body := ""
	if kind == types.KindNote && text != title {
		body = text
	}
	return h.Host.Create(ctx, kind, header, body)
}

// parseDueClause finds a trailing natural-language due clause in a
// task title ("review report by friday 5pm"). Only clauses introduced
// by "by" count; a bare weekday inside the title text must not become
// a deadline. Returns the due instant and the title with the clause
// removed.
func parseDueClause(title string, now time.Time) (time.Time, string, bool) {
	idx := strings.LastIndex(strings.ToLower(title), " by ")
	if idx < 0 {
		return time.Time{}, "", false
	}
	clause := title[idx+len(" by "):]
	due, _, ok := timeparsing.ParseNatural(clause, now)
	if !ok {
		return time.Time{}, "", false
	}
	return due, strings.TrimSpace(title[:idx]), true
}

// DropHandler processes file.dropped envelopes: a Markdown drop with
// frontmatter is upserted as an entity, a bare Markdown drop becomes a
// note.
type DropHandler struct {
	Host  Host
	Audit *audit.Logger
}

func (h *DropHandler) ID() string        { return "ingress.drop" }
func (h *DropHandler) Handles() []string { return []string{eventbus.EventFileDropped} }
func (h *DropHandler) Priority() int     { return 10 }

func (h *DropHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	name := env.PayloadString("name")
	ent, err := h.handleDrop(ctx, env, name, env.PayloadString("contents"))
	entityID := ""
	if ent != nil {
		entityID = ent.ID()
	}
	h.Audit.Op(env.TraceID, "ingress.drop", entityID)(audit.OutcomeFor(err), err)
	return err
}

func (h *DropHandler) handleDrop(ctx context.Context, env *eventbus.Envelope, name, contents string) (*types.Entity, error) {
	if strings.HasPrefix(contents, "---\n") {
		header, body, err := frontmatter.DecodeEntity([]byte(contents))
		if err != nil {
			return nil, fmt.Errorf("ingress: drop %q: %w", name, err)
		}
		return h.Host.Upsert(ctx, kindForHeader(header), header, body)
	}

	// Bare Markdown: first line (minus any heading marker) is the
	// title, the rest the body.
	title, body := strings.TrimSuffix(name, ".md"), strings.TrimSpace(contents)
	if nl := strings.IndexByte(contents, '\n'); nl >= 0 {
		if line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(contents[:nl]), "#")); line != "" {
			title = line
			body = strings.TrimSpace(contents[nl+1:])
		}
	} else if line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(contents), "#")); line != "" {
		title = line
		body = ""
	}
	header := types.Header{types.FieldTitle: title}
	header.SetTime(types.FieldCreatedTS, env.EventTS)
	header.SetTime(types.FieldUpdatedTS, env.EventTS)
	return h.Host.Create(ctx, types.KindNote, header, body)
}

// kindForHeader infers the entity kind from an upserted header: an
// explicit id prefix wins, then signature fields.
func kindForHeader(h types.Header) types.Kind {
	if id := h.String(types.FieldID); id != "" {
		for _, k := range []types.Kind{types.KindTask, types.KindNote, types.KindEvent} {
			if strings.HasPrefix(id, string(k)+"-") {
				return k
			}
		}
	}
	if _, ok := h[types.FieldStartTS]; ok {
		return types.KindEvent
	}
	switch h.String(types.FieldState) {
	case types.StateTodo, types.StateDoing, types.StateReview, types.StateDone, types.StateBlocked:
		return types.KindTask
	}
	if _, ok := h[types.FieldDueTS]; ok {
		return types.KindTask
	}
	return types.KindNote
}

// UpsertHandler processes entity.upsert_requested envelopes. Ordering
// inversion is tolerated: an update for an entity that does not exist
// creates it with the update as initial state, and a later create for
// an existing id is a no-op.
type UpsertHandler struct {
	Host  Host
	Audit *audit.Logger
}

func (h *UpsertHandler) ID() string        { return "ingress.upsert" }
func (h *UpsertHandler) Handles() []string { return []string{eventbus.EventEntityUpserted} }
func (h *UpsertHandler) Priority() int     { return 10 }

func (h *UpsertHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	op := env.PayloadString("op")
	kind := types.Kind(env.PayloadString("kind"))
	if !kind.IsValid() {
		return fmt.Errorf("ingress: upsert with unknown kind %q", env.PayloadString("kind"))
	}
	rawHeader, _ := env.Payload["header"].(map[string]any)
	header := types.Header(rawHeader).Clone()
	if header == nil {
		header = types.Header{}
	}
	body := env.PayloadString("body")
	id := header.String(types.FieldID)
	finish := h.Audit.Op(env.TraceID, "ingress.upsert."+op, id)

	var err error
	switch op {
	case "create":
		if id != "" {
			_, readErr := h.Host.Read(ctx, id)
			if readErr == nil {
				// Late create after an inverted update already
				// materialized the entity.
				debug.Logf("ingress: create for existing %s is a no-op\n", id)
				finish(audit.OutcomeDuplicate, nil)
				return nil
			}
			if !errors.Is(readErr, types.ErrNotFound) {
				finish(audit.OutcomeFor(readErr), readErr)
				return readErr
			}
		}
		_, err = h.Host.Upsert(ctx, kind, header, body)
	case "update":
		if id == "" {
			err = fmt.Errorf("ingress: update without id")
			finish(audit.OutcomeError, err)
			return err
		}
		if _, readErr := h.Host.Read(ctx, id); errors.Is(readErr, types.ErrNotFound) {
			debug.Logf("ingress: update for missing %s inverted into create\n", id)
			if _, ok := header[types.FieldCreatedTS]; !ok {
				header.SetTime(types.FieldCreatedTS, env.EventTS)
			}
		}
		_, err = h.Host.Upsert(ctx, kind, header, body)
	default:
		err = fmt.Errorf("ingress: unknown upsert op %q", op)
	}
	finish(audit.OutcomeFor(err), err)
	return err
}
