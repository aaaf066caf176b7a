// Package vault implements the Host: the single writer for all entity
// files. Every mutation runs the same path (per-id lock, header merge,
// validation, atomic write, link graph update, post-write event) and
// every rejection leaves a quarantine artifact instead of a file
// change.
package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/mdvault/internal/atomicfile"
	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/frontmatter"
	"github.com/steveyegge/mdvault/internal/idgen"
	"github.com/steveyegge/mdvault/internal/linkgraph"
	"github.com/steveyegge/mdvault/internal/lockfile"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/validation"
)

// Well-known paths under the vault root.
const (
	LocksDir    = ".locks"
	StateDir    = ".state"
	AliasFile   = ".aliases.json"
	InboxDir    = "inbox"
	ArtifactDir = "artifacts"
	JournalFile = "link_journal.log"
)

// Options tune a Host. Zero values select defaults.
type Options struct {
	Bus                *eventbus.Bus
	Audit              *audit.Logger
	LockTimeout        time.Duration
	NearDupThreshold   float64
	Now                func() time.Time // test hook
	SkipStartupRebuild bool             // test hook
}

// Host is the single-writer component. All callers that mutate the
// vault go through it; reads are lock-free.
type Host struct {
	root        string
	aliases     *idgen.Aliases
	graph       *linkgraph.Graph
	bus         *eventbus.Bus
	audit       *audit.Logger
	lockTimeout time.Duration
	now         func() time.Time

	// seq numbers the post-write envelopes this Host emits.
	seqMu sync.Mutex
	seq   int64
}

// Init creates the on-disk vault layout. Safe to call on an existing
// vault.
func Init(root string) error {
	dirs := []string{
		root,
		filepath.Join(root, types.KindTask.Dir()),
		filepath.Join(root, types.KindNote.Dir()),
		filepath.Join(root, types.KindEvent.Dir()),
		filepath.Join(root, InboxDir),
		filepath.Join(root, LocksDir),
		filepath.Join(root, StateDir),
		filepath.Join(root, ArtifactDir, "audit"),
		filepath.Join(root, ArtifactDir, "quarantine"),
		filepath.Join(root, ArtifactDir, "rollups"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("vault: init %s: %w", d, err)
		}
	}
	return nil
}

// Open loads a Host over an initialized vault and runs startup
// recovery: entity files are scanned and the link graph rebuilt from
// them. Entity files are the source of truth; the graph is always
// re-derivable.
func Open(root string, opts Options) (*Host, error) {
	if err := Init(root); err != nil {
		return nil, err
	}
	aliases, err := idgen.LoadAliases(filepath.Join(root, AliasFile))
	if err != nil {
		return nil, err
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = lockfile.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = timeutil.Now
	}
	if opts.Audit == nil {
		opts.Audit = audit.New(filepath.Join(root, ArtifactDir))
	}

	h := &Host{
		root:        root,
		aliases:     aliases,
		graph:       linkgraph.New(filepath.Join(root, StateDir, JournalFile), aliases, opts.NearDupThreshold),
		bus:         opts.Bus,
		audit:       opts.Audit,
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
	}

	if !opts.SkipStartupRebuild {
		ents, err := h.List(context.Background(), nil, nil)
		if err != nil {
			return nil, err
		}
		if err := h.graph.Rebuild(ents); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Root returns the vault root directory.
func (h *Host) Root() string { return h.root }

// Graph exposes the link graph for diagnostics and backlink queries.
func (h *Host) Graph() *linkgraph.Graph { return h.graph }

// Aliases exposes the historical id alias table.
func (h *Host) Aliases() *idgen.Aliases { return h.aliases }

func (h *Host) entityPath(kind types.Kind, id string) string {
	return filepath.Join(h.root, kind.Dir(), id+".md")
}

// kindFromID derives the entity kind from the id prefix.
func kindFromID(id string) (types.Kind, error) {
	dash := strings.IndexByte(id, '-')
	if dash > 0 {
		k := types.Kind(id[:dash])
		if k.IsValid() {
			return k, nil
		}
	}
	return "", fmt.Errorf("vault: id %q has no kind prefix: %w", id, types.ErrNotFound)
}

// EntityExists reports whether an entity file is present on disk.
func (h *Host) EntityExists(id string) bool {
	id = h.aliases.Resolve(id)
	kind, err := kindFromID(id)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(h.entityPath(kind, id))
	return statErr == nil
}

// Read parses and returns the entity. Historical alias ids resolve to
// the current id.
func (h *Host) Read(ctx context.Context, id string) (*types.Entity, error) {
	id = h.aliases.Resolve(id)
	kind, err := kindFromID(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(h.entityPath(kind, id)) // #nosec G304 - vault-confined path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", id, err)
	}
	header, body, err := frontmatter.DecodeEntity(data)
	if err != nil {
		return nil, fmt.Errorf("vault: decode %s: %w", id, err)
	}
	return &types.Entity{Kind: kind, Header: header, Body: body}, nil
}

// List returns entities of the given kind (nil for all), filtered by
// the optional predicate. Unparseable files are skipped with a debug
// note; they surface through doctor, not through every listing.
func (h *Host) List(ctx context.Context, kind *types.Kind, filter func(*types.Entity) bool) ([]*types.Entity, error) {
	kinds := []types.Kind{types.KindTask, types.KindNote, types.KindEvent}
	if kind != nil {
		kinds = []types.Kind{*kind}
	}
	var out []*types.Entity
	for _, k := range kinds {
		dir := filepath.Join(h.root, k.Dir())
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("vault: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".md")
			ent, err := h.Read(ctx, id)
			if err != nil {
				debug.Logf("vault: skipping %s/%s: %v\n", k.Dir(), e.Name(), err)
				continue
			}
			if filter == nil || filter(ent) {
				out = append(out, ent)
			}
		}
	}
	return out, nil
}

// Create writes a new entity. The id is generated from kind, title,
// and created_ts unless the header already carries one (imports).
func (h *Host) Create(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error) {
	return h.create(ctx, kind, header, body, false)
}

func (h *Host) create(ctx context.Context, kind types.Kind, header types.Header, body string, syncOrigin bool) (*types.Entity, error) {
	trace := newTrace()
	hdr := header.Clone()
	if hdr == nil {
		hdr = types.Header{}
	}

	now := h.now()
	created, err := hdr.Time(types.FieldCreatedTS)
	if err != nil {
		created = now
		hdr.SetTime(types.FieldCreatedTS, created)
	}
	if _, err := hdr.Time(types.FieldUpdatedTS); err != nil {
		hdr.SetTime(types.FieldUpdatedTS, created)
	}
	if hdr.String(types.FieldState) == "" {
		hdr[types.FieldState] = kind.DefaultState()
	}
	if _, ok := hdr[types.FieldTags]; !ok {
		hdr[types.FieldTags] = []string{}
	}
	generated := hdr.String(types.FieldID) == ""
	if generated {
		hdr[types.FieldID] = idgen.Generate(kind, hdr.String(types.FieldTitle), created, h.EntityExists)
	}

	finish := h.audit.Op(trace, "host.create", hdr.String(types.FieldID))
	ent, err := h.writeNew(ctx, trace, kind, hdr, body, syncOrigin, generated, created)
	finish(audit.OutcomeFor(err), err)
	return ent, err
}

// Update merges a header delta into an existing entity. A nil value
// in the delta removes the key; body is replaced only when non-nil. A
// state change in the delta runs through the FSM guard table.
func (h *Host) Update(ctx context.Context, id string, delta types.Header, body *string) (*types.Entity, error) {
	return h.update(ctx, id, delta, body, false)
}

func (h *Host) update(ctx context.Context, id string, delta types.Header, body *string, syncOrigin bool) (*types.Entity, error) {
	trace := newTrace()
	id = h.aliases.Resolve(id)
	finish := h.audit.Op(trace, "host.update", id)

	ent, err := h.applyUpdate(ctx, trace, id, delta, body, syncOrigin)
	finish(audit.OutcomeFor(err), err)
	return ent, err
}

func (h *Host) applyUpdate(ctx context.Context, trace, id string, delta types.Header, body *string, syncOrigin bool) (*types.Entity, error) {
	kind, err := kindFromID(id)
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Acquire(ctx, filepath.Join(h.root, LocksDir), id, h.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	cur, err := h.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	hdr := cur.Header
	delta = delta.Clone()
	if delta == nil {
		delta = types.Header{}
	}
	delete(delta, types.FieldID) // ids are immutable

	// A state change in the delta is a transition and must pass the
	// guard table before the rest of the delta applies.
	if newState := delta.String(types.FieldState); newState != "" && newState != hdr.String(types.FieldState) {
		reason := delta.String(types.FieldReopenReason)
		if reason == "" {
			reason = delta.String(types.FieldBlockedReason)
		}
		hdr, err = validation.Transition(kind, hdr, newState, reason, h.now())
		if err != nil {
			h.quarantine(trace, kind, delta, err)
			return nil, err
		}
		delete(delta, types.FieldState)
	}

	hdr = hdr.Merge(delta)
	hdr.SetTime(types.FieldUpdatedTS, h.now())

	newBody := cur.Body
	if body != nil {
		newBody = *body
	}
	return h.writeLocked(ctx, trace, kind, hdr, newBody, false, syncOrigin, "")
}

// Transition moves an entity to a new state through the FSM guard
// table. Guard failures change nothing on disk and leave a quarantine
// record.
func (h *Host) Transition(ctx context.Context, id, newState, reason string) (*types.Entity, error) {
	trace := newTrace()
	id = h.aliases.Resolve(id)
	finish := h.audit.Op(trace, "host.transition", id)

	ent, err := h.applyTransition(ctx, trace, id, newState, reason)
	finish(audit.OutcomeFor(err), err)
	return ent, err
}

func (h *Host) applyTransition(ctx context.Context, trace, id, newState, reason string) (*types.Entity, error) {
	kind, err := kindFromID(id)
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Acquire(ctx, filepath.Join(h.root, LocksDir), id, h.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	cur, err := h.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	from := cur.State()

	hdr, err := validation.Transition(kind, cur.Header, newState, reason, h.now())
	if err != nil {
		h.quarantine(trace, kind, cur.Header, err)
		return nil, err
	}
	hdr.SetTime(types.FieldUpdatedTS, h.now())

	return h.writeLocked(ctx, trace, kind, hdr, cur.Body, false, false, from)
}

// Upsert creates or updates depending on whether the id (when given)
// already exists.
func (h *Host) Upsert(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error) {
	return h.upsert(ctx, kind, header, body, false)
}

// UpsertSynced is Upsert with the post-write envelope flagged
// sync_origin, so the sync push path does not re-push an import.
func (h *Host) UpsertSynced(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error) {
	return h.upsert(ctx, kind, header, body, true)
}

func (h *Host) upsert(ctx context.Context, kind types.Kind, header types.Header, body string, syncOrigin bool) (*types.Entity, error) {
	id := header.String(types.FieldID)
	if id != "" && h.EntityExists(id) {
		return h.update(ctx, id, header, &body, syncOrigin)
	}
	return h.create(ctx, kind, header, body, syncOrigin)
}

// Delete removes the entity file. Backlinks pointing at the id become
// broken in the graph; re-creating the id later heals them.
func (h *Host) Delete(ctx context.Context, id string) error {
	return h.delete(ctx, id, false)
}

// DeleteSynced is Delete with the post-write envelope flagged
// sync_origin.
func (h *Host) DeleteSynced(ctx context.Context, id string) error {
	return h.delete(ctx, id, true)
}

func (h *Host) delete(ctx context.Context, id string, syncOrigin bool) error {
	trace := newTrace()
	id = h.aliases.Resolve(id)
	finish := h.audit.Op(trace, "host.delete", id)
	err := h.applyDelete(ctx, id, syncOrigin)
	finish(audit.OutcomeFor(err), err)
	return err
}

func (h *Host) applyDelete(ctx context.Context, id string, syncOrigin bool) error {
	kind, err := kindFromID(id)
	if err != nil {
		return err
	}
	lock, err := lockfile.Acquire(ctx, filepath.Join(h.root, LocksDir), id, h.lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	ent, err := h.Read(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(h.entityPath(kind, id)); err != nil {
		return fmt.Errorf("vault: delete %s: %w", id, err)
	}
	if err := h.graph.Delete(id); err != nil {
		return err
	}
	h.emit(ctx, eventbus.EventEntityDeleted, ent, syncOrigin, "")
	return nil
}

// writeNew acquires the per-id lock and re-checks the id under it.
// Two concurrent creates can settle on the same generated id before
// either holds the lock; the loser regenerates with a collision suffix
// instead of overwriting the winner's file.
func (h *Host) writeNew(ctx context.Context, trace string, kind types.Kind, hdr types.Header, body string, syncOrigin, generatedID bool, created time.Time) (*types.Entity, error) {
	for {
		id := hdr.String(types.FieldID)
		lock, err := lockfile.Acquire(ctx, filepath.Join(h.root, LocksDir), id, h.lockTimeout)
		if err != nil {
			return nil, err
		}
		if generatedID && h.EntityExists(id) {
			_ = lock.Release()
			hdr[types.FieldID] = idgen.Generate(kind, hdr.String(types.FieldTitle), created, h.EntityExists)
			continue
		}
		ent, err := h.writeLocked(ctx, trace, kind, hdr, body, true, syncOrigin, "")
		_ = lock.Release()
		return ent, err
	}
}

// writeLocked is steps 4-9 of the write path: validate, serialize,
// atomic write, graph update, post-write event. The caller holds the
// per-id lock.
func (h *Host) writeLocked(ctx context.Context, trace string, kind types.Kind, hdr types.Header, body string, isCreate, syncOrigin bool, transitionFrom string) (*types.Entity, error) {
	if errs := validation.Validate(kind, hdr); len(errs) > 0 {
		verr := &types.ValidationError{Errors: errs}
		h.quarantine(trace, kind, hdr, verr)
		return nil, verr
	}

	ent := &types.Entity{Kind: kind, Header: hdr, Body: body}
	data, err := frontmatter.EncodeEntity(hdr, body)
	if err != nil {
		return nil, err
	}
	if err := atomicfile.WriteFile(h.entityPath(kind, ent.ID()), data, 0o640); err != nil {
		return nil, err
	}
	if err := h.graph.Upsert(ent); err != nil {
		return nil, err
	}

	switch {
	case transitionFrom != "":
		if kind == types.KindTask {
			h.emit(ctx, eventbus.EventTaskTransitioned, ent, syncOrigin, transitionFrom)
		} else {
			h.emit(ctx, eventbus.EventEntityUpdated, ent, syncOrigin, "")
		}
	case isCreate:
		h.emit(ctx, eventbus.EventEntityCreated, ent, syncOrigin, "")
	default:
		h.emit(ctx, eventbus.EventEntityUpdated, ent, syncOrigin, "")
	}
	return ent, nil
}

// quarantine persists the rejected payload. Quarantine failures are
// logged, never raised: the original error is what the caller needs.
func (h *Host) quarantine(trace string, kind types.Kind, hdr types.Header, cause error) {
	var fields []types.FieldError
	reason := cause.Error()
	switch e := cause.(type) {
	case *types.ValidationError:
		fields = e.Errors
	case *types.FSMError:
		fields = []types.FieldError{{
			Category: types.CategoryFSM,
			Field:    types.FieldState,
			Message:  e.Reason,
		}}
	}
	if _, err := h.audit.Quarantine(trace, kind, hdr, fields, reason); err != nil {
		debug.Logf("vault: quarantine write failed: %v\n", err)
	}
}

// emit publishes a post-write event. With no bus attached (tests,
// simple CLI invocations) writes are still fully performed.
func (h *Host) emit(ctx context.Context, eventType string, ent *types.Entity, syncOrigin bool, transitionFrom string) {
	if h.bus == nil {
		return
	}
	payload := map[string]any{
		"entity_id": ent.ID(),
		"kind":      string(ent.Kind),
		"state":     ent.State(),
	}
	if transitionFrom != "" {
		payload["from"] = transitionFrom
		payload["to"] = ent.State()
	}
	env := eventbus.NewEnvelope("host", eventType, payload)
	env.Key = ent.ID()
	env.SyncOrigin = syncOrigin
	h.seqMu.Lock()
	h.seq++
	env.Seq = h.seq
	h.seqMu.Unlock()
	if err := h.bus.Publish(ctx, env); err != nil {
		debug.Logf("vault: publish %s for %s: %v\n", eventType, ent.ID(), err)
	}
}

// Rename gives an entity a new id (derived from a new title), records
// the old id in the alias table, and rewrites the file. Backlinks keep
// resolving through the alias.
func (h *Host) Rename(ctx context.Context, id, newTitle string) (*types.Entity, error) {
	trace := newTrace()
	id = h.aliases.Resolve(id)
	finish := h.audit.Op(trace, "host.rename", id)
	ent, err := h.applyRename(ctx, trace, id, newTitle)
	finish(audit.OutcomeFor(err), err)
	return ent, err
}

func (h *Host) applyRename(ctx context.Context, trace, id, newTitle string) (*types.Entity, error) {
	kind, err := kindFromID(id)
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Acquire(ctx, filepath.Join(h.root, LocksDir), id, h.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	cur, err := h.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	created, err := cur.Header.Time(types.FieldCreatedTS)
	if err != nil {
		return nil, err
	}

	newID := idgen.Generate(kind, newTitle, created, h.EntityExists)
	hdr := cur.Header.Clone()
	hdr[types.FieldID] = newID
	hdr[types.FieldTitle] = newTitle
	hdr.SetTime(types.FieldUpdatedTS, h.now())

	ent, err := h.writeLocked(ctx, trace, kind, hdr, cur.Body, false, false, "")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(h.entityPath(kind, id)); err != nil {
		return nil, fmt.Errorf("vault: rename remove %s: %w", id, err)
	}
	if err := h.graph.Delete(id); err != nil {
		return nil, err
	}
	if err := h.aliases.Record(id, newID); err != nil {
		return nil, err
	}
	return ent, nil
}

func newTrace() string {
	return "t-" + uuid.NewString()[:8]
}
