package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

// RemoteChange is one item from a collaborator pull.
type RemoteChange struct {
	RemoteID     string
	Version      int64
	Etag         string
	LastModified time.Time
	Deleted      bool

	Kind   types.Kind
	Header types.Header
	Body   string
}

// Calendar is the collaborator contract: the remote side of a sync
// pair. Implementations are opaque to the core; errors they return are
// wrapped as RemoteError and retried by the bus backoff when the call
// happens inside a handler.
type Calendar interface {
	Source() string
	Pull(ctx context.Context) ([]RemoteChange, error)
	Push(ctx context.Context, ent *types.Entity) (version int64, etag string, err error)
}

// Host is the single-writer surface the reconciler drives. Synced
// variants mark the post-write envelope with sync_origin so the push
// path does not re-push an import.
type Host interface {
	Read(ctx context.Context, id string) (*types.Entity, error)
	List(ctx context.Context, kind *types.Kind, filter func(*types.Entity) bool) ([]*types.Entity, error)
	UpsertSynced(ctx context.Context, kind types.Kind, header types.Header, body string) (*types.Entity, error)
	DeleteSynced(ctx context.Context, id string) error
}

// Reconciler runs the two-way sync loop for one calendar collaborator.
type Reconciler struct {
	ledger *Ledger
	host   Host
	cal    Calendar
	audit  *audit.Logger

	// localPriority is the marker this vault uses in timestamp
	// tie-breaks; remotePriority is the collaborator's. Both come from
	// configuration.
	localPriority  string
	remotePriority string
}

func NewReconciler(ledger *Ledger, host Host, cal Calendar, auditLog *audit.Logger, localPriority, remotePriority string) *Reconciler {
	if localPriority == "" {
		localPriority = "local"
	}
	if remotePriority == "" {
		remotePriority = cal.Source()
	}
	return &Reconciler{
		ledger:         ledger,
		host:           host,
		cal:            cal,
		audit:          auditLog,
		localPriority:  localPriority,
		remotePriority: remotePriority,
	}
}

// Sync runs one pull-then-push cycle.
func (r *Reconciler) Sync(ctx context.Context) error {
	if err := r.Pull(ctx); err != nil {
		return err
	}
	return r.Push(ctx)
}

// Pull fetches remote changes and imports the ones that advance local
// state. Echoes of our own pushes are suppressed.
func (r *Reconciler) Pull(ctx context.Context) error {
	changes, err := r.cal.Pull(ctx)
	if err != nil {
		return &types.RemoteError{Source: r.cal.Source(), Op: "pull", Err: err}
	}
	for _, change := range changes {
		if err := r.importChange(ctx, change); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) importChange(ctx context.Context, change RemoteChange) error {
	source := r.cal.Source()
	trace := "t-sync-" + change.RemoteID
	row, err := r.ledger.Get(ctx, source, change.RemoteID)
	if err != nil {
		return err
	}

	if IsEcho(row, change.Version, change.Etag) {
		// A push success whose ack was lost also lands here on the
		// next pull: the ledger matches the observed remote state.
		r.audit.Op(trace, "sync.pull", row.EntityID)(audit.OutcomeDuplicate, nil)
		return nil
	}
	if !ShouldImport(row, change.Version, change.Etag) {
		return nil
	}

	if change.Deleted {
		return r.importDelete(ctx, trace, row, change)
	}

	// Resolve against the bound local entity, if any.
	var local *types.Entity
	if row != nil && row.EntityID != "" {
		local, err = r.host.Read(ctx, row.EntityID)
		if err != nil && !types.IsNotFound(err) {
			return err
		}
	}
	if local != nil {
		localTS, tsErr := local.Header.Time(types.FieldUpdatedTS)
		if tsErr == nil && Resolve(localTS, change.LastModified, r.localPriority, local.ID(), r.remotePriority, change.RemoteID) == WinnerLocal {
			// Local wins: keep our entity, remember the remote state
			// so this change is not reconsidered; the push sweep will
			// carry the local version outward.
			row.VersionSeen = change.Version
			row.EtagSeen = change.Etag
			row.LastSyncTS = timeutil.Now()
			row.LastWriteTSRemote = change.LastModified
			if err := r.ledger.Put(ctx, *row); err != nil {
				return err
			}
			r.audit.Op(trace, "sync.resolve", local.ID())(audit.OutcomeConflict, nil)
			return nil
		}
	}

	header := change.Header.Clone()
	if header == nil {
		header = types.Header{}
	}
	if row != nil && row.EntityID != "" {
		header[types.FieldID] = row.EntityID
	}
	header[types.FieldSync] = map[string]any{
		types.SyncSource:      source,
		types.SyncRemoteID:    change.RemoteID,
		types.SyncVersionSeen: change.Version,
		types.SyncEtagSeen:    change.Etag,
		types.SyncLastWriteTS: timeutil.Format(change.LastModified),
	}

	ent, err := r.host.UpsertSynced(ctx, change.Kind, header, change.Body)
	if err != nil {
		r.audit.Op(trace, "sync.import", header.String(types.FieldID))(audit.OutcomeFor(err), err)
		return err
	}

	localWrite, _ := ent.Header.Time(types.FieldUpdatedTS)
	outcome := audit.OutcomeOK
	if local != nil {
		outcome = audit.OutcomeConflict
	}
	r.audit.Op(trace, "sync.import", ent.ID())(outcome, nil)
	return r.ledger.Put(ctx, Row{
		Source:            source,
		RemoteID:          change.RemoteID,
		EntityID:          ent.ID(),
		VersionSeen:       change.Version,
		EtagSeen:          change.Etag,
		LastSyncTS:        timeutil.Now(),
		LastWriteTSLocal:  localWrite,
		LastWriteTSRemote: change.LastModified,
	})
}

func (r *Reconciler) importDelete(ctx context.Context, trace string, row *Row, change RemoteChange) error {
	if row == nil || row.EntityID == "" {
		return nil
	}
	if err := r.host.DeleteSynced(ctx, row.EntityID); err != nil && !types.IsNotFound(err) {
		return err
	}
	r.audit.Op(trace, "sync.import_delete", row.EntityID)(audit.OutcomeOK, nil)
	row.EntityID = ""
	row.VersionSeen = change.Version
	row.EtagSeen = change.Etag
	row.LastSyncTS = timeutil.Now()
	return r.ledger.Put(ctx, *row)
}

// Push sweeps mirrored entities and pushes the ones written locally
// since the last synced write. The ledger is updated on ack, before
// the next pull, so the change is recognized as an echo when it comes
// back.
func (r *Reconciler) Push(ctx context.Context) error {
	source := r.cal.Source()
	ents, err := r.host.List(ctx, nil, func(e *types.Entity) bool {
		sync := e.Header.Sync()
		return sync != nil && sync[types.SyncSource] == source
	})
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if err := r.pushEntity(ctx, ent); err != nil {
			return err
		}
	}
	return nil
}

// PushEntity pushes a single mirrored entity if its local write is
// newer than what the ledger has synced.
func (r *Reconciler) PushEntity(ctx context.Context, id string) error {
	ent, err := r.host.Read(ctx, id)
	if err != nil {
		if types.IsNotFound(err) {
			return nil
		}
		return err
	}
	return r.pushEntity(ctx, ent)
}

func (r *Reconciler) pushEntity(ctx context.Context, ent *types.Entity) error {
	sync := ent.Header.Sync()
	if sync == nil {
		return nil
	}
	remoteID, _ := sync[types.SyncRemoteID].(string)
	if remoteID == "" {
		// The collaborator assigns remote ids at creation; nothing to
		// address the push to yet.
		debug.Logf("syncer: %s has no remote_id, skipping push\n", ent.ID())
		return nil
	}

	localTS, err := ent.Header.Time(types.FieldUpdatedTS)
	if err != nil {
		return fmt.Errorf("syncer: %s: %w", ent.ID(), err)
	}
	row, err := r.ledger.Get(ctx, r.cal.Source(), remoteID)
	if err != nil {
		return err
	}
	if row != nil && !localTS.After(row.LastWriteTSLocal) {
		return nil // nothing written locally since the last sync
	}

	trace := "t-sync-" + remoteID
	version, etag, err := r.cal.Push(ctx, ent)
	if err != nil {
		// The ledger stays unchanged: the next sweep retries, and a
		// success whose ack was lost surfaces as an echo on pull.
		wrapped := &types.RemoteError{Source: r.cal.Source(), Op: "push", Err: err}
		r.audit.Op(trace, "sync.push", ent.ID())(audit.OutcomeError, wrapped)
		return wrapped
	}

	newRow := Row{
		Source:           r.cal.Source(),
		RemoteID:         remoteID,
		EntityID:         ent.ID(),
		VersionSeen:      version,
		EtagSeen:         etag,
		LastSyncTS:       timeutil.Now(),
		LastWriteTSLocal: localTS,
	}
	if row != nil {
		newRow.LastWriteTSRemote = row.LastWriteTSRemote
	}
	if err := r.ledger.Put(ctx, newRow); err != nil {
		return err
	}
	r.audit.Op(trace, "sync.push", ent.ID())(audit.OutcomeOK, nil)
	return nil
}

// PushHandler reacts to post-write events by pushing the written
// entity outward. Envelopes flagged sync_origin are imports and are
// never re-pushed.
type PushHandler struct {
	Reconciler *Reconciler
}

func (h *PushHandler) ID() string { return "syncer.push" }
func (h *PushHandler) Handles() []string {
	return []string{
		eventbus.EventEntityCreated,
		eventbus.EventEntityUpdated,
		eventbus.EventTaskTransitioned,
	}
}
func (h *PushHandler) Priority() int { return 50 }

func (h *PushHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	if env.SyncOrigin {
		return nil
	}
	id := env.PayloadString("entity_id")
	if id == "" {
		return nil
	}
	return h.Reconciler.PushEntity(ctx, id)
}

// TombstoneHandler keeps ledger rows for locally deleted mirrored
// entities, with the entity binding cleared. No remote delete is
// pushed.
type TombstoneHandler struct {
	Ledger *Ledger
}

func (h *TombstoneHandler) ID() string        { return "syncer.tombstone" }
func (h *TombstoneHandler) Handles() []string { return []string{eventbus.EventEntityDeleted} }
func (h *TombstoneHandler) Priority() int     { return 50 }

func (h *TombstoneHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	id := env.PayloadString("entity_id")
	if id == "" {
		return nil
	}
	return h.Ledger.Tombstone(ctx, id)
}
