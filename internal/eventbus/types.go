package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/mdvault/internal/timeutil"
)

// Event types flowing through the bus. Ingress events come from the
// normalizer; post-write events are emitted by the Host; job events
// are raised by the scheduler.
const (
	// Ingress events.
	EventMessageReceived = "message.received"
	EventFileDropped     = "file.dropped"
	EventEntityUpserted  = "entity.upsert_requested"

	// Post-write events (emitted by the Host).
	EventEntityCreated    = "entity.created"
	EventEntityUpdated    = "entity.updated"
	EventEntityDeleted    = "entity.deleted"
	EventTaskTransitioned = "task.transitioned"

	// Sync events.
	EventSyncRemoteChanged = "sync.remote_changed"

	// Scheduler job dispatch.
	EventJobDue = "job.due"
)

// Envelope is the standardized event record. Every producer emits
// envelopes; every consumer receives them.
type Envelope struct {
	EventID    string         `json:"event_id"`
	EventTS    time.Time      `json:"event_ts"`
	Seq        int64          `json:"seq,omitempty"` // monotonic per source, 0 when unused
	Source     string         `json:"source"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	TraceID    string         `json:"trace_id"`
	SyncOrigin bool           `json:"sync_origin,omitempty"`

	// Key selects the ordering lane. Events sharing (Source, Key) are
	// processed in arrival order; across keys there is no guarantee.
	// Empty Key falls back to Source.
	Key string `json:"key,omitempty"`

	// Fingerprint is the dedup key computed by the ingress normalizer.
	// When set, the bus consults the idempotency gate before dispatch.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// NewEnvelope builds an envelope with a fresh event id and trace id.
func NewEnvelope(source, eventType string, payload map[string]any) *Envelope {
	return &Envelope{
		EventID: uuid.NewString(),
		EventTS: timeutil.Now(),
		Source:  source,
		Type:    eventType,
		Payload: payload,
		TraceID: "t-" + uuid.NewString()[:8],
	}
}

// Lane returns the ordering lane for the envelope.
func (e *Envelope) Lane() string {
	if e.Key != "" {
		return e.Source + "/" + e.Key
	}
	return e.Source
}

// PayloadString extracts a string payload field, "" when absent.
func (e *Envelope) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
