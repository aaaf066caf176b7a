// Package ingress converts raw inbound payloads (chat messages, inbox
// file drops, upsert requests) into bus envelopes with a dedup
// fingerprint, and hosts the handlers that turn those envelopes into
// Host writes.
package ingress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/timeutil"
)

// Normalizer wraps raw payloads into envelopes and publishes them.
// It assigns a monotonic per-source seq so the bus grace buffer can
// restore mild out-of-order arrival.
type Normalizer struct {
	bus *eventbus.Bus

	mu  sync.Mutex
	seq map[string]int64
}

func NewNormalizer(bus *eventbus.Bus) *Normalizer {
	return &Normalizer{bus: bus, seq: map[string]int64{}}
}

func (n *Normalizer) nextSeq(source string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq[source]++
	return n.seq[source]
}

// publish fingerprints the payload, wraps it, and hands it to the bus.
func (n *Normalizer) publish(ctx context.Context, source, externalID, eventType string, eventTS time.Time, payload map[string]any) error {
	fp, err := Fingerprint(source, externalID, payload)
	if err != nil {
		return err
	}
	env := eventbus.NewEnvelope(source, eventType, payload)
	if !eventTS.IsZero() {
		env.EventTS = timeutil.Truncate(eventTS)
	}
	env.Seq = n.nextSeq(source)
	env.Key = externalID
	env.Fingerprint = fp
	if err := n.bus.Publish(ctx, env); err != nil {
		return fmt.Errorf("ingress: publish %s: %w", eventType, err)
	}
	return nil
}

// ChatMessage normalizes an inbound chat message. eventTS is the
// transport timestamp; zero means now.
func (n *Normalizer) ChatMessage(ctx context.Context, externalID, text string, eventTS time.Time) error {
	return n.publish(ctx, "chat", externalID, eventbus.EventMessageReceived, eventTS, map[string]any{
		"external_id": externalID,
		"text":        text,
	})
}

// FileDropped normalizes a raw file found in the inbox.
func (n *Normalizer) FileDropped(ctx context.Context, name string, contents []byte, eventTS time.Time) error {
	return n.publish(ctx, "inbox", name, eventbus.EventFileDropped, eventTS, map[string]any{
		"external_id": name,
		"name":        name,
		"contents":    string(contents),
	})
}

// UpsertRequested normalizes an explicit entity upsert from a
// collaborator. op is "create" or "update"; header carries the wire
// shape of the requested fields.
func (n *Normalizer) UpsertRequested(ctx context.Context, source, externalID, op, kind string, header map[string]any, body string, eventTS time.Time) error {
	return n.publish(ctx, source, externalID, eventbus.EventEntityUpserted, eventTS, map[string]any{
		"external_id": externalID,
		"op":          op,
		"kind":        kind,
		"header":      header,
		"body":        body,
	})
}
