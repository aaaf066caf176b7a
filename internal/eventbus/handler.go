package eventbus

import "context"

// Handler processes events on the bus. Handlers are called in priority
// order (lower priority value = called earlier) for matching event
// types. Delivery is at-least-once: a handler may see the same
// event_id again after a crash, and must be idempotent.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []string

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event. A returned error triggers the
	// bus retry policy; exhaustion routes the event to the dead-letter
	// sink.
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Name     string
	Types    []string
	Order    int
	HandleFn func(ctx context.Context, env *Envelope) error
}

func (h *HandlerFunc) ID() string        { return h.Name }
func (h *HandlerFunc) Handles() []string { return h.Types }
func (h *HandlerFunc) Priority() int     { return h.Order }
func (h *HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return h.HandleFn(ctx, env)
}
