// Package eventbus is the in-process pub/sub backbone: envelope
// dispatch with at-least-once delivery, bounded exponential-backoff
// retry, a grace buffer that absorbs mild out-of-order arrival, and a
// dead-letter sink for events whose handlers never succeed.
//
// Ordering: events sharing an (source, key) lane are dispatched in
// arrival order by a dedicated lane worker; across lanes nothing is
// guaranteed. Retry delays only stall the lane they occur on.
package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/mdvault/internal/debug"
)

// Grace buffer bounds. Incoming events are held GraceDefault before
// dispatch; configuration may pick any value in [GraceMin, GraceMax].
const (
	GraceDefault = 5 * time.Second
	GraceMin     = 3 * time.Second
	GraceMax     = 10 * time.Second
)

// DefaultHandlerBudget bounds a single handler invocation.
const DefaultHandlerBudget = 60 * time.Second

// DefaultDrainTimeout bounds shutdown waiting for in-flight handlers.
const DefaultDrainTimeout = 30 * time.Second

// RetryPolicy is the per-handler retry schedule.
type RetryPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Jitter      float64 // randomization factor, 0.2 = +-20%
	MaxAttempts uint64
}

// DefaultRetryPolicy: 1s initial, doubling, +-20% jitter, 5 attempts.
var DefaultRetryPolicy = RetryPolicy{
	Initial:     time.Second,
	Multiplier:  2,
	Jitter:      0.2,
	MaxAttempts: 5,
}

// Gate is the idempotency check consulted for fingerprinted envelopes.
type Gate interface {
	FirstSighting(ctx context.Context, fingerprint string) (bool, error)
}

// DeadLetterFunc receives events whose retries were exhausted.
type DeadLetterFunc func(env *Envelope, handlerID string, attempts uint64, err error)

// Options tune a Bus. Zero values select the defaults above.
type Options struct {
	Grace         time.Duration
	Retry         RetryPolicy
	HandlerBudget time.Duration
	Gate          Gate
	DeadLetter    DeadLetterFunc
	// OnDuplicate is called when the gate rejects a fingerprint.
	OnDuplicate func(env *Envelope)
}

// Bus dispatches envelopes to registered handlers through per-lane
// serial queues.
type Bus struct {
	opts Options

	mu       sync.RWMutex
	handlers []Handler
	lanes    map[string]*lane
	draining bool

	wg sync.WaitGroup
	// flush is closed by Drain: lanes stop waiting out grace windows
	// and deliver whatever they hold.
	flush chan struct{}
}

type scheduled struct {
	env     *Envelope
	dueAt   time.Time
	arrival int64
}

type lane struct {
	mu      sync.Mutex
	pending []*scheduled
	notify  chan struct{}
	counter int64
}

// New creates a bus. Call Drain to shut it down.
func New(opts Options) *Bus {
	switch {
	case opts.Grace == 0:
		opts.Grace = GraceDefault
	case opts.Grace < 0:
		// Negative disables buffering entirely (tests, replay).
		opts.Grace = 0
	case opts.Grace < GraceMin:
		opts.Grace = GraceMin
	case opts.Grace > GraceMax:
		opts.Grace = GraceMax
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.HandlerBudget == 0 {
		opts.HandlerBudget = DefaultHandlerBudget
	}
	return &Bus{
		opts:  opts,
		lanes: map[string]*lane{},
		flush: make(chan struct{}),
	}
}

func (b *Bus) isDraining() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.draining
}

// Subscribe adds a handler. Handlers are matched by type and invoked
// in priority order; registration order does not matter.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Handlers returns the registered handlers (for introspection).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// Publish accepts an envelope for delivery. Fingerprinted envelopes
// are checked against the idempotency gate first; duplicates are
// silently dropped. Returns an error when the bus is draining.
func (b *Bus) Publish(ctx context.Context, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("eventbus: nil envelope")
	}
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: draining, event %s rejected", env.EventID)
	}
	b.mu.Unlock()

	if env.Fingerprint != "" && b.opts.Gate != nil {
		first, err := b.opts.Gate.FirstSighting(ctx, env.Fingerprint)
		if err != nil {
			return fmt.Errorf("eventbus: idempotency gate: %w", err)
		}
		if !first {
			debug.Logf("eventbus: duplicate fingerprint %s dropped (event %s)\n", env.Fingerprint, env.EventID)
			if b.opts.OnDuplicate != nil {
				b.opts.OnDuplicate(env)
			}
			return nil
		}
	}

	return b.enqueue(env)
}

func (b *Bus) enqueue(env *Envelope) error {
	name := env.Lane()
	b.mu.Lock()
	// Re-checked here: the gate query above may have raced a Drain.
	if b.draining {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: draining, event %s rejected", env.EventID)
	}
	l, ok := b.lanes[name]
	if !ok {
		l = &lane{notify: make(chan struct{}, 1)}
		b.lanes[name] = l
		b.wg.Add(1)
		go b.runLane(l)
	}
	b.mu.Unlock()

	l.mu.Lock()
	l.counter++
	l.pending = append(l.pending, &scheduled{
		env:     env,
		dueAt:   time.Now().Add(b.opts.Grace),
		arrival: l.counter,
	})
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

// runLane is the serial worker for one ordering lane. It waits out the
// grace window, reorders the due batch by (seq, event_ts, arrival),
// and dispatches sequentially.
func (b *Bus) runLane(l *lane) {
	defer b.wg.Done()
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			select {
			case <-l.notify:
				continue
			case <-b.flush:
				return
			}
		}
		wait := time.Until(l.pending[0].dueAt)
		if wait > 0 {
			l.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-b.flush:
				// Drain: deliver immediately rather than dropping.
			}
			l.mu.Lock()
		}

		now := time.Now()
		var due, rest []*scheduled
		flushAll := b.isDraining()
		for _, s := range l.pending {
			if flushAll || !s.dueAt.After(now) {
				due = append(due, s)
			} else {
				rest = append(rest, s)
			}
		}
		l.pending = rest
		l.mu.Unlock()

		// The grace buffer absorbs mild out-of-order arrival: the due
		// batch is sorted before dispatch.
		sort.SliceStable(due, func(i, j int) bool {
			a, c := due[i], due[j]
			if a.env.Seq != 0 && c.env.Seq != 0 && a.env.Seq != c.env.Seq {
				return a.env.Seq < c.env.Seq
			}
			if !a.env.EventTS.Equal(c.env.EventTS) {
				return a.env.EventTS.Before(c.env.EventTS)
			}
			return a.arrival < c.arrival
		})
		for _, s := range due {
			b.dispatch(s.env)
		}

		if flushAll {
			l.mu.Lock()
			empty := len(l.pending) == 0
			l.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

// dispatch invokes every matching handler, each under the retry
// policy. Handler failures never stop the chain.
func (b *Bus) dispatch(env *Envelope) {
	for _, h := range b.matchingHandlers(env.Type) {
		if err := b.invokeWithRetry(h, env); err != nil {
			debug.Logf("eventbus: handler %q exhausted retries for %s: %v\n", h.ID(), env.Type, err)
			if b.opts.DeadLetter != nil {
				b.opts.DeadLetter(env, h.ID(), b.opts.Retry.MaxAttempts, err)
			}
		}
	}
}

func (b *Bus) invokeWithRetry(h Handler, env *Envelope) error {
	pol := b.opts.Retry

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.Initial
	bo.Multiplier = pol.Multiplier
	bo.RandomizationFactor = pol.Jitter
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.HandlerBudget)
		defer cancel()
		err := h.Handle(ctx, env)
		if err != nil && b.isDraining() {
			// Shutdown: one attempt each, no retry cycles.
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(attempt, backoff.WithMaxRetries(bo, pol.MaxAttempts-1))
}

func (b *Bus) matchingHandlers(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}

// Drain stops accepting new events, flushes buffered ones, and waits
// for in-flight handlers up to the deadline.
func (b *Bus) Drain(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	b.mu.Lock()
	already := b.draining
	b.draining = true
	b.mu.Unlock()
	if !already {
		close(b.flush)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("eventbus: drain deadline (%s) exceeded with handlers in flight", timeout)
	}
}
