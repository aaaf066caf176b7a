// Package scheduler fires interval, one-shot, and daily-at triggers as
// job.due events on the bus, so job execution inherits the bus retry
// and dead-letter behavior.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/timeutil"
)

// MissedPolicy selects what happens to occurrences the scheduler
// slept through (process down, laptop suspended).
type MissedPolicy string

const (
	// Coalesce runs once regardless of how many occurrences were missed.
	Coalesce MissedPolicy = "coalesce"
	// Skip drops missed occurrences and waits for the next on-time one.
	Skip MissedPolicy = "skip"
	// RunAll executes each missed occurrence.
	RunAll MissedPolicy = "run_all"
)

// lateTolerance separates an on-time wake from a missed occurrence.
const lateTolerance = time.Minute

// Job is one schedule entry. Exactly one of Every, At, or DailyAt is
// set. Jobs are identified by Key: adding the same key again updates
// the schedule in place.
type Job struct {
	Key    string
	Policy MissedPolicy

	Every   time.Duration // interval trigger
	At      time.Time     // one-shot trigger
	DailyAt string        // "08:00" civil time
	Zone    string        // zone for DailyAt, default UTC

	// Payload is merged into the job.due event payload.
	Payload map[string]any
}

type jobState struct {
	job  Job
	next time.Time
	done bool // one-shot that already fired
}

// Scheduler owns the timer loop. Events go out through the bus.
type Scheduler struct {
	bus *eventbus.Bus
	now func() time.Time

	mu     sync.Mutex
	jobs   map[string]*jobState
	wakeup chan struct{}
}

func New(bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		bus:    bus,
		now:    time.Now,
		jobs:   map[string]*jobState{},
		wakeup: make(chan struct{}, 1),
	}
}

// Add registers or updates a job. The first occurrence is computed
// from now.
func (s *Scheduler) Add(job Job) error {
	if job.Key == "" {
		return fmt.Errorf("scheduler: job without key")
	}
	if job.Policy == "" {
		job.Policy = Coalesce
	}
	st := &jobState{job: job}
	next, err := nextOccurrence(job, s.now())
	if err != nil {
		return err
	}
	st.next = next

	s.mu.Lock()
	s.jobs[job.Key] = st
	s.mu.Unlock()
	s.poke()
	return nil
}

// Remove drops a job; unknown keys are a no-op.
func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	delete(s.jobs, key)
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) poke() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Run drives the timer loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next, ok := s.earliest()
		var timer *time.Timer
		var timerC <-chan time.Time
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-s.wakeup:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, st := range s.jobs {
		if st.done {
			continue
		}
		if !found || st.next.Before(next) {
			next = st.next
			found = true
		}
	}
	return next, found
}

// fireDue emits events for every occurrence at or before now and
// advances each job's schedule, honoring its missed-run policy.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	type firing struct {
		job         Job
		occurrences []time.Time
		missedCount int
	}
	var firings []firing
	for _, st := range s.jobs {
		if st.done || st.next.After(now) {
			continue
		}
		due, next, exhausted := collectDue(st.job, st.next, now)
		st.next = next
		st.done = exhausted

		f := firing{job: st.job}
		for _, occ := range due {
			if now.Sub(occ) > lateTolerance {
				f.missedCount++
			}
		}
		switch st.job.Policy {
		case RunAll:
			f.occurrences = due
		case Skip:
			for _, occ := range due {
				if now.Sub(occ) <= lateTolerance {
					f.occurrences = append(f.occurrences, occ)
				}
			}
		default: // Coalesce
			if len(due) > 0 {
				f.occurrences = due[len(due)-1:]
			}
		}
		if len(f.occurrences) > 0 || f.missedCount > 0 {
			firings = append(firings, f)
		}
	}
	s.mu.Unlock()

	for _, f := range firings {
		if len(f.occurrences) == 0 {
			debug.Logf("scheduler: %s dropped %d missed occurrences\n", f.job.Key, f.missedCount)
			continue
		}
		for _, occ := range f.occurrences {
			s.emit(ctx, f.job, occ, f.missedCount)
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, job Job, scheduledFor time.Time, missed int) {
	payload := map[string]any{
		"job":           job.Key,
		"scheduled_for": timeutil.Format(scheduledFor),
	}
	if missed > 0 {
		payload["missed"] = missed
	}
	for k, v := range job.Payload {
		payload[k] = v
	}
	env := eventbus.NewEnvelope("scheduler", eventbus.EventJobDue, payload)
	env.Key = job.Key
	if err := s.bus.Publish(ctx, env); err != nil {
		debug.Logf("scheduler: publish %s: %v\n", job.Key, err)
	}
}

// collectDue gathers every occurrence of the job in (from, now] and
// returns the next future occurrence. exhausted is true for a
// one-shot that has fired.
func collectDue(job Job, from, now time.Time) (due []time.Time, next time.Time, exhausted bool) {
	cur := from
	for !cur.After(now) {
		due = append(due, cur)
		n, err := nextOccurrence(job, cur)
		if err != nil || n.Equal(cur) {
			return due, cur, true // one-shot fired, or broken trigger
		}
		cur = n
	}
	return due, cur, false
}

// nextOccurrence computes the first occurrence strictly after t.
func nextOccurrence(job Job, t time.Time) (time.Time, error) {
	switch {
	case job.Every > 0:
		return t.Add(job.Every), nil
	case !job.At.IsZero():
		if job.At.After(t) {
			return job.At, nil
		}
		return t, nil
	case job.DailyAt != "":
		return nextDaily(job.DailyAt, job.Zone, t)
	}
	return time.Time{}, fmt.Errorf("scheduler: job %q has no trigger", job.Key)
}

// nextDaily finds the next civil HH:MM in the zone after t. A local
// time that falls inside a DST gap normalizes forward through the
// zone's rules.
func nextDaily(at, zone string, t time.Time) (time.Time, error) {
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: unknown zone %q: %w", zone, err)
	}
	clock, err := time.ParseInLocation("15:04", at, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: %q is not a HH:MM civil time: %w", at, err)
	}

	local := t.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
	if !candidate.After(t) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1,
			clock.Hour(), clock.Minute(), 0, 0, loc)
	}
	return candidate, nil
}

// Keys returns the registered job keys, sorted (for diagnostics).
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
