// Package rollup aggregates validated entities into daily and weekly
// summary documents over DST-correct UTC windows.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/validation"
)

// Host is the read surface the engine aggregates over.
type Host interface {
	List(ctx context.Context, kind *types.Kind, filter func(*types.Entity) bool) ([]*types.Entity, error)
}

// Item is one entity line in a rollup section.
type Item struct {
	ID    string
	Title string
	State string
	TS    string // the timestamp that placed it in the window
}

// Doc is a computed rollup. Sections are fixed; empty sections render
// with an explicit "none".
type Doc struct {
	Scope  string // "daily" or "weekly"
	Date   string
	Zone   string
	Window timeutil.Window

	Events     []Item // events whose start_ts falls in the window
	Completed  []Item // tasks whose done_ts falls in the window
	InProgress []Item // tasks currently in state doing
	Due        []Item // tasks whose due_ts falls in the window

	TagCounts   map[string]int
	Quarantined int // entities excluded because they fail validation
}

// Engine computes rollups against a Host.
type Engine struct {
	host Host
}

func New(host Host) *Engine {
	return &Engine{host: host}
}

// Daily aggregates the civil date in the named zone.
func (e *Engine) Daily(ctx context.Context, date, zone string) (*Doc, error) {
	w, err := timeutil.DayWindow(date, zone)
	if err != nil {
		return nil, err
	}
	return e.build(ctx, "daily", date, zone, w)
}

// Weekly aggregates the Monday-based week containing the civil date.
func (e *Engine) Weekly(ctx context.Context, date, zone string) (*Doc, error) {
	w, err := timeutil.WeekWindow(date, zone)
	if err != nil {
		return nil, err
	}
	return e.build(ctx, "weekly", date, zone, w)
}

func (e *Engine) build(ctx context.Context, scope, date, zone string, w timeutil.Window) (*Doc, error) {
	ents, err := e.host.List(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rollup: list entities: %w", err)
	}

	doc := &Doc{
		Scope:     scope,
		Date:      date,
		Zone:      zone,
		Window:    w,
		TagCounts: map[string]int{},
	}

	inWindow := func(ent *types.Entity, field string) (Item, bool) {
		ts, err := ent.Header.Time(field)
		if err != nil || !w.Contains(ts) {
			return Item{}, false
		}
		return Item{
			ID:    ent.ID(),
			Title: ent.Title(),
			State: ent.State(),
			TS:    timeutil.Format(ts),
		}, true
	}

	for _, ent := range ents {
		if errs := validation.Validate(ent.Kind, ent.Header); len(errs) > 0 {
			doc.Quarantined++
			continue
		}

		relevant := false
		switch ent.Kind {
		case types.KindEvent:
			if it, ok := inWindow(ent, types.FieldStartTS); ok {
				doc.Events = append(doc.Events, it)
				relevant = true
			}
		case types.KindTask:
			if it, ok := inWindow(ent, types.FieldDoneTS); ok && ent.State() == types.StateDone {
				doc.Completed = append(doc.Completed, it)
				relevant = true
			}
			if ent.State() == types.StateDoing {
				doc.InProgress = append(doc.InProgress, Item{
					ID: ent.ID(), Title: ent.Title(), State: ent.State(),
				})
				relevant = true
			}
			if it, ok := inWindow(ent, types.FieldDueTS); ok {
				doc.Due = append(doc.Due, it)
				relevant = true
			}
		}
		if relevant {
			for _, tag := range ent.Header.StringSlice(types.FieldTags) {
				doc.TagCounts[tag]++
			}
		}
	}

	for _, section := range [][]Item{doc.Events, doc.Completed, doc.InProgress, doc.Due} {
		sort.Slice(section, func(i, j int) bool {
			if section[i].TS != section[j].TS {
				return section[i].TS < section[j].TS
			}
			return section[i].ID < section[j].ID
		})
	}
	return doc, nil
}

// Markdown renders the doc in its fixed section order.
func (d *Doc) Markdown() string {
	var b strings.Builder
	scope := d.Scope
	if scope != "" {
		scope = strings.ToUpper(scope[:1]) + scope[1:]
	}
	fmt.Fprintf(&b, "# %s rollup: %s (%s)\n\n", scope, d.Date, d.Zone)
	fmt.Fprintf(&b, "Window: %s .. %s (%s)\n",
		timeutil.Format(d.Window.Start), timeutil.Format(d.Window.End), d.Window.Duration())
	if d.Window.DST {
		fmt.Fprintf(&b, "\n> Note: this window crosses a DST transition; its duration is not the nominal length.\n")
	}

	section := func(title string, items []Item) {
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		if len(items) == 0 {
			b.WriteString("none\n")
			return
		}
		for _, it := range items {
			if it.TS != "" {
				fmt.Fprintf(&b, "- %s: %s (%s)\n", it.ID, it.Title, it.TS)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", it.ID, it.Title)
			}
		}
	}
	section("Events", d.Events)
	section("Tasks completed", d.Completed)
	section("Tasks in progress", d.InProgress)
	section("Tasks due", d.Due)

	fmt.Fprintf(&b, "\n## Counts by tag\n\n")
	if len(d.TagCounts) == 0 {
		b.WriteString("none\n")
	} else {
		tags := make([]string, 0, len(d.TagCounts))
		for tag := range d.TagCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Fprintf(&b, "- %s: %d\n", tag, d.TagCounts[tag])
		}
	}

	if d.Quarantined > 0 {
		fmt.Fprintf(&b, "\n## Quarantined\n\n%d entities excluded (failed validation)\n", d.Quarantined)
	}
	return b.String()
}
