// Package linkgraph maintains the vault's bidirectional reference
// index. References come from the header relationship fields and from
// [[wiki]] targets in the body; body targets may be ids, aliases, or
// titles. Unresolved targets are reported as broken, never rejected.
//
// The graph is auxiliary and rebuildable: every mutation appends to a
// journal before touching the in-memory index, and startup replays the
// journal on top of the last full rebuild.
package linkgraph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/mdvault/internal/idgen"
	"github.com/steveyegge/mdvault/internal/types"
)

// wikiRe matches [[target]] occurrences in entity bodies.
var wikiRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// DefaultNearDuplicateThreshold is the title-similarity cutoff used
// when the config does not override it.
const DefaultNearDuplicateThreshold = 0.85

// refFields are the header fields whose values are entity-id references.
var refFields = []string{
	types.FieldLinks,
	types.FieldDependsOn,
	types.FieldBlocks,
	types.FieldRelatesTo,
}

// node is the per-entity record inside the graph.
type node struct {
	title   string
	targets []string // raw reference targets, header order then body order
}

// Graph is the in-memory link index plus its journal.
type Graph struct {
	mu        sync.Mutex
	journal   string
	aliases   *idgen.Aliases
	threshold float64
	nodes     map[string]*node
	// inverse maps a resolved target id to the set of referrers. It is
	// recomputed from the raw targets after every mutation, which keeps
	// resolution current as entities appear and disappear.
	inverse map[string]map[string]bool
	broken  map[string][]string
}

// New creates an empty graph journaling to journalPath. A nil aliases
// table disables alias resolution; threshold <= 0 uses the default.
func New(journalPath string, aliases *idgen.Aliases, threshold float64) *Graph {
	if threshold <= 0 {
		threshold = DefaultNearDuplicateThreshold
	}
	return &Graph{
		journal:   journalPath,
		aliases:   aliases,
		threshold: threshold,
		nodes:     map[string]*node{},
		inverse:   map[string]map[string]bool{},
		broken:    map[string][]string{},
	}
}

// ExtractTargets pulls every raw reference target out of an entity:
// header relationship fields first, then body wiki links in order.
func ExtractTargets(e *types.Entity) []string {
	var out []string
	for _, f := range refFields {
		out = append(out, e.Header.StringSlice(f)...)
	}
	for _, m := range wikiRe.FindAllStringSubmatch(e.Body, -1) {
		target := strings.TrimSpace(m[1])
		// Obsidian-style display aliases: [[target|shown text]].
		if i := strings.Index(target, "|"); i >= 0 {
			target = strings.TrimSpace(target[:i])
		}
		if target != "" {
			out = append(out, target)
		}
	}
	return out
}

type journalEntry struct {
	Op      string   `json:"op"` // upsert | delete
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// Upsert recomputes the forward edges for an entity. The journal entry
// is appended before the in-memory index changes.
func (g *Graph) Upsert(e *types.Entity) error {
	entry := journalEntry{Op: "upsert", ID: e.ID(), Title: e.Title(), Targets: ExtractTargets(e)}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.appendJournal(entry); err != nil {
		return err
	}
	g.apply(entry)
	return nil
}

// Delete removes an entity's edges. Inverse edges that pointed at it
// become broken on the next Diagnose.
func (g *Graph) Delete(id string) error {
	entry := journalEntry{Op: "delete", ID: id}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.appendJournal(entry); err != nil {
		return err
	}
	g.apply(entry)
	return nil
}

// Backlinks returns the ids of entities referencing id, sorted.
func (g *Graph) Backlinks(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.inverse[id]
	out := make([]string, 0, len(set))
	for from := range set {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// Report is the result of a full graph diagnosis.
type Report struct {
	Orphans        []string            `json:"orphans"`
	Cycles         [][]string          `json:"cycles"`
	Broken         map[string][]string `json:"broken"`
	NearDuplicates [][2]string         `json:"near_duplicates"`
}

// Diagnose computes orphans, cycles, broken references, and
// near-duplicate titles over the current index.
func (g *Graph) Diagnose() Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	rep := Report{Broken: map[string][]string{}}
	for id, brk := range g.broken {
		rep.Broken[id] = append([]string(nil), brk...)
	}

	// Orphans: no outgoing resolved edges and no referrers.
	for id, n := range g.nodes {
		hasOut := false
		for _, t := range n.targets {
			if _, ok := g.resolve(t); ok {
				hasOut = true
				break
			}
		}
		if !hasOut && len(g.inverse[id]) == 0 {
			rep.Orphans = append(rep.Orphans, id)
		}
	}
	sort.Strings(rep.Orphans)

	rep.Cycles = g.findCycles()
	rep.NearDuplicates = g.nearDuplicates()
	return rep
}

// Rebuild replaces the whole index from a vault scan and truncates the
// journal: the scan itself is the new committed snapshot.
func (g *Graph) Rebuild(entities []*types.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = map[string]*node{}
	for _, e := range entities {
		g.nodes[e.ID()] = &node{title: e.Title(), targets: ExtractTargets(e)}
	}
	g.refresh()

	if g.journal == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.journal), 0o750); err != nil {
		return fmt.Errorf("linkgraph: mkdir: %w", err)
	}
	if err := os.WriteFile(g.journal, nil, 0o640); err != nil {
		return fmt.Errorf("linkgraph: truncate journal: %w", err)
	}
	return nil
}

// Replay applies journal entries recorded after the last rebuild.
// Unknown or truncated trailing lines are skipped: a crash mid-append
// must not poison recovery.
func (g *Graph) Replay() error {
	if g.journal == "" {
		return nil
	}
	f, err := os.Open(g.journal) // #nosec G304 - controlled path under vault state dir
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("linkgraph: open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	g.mu.Lock()
	defer g.mu.Unlock()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry journalEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue
		}
		g.apply(entry)
	}
	return sc.Err()
}

func (g *Graph) appendJournal(entry journalEntry) error {
	if g.journal == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.journal), 0o750); err != nil {
		return fmt.Errorf("linkgraph: mkdir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("linkgraph: marshal journal entry: %w", err)
	}
	f, err := os.OpenFile(g.journal, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 - controlled path
	if err != nil {
		return fmt.Errorf("linkgraph: open journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("linkgraph: append journal: %w", err)
	}
	return nil
}

// apply mutates the in-memory index. Caller holds the lock.
func (g *Graph) apply(entry journalEntry) {
	switch entry.Op {
	case "upsert":
		g.nodes[entry.ID] = &node{title: entry.Title, targets: entry.Targets}
	case "delete":
		delete(g.nodes, entry.ID)
	}
	g.refresh()
}

// refresh recomputes resolution-dependent state (inverse index and
// broken set) from the raw targets. Caller holds the lock.
func (g *Graph) refresh() {
	g.inverse = map[string]map[string]bool{}
	g.broken = map[string][]string{}
	for from, n := range g.nodes {
		for _, raw := range n.targets {
			to, ok := g.resolve(raw)
			if !ok {
				g.broken[from] = append(g.broken[from], raw)
				continue
			}
			if g.inverse[to] == nil {
				g.inverse[to] = map[string]bool{}
			}
			g.inverse[to][from] = true
		}
	}
}

// resolve maps a raw target to an existing entity id: direct id match
// first, then the alias table, then a normalized-title match.
func (g *Graph) resolve(raw string) (string, bool) {
	if _, ok := g.nodes[raw]; ok {
		return raw, true
	}
	if g.aliases != nil {
		if id := g.aliases.Resolve(raw); id != raw {
			if _, ok := g.nodes[id]; ok {
				return id, true
			}
		}
	}
	want := normalizeTitle(raw)
	if want == "" {
		return "", false
	}
	for id, n := range g.nodes {
		if normalizeTitle(n.title) == want {
			return id, true
		}
	}
	return "", false
}

// findCycles runs DFS with coloring over resolved edges. Caller holds
// the lock.
func (g *Graph) findCycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, raw := range g.nodes[id].targets {
			to, ok := g.resolve(raw)
			if !ok {
				continue
			}
			switch color[to] {
			case white:
				visit(to)
			case gray:
				// Found a back edge; slice the cycle off the stack.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == to {
						cycles = append(cycles, append([]string(nil), stack[i:]...))
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// nearDuplicates compares normalized titles pairwise with a bigram
// Dice coefficient. Advisory only. Caller holds the lock.
func (g *Graph) nearDuplicates() [][2]string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out [][2]string
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a := normalizeTitle(g.nodes[ids[i]].title)
			b := normalizeTitle(g.nodes[ids[j]].title)
			if a == "" || b == "" {
				continue
			}
			if diceCoefficient(a, b) >= g.threshold {
				out = append(out, [2]string{ids[i], ids[j]})
			}
		}
	}
	return out
}

func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func diceCoefficient(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	bigrams := func(s string) map[string]int {
		m := map[string]int{}
		for i := 0; i+2 <= len(s); i++ {
			m[s[i:i+2]]++
		}
		return m
	}
	ma, mb := bigrams(a), bigrams(b)
	var overlap, total int
	for bg, ca := range ma {
		if cb, ok := mb[bg]; ok {
			if ca < cb {
				overlap += ca
			} else {
				overlap += cb
			}
		}
		total += ca
	}
	for _, cb := range mb {
		total += cb
	}
	return 2 * float64(overlap) / float64(total)
}
