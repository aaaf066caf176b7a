package idgen

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/steveyegge/mdvault/internal/atomicfile"
)

// Aliases maps historical entity ids to their current id. Renames go
// through delete-then-create; the alias row keeps old references
// resolvable afterwards.
type Aliases struct {
	mu    sync.RWMutex
	path  string
	table map[string]string // old id -> current id
}

// LoadAliases reads the alias table from path. A missing file yields an
// empty table.
func LoadAliases(path string) (*Aliases, error) {
	a := &Aliases{path: path, table: map[string]string{}}
	data, err := os.ReadFile(path) // #nosec G304 - controlled path under vault root
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idgen: read aliases: %w", err)
	}
	if err := json.Unmarshal(data, &a.table); err != nil {
		return nil, fmt.Errorf("idgen: parse aliases: %w", err)
	}
	return a, nil
}

// Resolve follows alias chains until it reaches a current id. Returns
// the input unchanged when no alias exists.
func (a *Aliases) Resolve(id string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seen := map[string]bool{}
	for {
		next, ok := a.table[id]
		if !ok || seen[id] {
			return id
		}
		seen[id] = true
		id = next
	}
}

// Record adds oldID -> newID and persists the table atomically.
func (a *Aliases) Record(oldID, newID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if oldID == newID {
		return nil
	}
	a.table[oldID] = newID
	return atomicfile.WriteJSON(a.path, a.table, 0o644)
}

// Snapshot returns a copy of the table (for diagnostics).
func (a *Aliases) Snapshot() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.table))
	for k, v := range a.table {
		out[k] = v
	}
	return out
}
