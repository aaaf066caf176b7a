package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/ui"
	"github.com/steveyegge/mdvault/internal/vault"
)

// openHost builds a Host over the resolved vault. CLI commands run
// without a bus: post-write events only matter inside the daemon.
func openHost() (*vault.Host, error) {
	settings := config.Load()
	return vault.Open(vaultFlag, vault.Options{
		Audit:            audit.New(filepath.Join(vaultFlag, vault.ArtifactDir)),
		LockTimeout:      settings.LockTimeout,
		NearDupThreshold: settings.NearDupThreshold,
	})
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode JSON: %v\n", err)
	}
}

// printEntity writes a one-line summary: id, state, title, due.
func printEntity(e *types.Entity) {
	line := fmt.Sprintf("%-44s %-8s %s", e.ID(), e.State(), ui.ClipTitle(e.Title(), 60))
	if due, err := e.Header.Time(types.FieldDueTS); err == nil {
		line += ui.MutedStyle.Render("  due " + timeutil.Format(due))
	}
	fmt.Println(line)
}

// entityMap flattens an entity for --json output.
func entityMap(e *types.Entity) map[string]any {
	out := map[string]any{"kind": string(e.Kind), "body": e.Body}
	keys := make([]string, 0, len(e.Header))
	for k := range e.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = e.Header[k]
	}
	return out
}

// parseSetFlags turns repeated key=value pairs into a header delta.
// A bare "key=" maps the key to nil, which removes it on merge.
func parseSetFlags(pairs []string) (types.Header, error) {
	delta := types.Header{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set wants key=value, got %q", p)
		}
		if v == "" {
			delta[k] = nil
			continue
		}
		if strings.Contains(v, ",") && k == types.FieldTags {
			delta[k] = strings.Split(v, ",")
			continue
		}
		delta[k] = v
	}
	return delta, nil
}
