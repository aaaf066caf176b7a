// Package mdvault provides a minimal public API for embedding the
// vault engine in other Go programs.
//
// Most integrations should shell out to the vd CLI or drop files into
// the vault inbox. This package exports only the essential types and
// the Host constructor for programs that want direct, in-process
// access to the single-writer engine.
package mdvault

import (
	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/vault"
)

// Core types for working with entities.
type (
	Entity = types.Entity
	Header = types.Header
	Kind   = types.Kind
)

// Kind constants.
const (
	KindTask  = types.KindTask
	KindNote  = types.KindNote
	KindEvent = types.KindEvent
)

// Task lifecycle states.
const (
	StateTodo     = types.StateTodo
	StateDoing    = types.StateDoing
	StateReview   = types.StateReview
	StateDone     = types.StateDone
	StateBlocked  = types.StateBlocked
	StateArchived = types.StateArchived
	StateActive   = types.StateActive
)

// Host is the single writer over a vault directory. All mutations go
// through it; concurrent processes are safe via per-entity file locks.
type Host = vault.Host

// Options tunes an opened Host.
type Options = vault.Options

// Init creates the on-disk vault layout. Safe on an existing vault.
func Init(root string) error {
	return vault.Init(root)
}

// Open loads a Host over an initialized vault and rebuilds the link
// graph from the entity files.
func Open(root string, opts Options) (*Host, error) {
	return vault.Open(root, opts)
}

// IsNotFound reports whether err means a missing entity.
func IsNotFound(err error) bool {
	return types.IsNotFound(err)
}
