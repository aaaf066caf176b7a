// Package lockfile provides the vault's advisory locking: a per-entity
// exclusive lock held across read-modify-write, and a process-singleton
// lock for the daemon.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/mdvault/internal/types"
)

// DefaultTimeout bounds per-entity lock acquisition.
const DefaultTimeout = 10 * time.Second

// retryInterval is the poll cadence while waiting for a contended lock.
const retryInterval = 50 * time.Millisecond

// EntityLock is an exclusive advisory lock on a single entity id.
type EntityLock struct {
	fl   *flock.Flock
	path string
}

// Acquire takes the exclusive lock for id under lockDir, waiting up to
// timeout. A zero timeout means DefaultTimeout. Failure to acquire in
// time returns types.ErrLockTimeout (retryable).
func Acquire(ctx context.Context, lockDir, id string, timeout time.Duration) (*EntityLock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir %s: %w", lockDir, err)
	}

	path := filepath.Join(lockDir, id+".lock")
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, retryInterval)
	if err != nil && lockCtx.Err() == nil {
		return nil, fmt.Errorf("lockfile: %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("lockfile: %s after %s: %w", id, timeout, types.ErrLockTimeout)
	}
	return &EntityLock{fl: fl, path: path}, nil
}

// Release drops the lock. The lock file itself is left in place; it is
// just an inode to flock against.
func (l *EntityLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// Path returns the lock file location (for diagnostics).
func (l *EntityLock) Path() string { return l.path }
