//go:build !unix

package lockfile

import (
	"errors"
	"os"

	"github.com/gofrs/flock"
)

// ErrDaemonLocked means another daemon process already holds the
// singleton lock for this vault.
var ErrDaemonLocked = errors.New("daemon lock already held by another process")

var singletons = map[*os.File]*flock.Flock{}

// AcquireSingleton takes a non-blocking exclusive lock on path. The
// returned file must stay open for the lifetime of the process.
func AcquireSingleton(path string) (*os.File, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrDaemonLocked
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640) // #nosec G304 - path under vault state dir
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	singletons[f] = fl
	return f, nil
}

// ReleaseSingleton unlocks and closes the singleton lock file.
func ReleaseSingleton(f *os.File) error {
	if f == nil {
		return nil
	}
	if fl, ok := singletons[f]; ok {
		delete(singletons, f)
		_ = fl.Unlock()
	}
	return f.Close()
}
