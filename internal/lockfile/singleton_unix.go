//go:build unix

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDaemonLocked means another daemon process already holds the
// singleton lock for this vault.
var ErrDaemonLocked = errors.New("daemon lock already held by another process")

// AcquireSingleton takes a non-blocking exclusive lock on path and
// returns the open file, which must stay open for the lifetime of the
// process. Used to guarantee at most one daemon per vault.
func AcquireSingleton(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640) // #nosec G304 - path under vault state dir
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrDaemonLocked
		}
		return nil, err
	}
	return f, nil
}

// ReleaseSingleton unlocks and closes the singleton lock file.
func ReleaseSingleton(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
