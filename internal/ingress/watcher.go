package ingress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/timeutil"
)

// processedDir is where consumed drops are moved, relative to the
// inbox directory.
const processedDir = ".processed"

// defaultSettle gives the writing process time to finish before the
// drop is read. Editors and `mv` are atomic in practice; `cp` is not.
const defaultSettle = 200 * time.Millisecond

// Watcher normalizes files dropped into the vault inbox. Only .md and
// .json files are picked up; everything else is left in place.
type Watcher struct {
	inboxDir   string
	normalizer *Normalizer
	settle     time.Duration
}

func NewWatcher(inboxDir string, n *Normalizer) *Watcher {
	return &Watcher{inboxDir: inboxDir, normalizer: n, settle: defaultSettle}
}

// WithSettle overrides the delay between seeing a drop and reading it.
func (w *Watcher) WithSettle(d time.Duration) *Watcher {
	if d > 0 {
		w.settle = d
	}
	return w
}

// Run watches the inbox until ctx is cancelled. Files already present
// at startup are drained first, so drops made while the daemon was
// down are not lost.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.inboxDir, processedDir), 0o750); err != nil {
		return fmt.Errorf("ingress: prepare inbox: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingress: watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.inboxDir); err != nil {
		return fmt.Errorf("ingress: watch %s: %w", w.inboxDir, err)
	}

	if err := w.drainExisting(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !eligible(ev.Name) {
				continue
			}
			time.Sleep(w.settle)
			if err := w.consume(ctx, ev.Name); err != nil {
				debug.Logf("ingress: drop %s: %v\n", ev.Name, err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			debug.Logf("ingress: watch error: %v\n", err)
		}
	}
}

func (w *Watcher) drainExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		return fmt.Errorf("ingress: read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !eligible(e.Name()) {
			continue
		}
		if err := w.consume(ctx, filepath.Join(w.inboxDir, e.Name())); err != nil {
			debug.Logf("ingress: drain %s: %v\n", e.Name(), err)
		}
	}
	return nil
}

// consume publishes the drop and moves it out of the inbox. The move
// happens even when publishing fails with a non-retryable error, so a
// poison file cannot wedge the drain loop; the audit trail carries the
// failure.
func (w *Watcher) consume(ctx context.Context, path string) error {
	contents, err := os.ReadFile(path) // #nosec G304 - inbox-confined path
	if err != nil {
		if os.IsNotExist(err) {
			return nil // consumed by a concurrent drain
		}
		return err
	}
	name := filepath.Base(path)
	pubErr := w.normalizer.FileDropped(ctx, name, contents, timeutil.Now())

	dest := filepath.Join(w.inboxDir, processedDir, name)
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("move to processed: %w", err)
	}
	return pubErr
}

func eligible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".json":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}
