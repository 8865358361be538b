// Package credentials probes for the external agent's credential file and
// watches it for changes so a long-running bridge process never needs to
// poll the filesystem on the hot path.
package credentials

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// DefaultPath is the well-known credential file the Command Handler
// probes before invoking the agent.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

// Probe reports whether path exists and is readable. No parsing is done
// at this layer — presence and permission are the entire contract.
func Probe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Watcher caches the probe result and invalidates it the moment the
// credential file is created, written, removed, or renamed, so callers
// on the hot path read a cached bool instead of hitting the filesystem.
type Watcher struct {
	path    string
	logger  *slog.Logger
	cached  atomic.Bool
	primed  atomic.Bool
}

// NewWatcher creates a Watcher for path. Call Start to begin watching.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, logger: logger}
}

// Probe returns the cached result, priming it with a real filesystem probe
// on first call.
func (w *Watcher) Probe() bool {
	if w.primed.CompareAndSwap(false, true) {
		w.cached.Store(Probe(w.path))
	}
	return w.cached.Load()
}

// Start watches the credential file's parent directory (the file may not
// exist yet) and invalidates the cached probe result on relevant events.
// It returns once the watcher is established; events are handled in a
// background goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	w.cached.Store(Probe(w.path))
	w.primed.Store(true)

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				fresh := Probe(w.path)
				w.cached.Store(fresh)
				w.logger.Info("credential file changed", "path", ev.Name, "op", ev.Op.String(), "present", fresh)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("credential watcher error", "error", err)
			}
		}
	}()
	return nil
}
