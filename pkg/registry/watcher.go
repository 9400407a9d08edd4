package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the registry file for changes and triggers reloads.
// Write bursts are debounced so a single editor save does not cause
// multiple reloads.
type Watcher struct {
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the registry's backing file.
func NewWatcher(registry *Registry, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		registry: registry,
		debounce: debounce,
		logger:   slog.Default().With("component", "registry.watcher"),
	}
}

// Watch blocks, reloading the registry when its file changes, until the
// context is cancelled. Reload failures are logged and the previous
// candidate set stays active.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.registry.path == "" {
		return fmt.Errorf("registry has no backing file to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory rather than the file itself: editors and
	// config tools commonly replace the file via rename, which drops a
	// direct file watch.
	dir := filepath.Dir(w.registry.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("registry watcher started",
		"path", w.registry.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("registry watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.registry.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := w.registry.Reload(); err != nil {
				w.logger.Warn("registry reload failed, keeping previous candidates",
					"error", err,
				)
				continue
			}
			w.logger.Info("registry reloaded",
				"candidates", w.registry.Len(),
			)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("registry watcher error", "error", err)
		}
	}
}
