package plans

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 100 * time.Millisecond

// Watcher reloads a Registry whenever its backing file is written. A file that
// fails to parse leaves the previous catalog in place.
type Watcher struct {
	registry *Registry
	path     string
	onReload func(n int)
}

func NewWatcher(registry *Registry, path string) *Watcher {
	return &Watcher{registry: registry, path: path}
}

// OnReload registers a callback invoked with the plan count after each
// successful reload.
func (w *Watcher) OnReload(fn func(n int)) {
	w.onReload = fn
}

// Run watches until ctx is cancelled. The directory is watched rather than the
// file so that editors replacing the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("plans watcher disabled", "path", dir, "error", err)
		<-ctx.Done()
		return nil
	}
	slog.Info("watching plans file", "path", w.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("plans watcher error", "error", err)
		}
	}
}

// Reload re-reads the file into the registry.
func (w *Watcher) Reload() bool {
	plans, err := readFile(w.path)
	if err != nil {
		slog.Error("plans reload failed", "path", w.path, "error", err)
		return false
	}
	w.registry.Replace(plans)
	slog.Info("plans reloaded", "path", w.path, "count", len(plans))
	if w.onReload != nil {
		w.onReload(len(plans))
	}
	return true
}
