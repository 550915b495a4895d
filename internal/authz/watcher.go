package authz

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a catalog file into a Holder whenever it changes on disk.
type Watcher struct {
	path     string
	holder   *Holder
	logger   *slog.Logger
	debounce time.Duration
	onReload func(error)
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces bursts of file events. Editors typically emit
// several events per save.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook is called after every reload attempt with its outcome.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher builds a watcher for path publishing into holder.
func NewWatcher(path string, holder *Holder, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: filepath.Clean(path), holder: holder, logger: logger, debounce: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. The parent directory is watched so that
// atomic rename-over saves are observed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("authz: new watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("authz: watch %s: %w", w.path, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher", slog.Any("error", err))
		}
	}
}

func (w *Watcher) reload() {
	spec, err := LoadSpecFile(w.path)
	if err == nil {
		var engine *Engine
		engine, err = w.holder.Reload(spec)
		if err == nil {
			catalog := engine.Catalog()
			w.logger.Info("catalog reloaded", slog.String("path", w.path), slog.Int("roles", len(catalog.Roles())))
			for _, role := range catalog.Drift() {
				w.logger.Warn("flattened inheritance incomplete", slog.String("role", string(role)))
			}
		}
	}
	if err != nil {
		w.logger.Error("catalog reload rejected, keeping previous catalog", slog.String("path", w.path), slog.Any("error", err))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
