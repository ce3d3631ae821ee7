// Package watch triggers re-runs when scenario files or library
// artifacts change. Rapid event bursts (editors write-and-rename, build
// pipelines rewrite several artifacts) are coalesced into one trigger
// per debounce window.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Relevant file extensions: scenario descriptors and library artifacts.
var watchedExts = map[string]struct{}{
	".yaml":  {},
	".yml":   {},
	".so":    {},
	".dylib": {},
	".dll":   {},
	".wasm":  {},
}

// Watcher observes directory trees and reports batched changes.
type Watcher struct {
	window  time.Duration
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	pending map[string]struct{}
}

// New creates a watcher with the given debounce window.
func New(window time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		window:  window,
		fsw:     fsw,
		logger:  logger,
		pending: make(map[string]struct{}),
	}, nil
}

// Add watches dir and every directory below it. fsnotify watches are not
// recursive, so the tree is walked once here and new subdirectories are
// picked up from create events.
func (w *Watcher) Add(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run dispatches batches of changed paths to fn until the context ends.
// fn runs on the watch goroutine; a slow fn delays later batches but
// loses no events.
func (w *Watcher) Run(ctx context.Context, fn func(changed []string)) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.ingest(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.window)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.window)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(w.pending))
			for path := range w.pending {
				batch = append(batch, path)
			}
			clear(w.pending)
			sort.Strings(batch)
			fn(batch)
		}
	}
}

// ingest records a relevant event, returning whether the debounce timer
// should be armed.
func (w *Watcher) ingest(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	// A created directory joins the watch so later writes under it are
	// seen; the creation itself is not a change.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("watch add", "path", ev.Name, "err", err)
			}
			return false
		}
	}
	ext := strings.ToLower(filepath.Ext(ev.Name))
	if _, ok := watchedExts[ext]; !ok {
		return false
	}
	w.pending[ev.Name] = struct{}{}
	return true
}
