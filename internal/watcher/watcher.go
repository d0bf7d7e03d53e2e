// Package watcher emits rebuild notifications when project sources change.
// Change bursts are coalesced over a short window so one save producing
// several filesystem events triggers a single rebuild.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wehubfusion/Daedalus/internal/metrics"
	"go.uber.org/zap"
)

// debounceWindow is how long after the first event the watcher keeps
// absorbing follow-up events before notifying.
const debounceWindow = 100 * time.Millisecond

// ignoredDirs are directory names never watched or reported
var ignoredDirs = map[string]bool{
	"dist":         true,
	"node_modules": true,
	".git":         true,
	".daedalus":    true,
}

// Watcher watches a project directory tree and reports change batches
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *zap.Logger
}

// New creates a watcher over root and all its non-ignored subdirectories
func New(root string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, logger: logger}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops the underlying filesystem watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Watch emits the changed paths of each coalesced batch until the context
// ends. The returned channel closes when watching stops.
func (w *Watcher) Watch(ctx context.Context) <-chan []string {
	out := make(chan []string, 1)

	go func() {
		defer close(out)

		var pending []string
		var flush <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !relevant(ev) {
					continue
				}
				// Newly created directories need their own watch
				if ev.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if !ignoredDirs[filepath.Base(ev.Name)] {
							_ = w.fsw.Add(ev.Name)
						}
						continue
					}
				}
				pending = append(pending, ev.Name)
				if flush == nil {
					flush = time.After(debounceWindow)
				}

			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Watch error", zap.Error(err))

			case <-flush:
				batch := dedupe(pending)
				pending = nil
				flush = nil
				metrics.RebuildsTotal.Inc()
				w.logger.Debug("Change batch", zap.Strings("paths", batch))
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// relevant filters out events for ignored and hidden paths
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(ev.Name), "/") {
		if ignoredDirs[part] {
			return false
		}
		if len(part) > 1 && strings.HasPrefix(part, ".") && part != ".." {
			return false
		}
	}
	return true
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
