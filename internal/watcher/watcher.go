// Package watcher passively observes the projects directory. It logs
// changes and reports which projects changed; it never feeds back into
// session supervision.
package watcher

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"claude-synapse/internal/project"
)

const defaultDebounce = 500 * time.Millisecond

// excludedDirs are never watched.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// ChangeCallback receives the sorted ids of projects that changed during
// one debounce window.
type ChangeCallback func(projectIDs []string)

// Watcher monitors the projects directory for file changes.
type Watcher struct {
	// Debounce is the quiet period before changes are reported.
	Debounce time.Duration

	root     string
	callback ChangeCallback
	log      *slog.Logger

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
	pending   map[string]bool
	timer     *time.Timer
}

// New creates a watcher for root. callback may be nil.
func New(root string, callback ChangeCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		Debounce: defaultDebounce,
		root:     root,
		callback: callback,
		log:      logger,
		pending:  make(map[string]bool),
	}
}

// Start begins watching. A missing root is logged and leaves the watcher
// idle.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.root)
	if err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, os.ErrNotExist) {
			w.log.Info("projects directory not present, watcher idle", "path", w.root)
			return nil
		}
		return err
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addDirsRecursive(fsW, w.root); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	if w.fsWatcher != nil {
		w.mu.Unlock()
		fsW.Close()
		return errors.New("watcher already started")
	}
	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.watchLoop(fsW, w.cancel, w.done)

	w.log.Info("watching projects directory", "path", w.root)
	return nil
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			w.log.Debug("file event", "path", event.Name, "op", event.Op.String())

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(fsW, event.Name); err != nil {
						w.log.Warn("watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			if id := project.IDFromPath(w.root, event.Name); id != "" {
				w.markChanged(id)
			}

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// markChanged records id and restarts the debounce timer.
func (w *Watcher) markChanged(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[id] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(ids)
	w.log.Info("projects changed", "projects", ids)
	if w.callback != nil {
		w.callback(ids)
	}
}

// Shutdown stops watching and waits for the event loop to exit.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	fsW, cancel, done := w.fsWatcher, w.cancel, w.done
	w.fsWatcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if fsW == nil {
		return
	}
	close(cancel)
	fsW.Close()
	<-done
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if excludedDirs[name] && path != dir {
			return filepath.SkipDir
		}
		if isHidden(name) && path != dir {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
