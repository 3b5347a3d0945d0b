// Package watcher monitors the batch keys file so stories appended to
// it while the agent runs in monitor mode get picked up without a
// restart.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is sent after the watched file settles following a change.
type Event struct {
	Path string
}

// Watcher monitors files for changes and emits debounced events.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	debounce time.Duration
	events   chan Event
	errs     chan error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pending bool
}

// New creates a watcher for the given paths. Events fire only after the
// debounce window passes without further writes, so editors that save
// in several steps trigger a single event.
func New(paths []string, debounce time.Duration) *Watcher {
	return &Watcher{
		paths:    paths,
		debounce: debounce,
		events:   make(chan Event, 8),
		errs:     make(chan error, 8),
		stopCh:   make(chan struct{}),
	}
}

// Events returns the debounced change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Start begins watching. Directories containing the files are watched
// rather than the files themselves so rename-and-replace saves are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	var err error
	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	for _, path := range w.paths {
		dir := filepath.Dir(path)
		_ = w.watcher.Add(dir)
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.run()
	return nil
}

// Stop stops watching and closes the event channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) run() {
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()

	var lastPath string

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isWatchedPath(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
			lastPath = event.Name

			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.mu.Lock()
			pending := w.pending
			w.pending = false
			w.mu.Unlock()

			if pending {
				select {
				case w.events <- Event{Path: lastPath}:
				default:
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) isWatchedPath(path string) bool {
	absPath, _ := filepath.Abs(path)

	for _, watchedPath := range w.paths {
		absWatched, _ := filepath.Abs(watchedPath)
		if absPath == absWatched {
			return true
		}
		if filepath.Base(path) == filepath.Base(watchedPath) {
			return true
		}
	}
	return false
}
