// Package watcher monitors the source directory and reports batches of
// changes via callbacks.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"tagfs/internal/logging"
	"tagfs/internal/storage"

	"github.com/fsnotify/fsnotify"
)

var (
	logger = logging.GetLogger().WithPrefix("watcher")
)

// DefaultDebounce is how long the watcher waits for a burst of events to
// settle before reporting it.
const DefaultDebounce = 500 * time.Millisecond

// EventType represents the type of file system event
type EventType int

// File system event types.
const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event represents a change to one file of the source directory
type Event struct {
	Type EventType
	Name string
}

// Callback is called once per settled burst with the events it contained
type Callback func([]Event)

// Watcher monitors the top level of a source directory
type Watcher struct {
	watcher   *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	callbacks []Callback

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for dir. A zero debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		watcher:  w,
		dir:      dir,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers a callback. Callbacks must be registered before Start.
func (w *Watcher) OnChange(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching the directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", w.dir, err)
	}
	logger.Info("Watching %s for changes", w.dir)

	go w.eventLoop()
	return nil
}

// Stop stops the watcher. Pending events are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = nil
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if storage.Hidden(name) {
		return
	}

	var eventType EventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Has(fsnotify.Write):
		eventType = EventWrite
	case event.Has(fsnotify.Remove):
		eventType = EventRemove
	case event.Has(fsnotify.Rename):
		eventType = EventRename
	default:
		return
	}

	logger.Trace("Event %s on %s", eventType, name)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, Event{Type: eventType, Name: name})
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// flush hands the settled burst to the callbacks.
func (w *Watcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.timer = nil
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	if len(events) == 0 {
		return
	}

	logger.Debug("Reporting %d changes in %s", len(events), w.dir)
	for _, cb := range callbacks {
		cb(events)
	}
}
