// Package fswatch recursively watches a configured set of workstream
// directory roots and emits debounced, workstream-relative change events
// over a bounded channel.
package fswatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Action identifies what kind of change a path underwent.
type Action string

const (
	Created  Action = "created"
	Modified Action = "modified"
	Deleted  Action = "deleted"
)

// Event is one workstream-relative filesystem change.
type Event struct {
	Workstream   string
	RelativePath string
	Action       Action
	Timestamp    time.Time
}

// DefaultDebounce is the coalescing window applied per path when none is
// configured.
const DefaultDebounce = 200 * time.Millisecond

// DefaultBufferSize is the bounded event channel's capacity when none is
// configured.
const DefaultBufferSize = 256

// Root is one directory tree to watch, associated with the workstream id
// whose changes it represents.
type Root struct {
	Workstream string
	Path       string
}

// Watcher recursively watches a set of Roots and publishes debounced
// Events. It runs on a dedicated goroutine, locked to its own OS thread,
// whose lifetime is tied to the Watcher handle returned by New.
type Watcher struct {
	roots      []Root
	fsWatcher  *fsnotify.Watcher
	logger     *slog.Logger
	debounce   time.Duration
	events     chan Event
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	timerMu sync.Mutex
	timers  map[string]*pendingEvent
	timerWG sync.WaitGroup
}

type pendingEvent struct {
	timer  *time.Timer
	action Action
}

// New builds a Watcher over roots. bufferSize <= 0 uses DefaultBufferSize;
// debounce <= 0 uses DefaultDebounce. Every directory under each root is
// added to the underlying native watch at construction time; directories
// created later are picked up as they appear.
func New(roots []Root, bufferSize int, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fswatch: create watcher: %w", err)
	}

	w := &Watcher{
		roots:     append([]Root(nil), roots...),
		fsWatcher: fsWatcher,
		logger:    logger.With("component", "fswatch"),
		debounce:  debounce,
		events:    make(chan Event, bufferSize),
		timers:    make(map[string]*pendingEvent),
	}

	for _, root := range w.roots {
		if err := w.addTree(root.Path); err != nil {
			_ = fsWatcher.Close()
			return nil, fmt.Errorf("fswatch: watch root %q: %w", root.Path, err)
		}
	}
	return w, nil
}

// Events returns the channel Events are published on.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start launches the dedicated watch goroutine.
func (w *Watcher) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(watchCtx)
}

// Close stops the watch goroutine, waits for pending debounce timers to
// settle, and releases the native watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.timerMu.Lock()
	for _, p := range w.timers {
		if p.timer.Stop() {
			w.timerWG.Done()
		}
	}
	w.timerMu.Unlock()
	w.timerWG.Wait()

	err := w.fsWatcher.Close()
	close(w.events)
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var action Action
	switch {
	case ev.Op&fsnotify.Create != 0:
		action = Created
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	case ev.Op&fsnotify.Write != 0:
		action = Modified
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		action = Deleted
	default:
		return
	}

	workstream, relPath, ok := w.resolve(ev.Name)
	if !ok {
		return
	}
	w.scheduleEmit(ev.Name, workstream, relPath, action)
}

// scheduleEmit debounces repeated events on the same absolute path within
// the configured window, keeping the most recent action observed.
func (w *Watcher) scheduleEmit(absPath, workstream, relPath string, action Action) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if p, ok := w.timers[absPath]; ok {
		p.action = action
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingEvent{action: action}
	w.timerWG.Add(1)
	p.timer = time.AfterFunc(w.debounce, func() {
		defer w.timerWG.Done()
		w.timerMu.Lock()
		final := p.action
		delete(w.timers, absPath)
		w.timerMu.Unlock()
		w.publish(Event{Workstream: workstream, RelativePath: relPath, Action: final, Timestamp: time.Now()})
	})
	w.timers[absPath] = p
}

// publish sends non-blocking: if the bounded channel is full the event is
// dropped with a warning rather than the watcher stalling.
func (w *Watcher) publish(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event channel full, dropping event",
			"workstream", ev.Workstream, "path", ev.RelativePath, "action", ev.Action)
	}
}

// resolve maps an absolute path to the workstream root that contains it
// and the path relative to that root. Paths outside every registered root
// are rejected.
func (w *Watcher) resolve(absPath string) (workstream, relPath string, ok bool) {
	var bestRoot Root
	bestLen := -1
	for _, root := range w.roots {
		if absPath == root.Path || strings.HasPrefix(absPath, root.Path+string(filepath.Separator)) {
			if len(root.Path) > bestLen {
				bestRoot = root
				bestLen = len(root.Path)
			}
		}
	}
	if bestLen < 0 {
		return "", "", false
	}
	rel, err := filepath.Rel(bestRoot.Path, absPath)
	if err != nil {
		return "", "", false
	}
	return bestRoot.Workstream, filepath.ToSlash(rel), true
}

// addTree adds root and every directory beneath it to the native watcher.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsWatcher.Add(path)
	})
}
