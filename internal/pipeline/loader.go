package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoaderEventKind distinguishes what happened to a workflow definition file.
type LoaderEventKind string

const (
	LoaderEventLoaded  LoaderEventKind = "loaded"
	LoaderEventRemoved LoaderEventKind = "removed"
	LoaderEventError   LoaderEventKind = "error"
)

// LoaderEvent is emitted once per file add/modify/delete the loader
// processes.
type LoaderEvent struct {
	Kind LoaderEventKind
	Name string
	Path string
	Err  error
}

// DefaultLoaderDebounce is the window the loader waits for a burst of
// filesystem events on the same file to settle before reprocessing it.
const DefaultLoaderDebounce = 300 * time.Millisecond

// Loader watches a directory of workflow definition files (one workflow
// per YAML file) and keeps an Engine's loaded-workflow set in sync with
// it, hot-reloading on create/write and unregistering on delete.
type Loader struct {
	engine   *Engine
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	events   chan LoaderEvent

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	timerWG sync.WaitGroup
}

// NewLoader builds a Loader over dir. debounce <= 0 uses
// DefaultLoaderDebounce.
func NewLoader(engine *Engine, dir string, debounce time.Duration, logger *slog.Logger) *Loader {
	if debounce <= 0 {
		debounce = DefaultLoaderDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		engine:   engine,
		dir:      dir,
		debounce: debounce,
		logger:   logger.With("component", "pipeline.loader"),
		events:   make(chan LoaderEvent, 64),
	}
}

// Events returns the channel LoaderEvents are published on.
func (l *Loader) Events() <-chan LoaderEvent {
	return l.events
}

// LoadAll loads every workflow definition file currently in the directory,
// emitting one LoaderEvent per file.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("pipeline: read workflow directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		l.loadFile(filepath.Join(l.dir, entry.Name()))
	}
	return nil
}

// Start begins watching the directory for changes. LoadAll should be
// called before Start to establish the initial loaded set.
func (l *Loader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pipeline: start workflow watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("pipeline: watch workflow directory: %w", err)
	}
	l.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher, waits for its goroutine and any pending
// debounce timers to finish, then closes the event channel.
func (l *Loader) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.wg.Wait()

	l.timerMu.Lock()
	for _, t := range l.timers {
		if t.Stop() {
			l.timerWG.Done()
		}
	}
	l.timerMu.Unlock()
	l.timerWG.Wait()

	close(l.events)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer l.wg.Done()

	l.timerMu.Lock()
	if l.timers == nil {
		l.timers = make(map[string]*time.Timer)
	}
	l.timerMu.Unlock()

	schedule := func(path string) {
		l.timerMu.Lock()
		defer l.timerMu.Unlock()
		if t, ok := l.timers[path]; ok {
			if t.Stop() {
				l.timerWG.Done()
			}
		}
		l.timerWG.Add(1)
		l.timers[path] = time.AfterFunc(l.debounce, func() {
			defer l.timerWG.Done()
			l.handleChange(path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isWorkflowFile(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				schedule(ev.Name)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("workflow watcher error", "error", err)
		}
	}
}

// handleChange re-checks a path after its debounce window: loads it if it
// still exists, or unregisters it if it was deleted.
func (l *Loader) handleChange(path string) {
	if _, err := os.Stat(path); err != nil {
		if name, ok := l.engine.unregisterWorkflowByPath(path); ok {
			l.publish(LoaderEvent{Kind: LoaderEventRemoved, Name: name, Path: path})
		}
		return
	}
	l.loadFile(path)
}

func (l *Loader) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.publish(LoaderEvent{Kind: LoaderEventError, Path: path, Err: err})
		return
	}

	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		l.publish(LoaderEvent{Kind: LoaderEventError, Path: path, Err: fmt.Errorf("parse workflow: %w", err)})
		return
	}
	if err := l.engine.registerLoadedWorkflow(def, path); err != nil {
		l.publish(LoaderEvent{Kind: LoaderEventError, Path: path, Err: err})
		return
	}

	l.publish(LoaderEvent{Kind: LoaderEventLoaded, Name: def.Name, Path: path})
}

func (l *Loader) publish(ev LoaderEvent) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("loader event channel full, dropping event", "kind", ev.Kind, "path", ev.Path)
	}
}

func isWorkflowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
