package skills

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/fswatch"
)

// DefaultWatchDebounce is the coalescing window applied to registry
// directory changes when none is configured.
const DefaultWatchDebounce = 250 * time.Millisecond

// Manager owns a Registry rooted at a single directory and keeps it in
// sync with the filesystem by watching that directory for changes.
type Manager struct {
	registry *Registry
	watcher  *fswatch.Watcher
	logger   *slog.Logger
}

// NewManager builds a Manager whose Registry is rooted at dir. Call
// Load to populate the registry before first use.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fswatch.New(
		[]fswatch.Root{{Workstream: "skills", Path: dir}},
		fswatch.DefaultBufferSize,
		DefaultWatchDebounce,
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Manager{
		registry: NewRegistry(dir),
		watcher:  watcher,
		logger:   logger.With("component", "skills"),
	}, nil
}

// Registry returns the manager's underlying Registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Load scans the registry's root directory.
func (m *Manager) Load() error {
	return m.registry.Load()
}

// StartWatching begins watching the registry's root for changes, reloading
// the registry on every debounced filesystem event. It returns once the
// initial Load completes; reload failures are logged, not returned, since
// the watch loop must keep running.
func (m *Manager) StartWatching(ctx context.Context) error {
	if err := m.Load(); err != nil {
		return err
	}

	m.watcher.Start(ctx)
	go func() {
		for range m.watcher.Events() {
			if err := m.registry.Load(); err != nil {
				m.logger.Warn("skill registry reload failed", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watch goroutine and releases the underlying watcher.
func (m *Manager) Close() error {
	return m.watcher.Close()
}
