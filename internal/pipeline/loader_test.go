package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, events <-chan LoaderEvent, timeout time.Duration) LoaderEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for loader event")
		return LoaderEvent{}
	}
}

func writeWorkflowFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderLoadAllRegistersExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "greet.yaml", "name: greet\ntasks:\n  - id: say\n    type: echo\n")

	engine := newTestEngine(t)
	loader := NewLoader(engine, dir, 20*time.Millisecond, nil)
	require.NoError(t, loader.LoadAll(context.Background()))

	engine.mu.Lock()
	_, ok := engine.workflows["greet"]
	engine.mu.Unlock()
	assert.True(t, ok)
}

func TestLoaderHotReloadsOnCreate(t *testing.T) {
	dir := t.TempDir()
	engine := newTestEngine(t)
	loader := NewLoader(engine, dir, 20*time.Millisecond, nil)
	require.NoError(t, loader.LoadAll(context.Background()))
	require.NoError(t, loader.Start(context.Background()))
	t.Cleanup(func() { _ = loader.Close() })

	writeWorkflowFile(t, dir, "new.yaml", "name: newflow\ntasks:\n  - id: a\n    type: echo\n")

	ev := waitForEvent(t, loader.Events(), time.Second)
	assert.Equal(t, LoaderEventLoaded, ev.Kind)
	assert.Equal(t, "newflow", ev.Name)

	engine.mu.Lock()
	_, ok := engine.workflows["newflow"]
	engine.mu.Unlock()
	assert.True(t, ok)
}

func TestLoaderEmitsErrorOnInvalidYAMLWithoutStopping(t *testing.T) {
	dir := t.TempDir()
	engine := newTestEngine(t)
	loader := NewLoader(engine, dir, 20*time.Millisecond, nil)
	require.NoError(t, loader.LoadAll(context.Background()))
	require.NoError(t, loader.Start(context.Background()))
	t.Cleanup(func() { _ = loader.Close() })

	writeWorkflowFile(t, dir, "bad.yaml", "name: [this is not valid: yaml")
	ev := waitForEvent(t, loader.Events(), time.Second)
	assert.Equal(t, LoaderEventError, ev.Kind)
	assert.Error(t, ev.Err)

	writeWorkflowFile(t, dir, "good.yaml", "name: good\ntasks:\n  - id: a\n    type: echo\n")
	ev = waitForEvent(t, loader.Events(), time.Second)
	assert.Equal(t, LoaderEventLoaded, ev.Kind)
	assert.Equal(t, "good", ev.Name)
}

func TestLoaderUnregistersOnDelete(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflowFile(t, dir, "temp.yaml", "name: temp\ntasks:\n  - id: a\n    type: echo\n")

	engine := newTestEngine(t)
	loader := NewLoader(engine, dir, 20*time.Millisecond, nil)
	require.NoError(t, loader.LoadAll(context.Background()))
	require.NoError(t, loader.Start(context.Background()))
	t.Cleanup(func() { _ = loader.Close() })

	require.NoError(t, os.Remove(path))
	ev := waitForEvent(t, loader.Events(), time.Second)
	assert.Equal(t, LoaderEventRemoved, ev.Kind)
	assert.Equal(t, "temp", ev.Name)

	engine.mu.Lock()
	_, ok := engine.workflows["temp"]
	engine.mu.Unlock()
	assert.False(t, ok)
}

func TestLoaderRejectsDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	engine := newTestEngine(t)
	loader := NewLoader(engine, dir, 20*time.Millisecond, nil)

	writeWorkflowFile(t, dir, "cyclic.yaml",
		"name: cyclic\ntasks:\n  - id: a\n    depends_on: [b]\n    type: echo\n  - id: b\n    depends_on: [a]\n    type: echo\n")
	require.NoError(t, loader.LoadAll(context.Background()))

	engine.mu.Lock()
	_, ok := engine.workflows["cyclic"]
	engine.mu.Unlock()
	assert.False(t, ok)
}
