package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/rapport/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
library:
  files: [defs.yaml]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
library:
  files: [defs.yaml]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// watchDir writes a config referencing defs.yaml into a fresh directory and
// returns the config path.
func watchDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "defs.yaml"), "traits: [{id: Kind}]\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	return cfgPath
}

// recorder collects watcher callbacks.
type recorder struct {
	mu      sync.Mutex
	changes []config.Change
	called  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{called: make(chan struct{}, 8)}
}

func (r *recorder) onChange(c config.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	select {
	case r.called <- struct{}{}:
	default:
	}
}

func (r *recorder) wait(t *testing.T) config.Change {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if want := filepath.Join(filepath.Dir(cfgPath), "defs.yaml"); cfg.Library.Files[0] != want {
		t.Errorf("library file not resolved: got %q, want %q", cfg.Library.Files[0], want)
	}
}

func TestWatcher_DetectsConfigChange(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)

	c := rec.wait(t)
	if c.Old == nil || c.New == nil {
		t.Fatal("callback received nil configs")
	}
	if c.Old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", c.Old.Server.LogLevel, config.LogInfo)
	}
	if c.New.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", c.New.Server.LogLevel, config.LogDebug)
	}
	if !slices.Equal(c.Files, []string{cfgPath}) {
		t.Errorf("Files = %v, want only the config file", c.Files)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_DetectsReferencedFileChange(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)
	defsPath := filepath.Join(filepath.Dir(cfgPath), "defs.yaml")
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, defsPath, "traits: [{id: Kind}, {id: Rude}]\n")

	c := rec.wait(t)
	if !slices.Equal(c.Files, []string{defsPath}) {
		t.Errorf("Files = %v, want [%s]", c.Files, defsPath)
	}
	if d := config.Diff(c.Old, c.New); !d.IsZero() {
		t.Errorf("config itself did not change, got diff %+v", d)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_MissingReferencedFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, "library:\n  files: [absent.yaml]\n")
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should wait for referenced files, got %d calls", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", n)
	}
}
