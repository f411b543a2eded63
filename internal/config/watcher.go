package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Change describes one detected modification.
type Change struct {
	// Old and New are the configs before and after the change. They may be
	// equal when only a referenced file changed.
	Old, New *Config

	// Files lists the paths whose content changed, appeared or disappeared:
	// the config file first, then referenced files in [Config.Files] order.
	Files []string
}

// fileStamp is the cheap part of change detection.
type fileStamp struct {
	mtime time.Time
	size  int64
}

// fileSet is a content snapshot of the config file and every file it
// refers to.
type fileSet struct {
	order  []string
	hashes map[string][sha256.Size]byte
	stamps map[string]fileStamp
}

// Watcher monitors a config file and the library and scenario files it
// refers to, and calls a callback when any of them changes. It polls the
// file system; a change is only reported once the new config is valid and
// every referenced file can be read.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	files   fileSet

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path immediately and starts polling it,
// together with its referenced files, in a background goroutine.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, files, err := w.snapshot()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.files = files

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-reads the watched files when any of their stamps moved and
// reports content changes.
func (w *Watcher) check() {
	w.mu.Lock()
	prev := w.files
	w.mu.Unlock()

	if !prev.stale() {
		return
	}

	cfg, next, err := w.snapshot()
	if err != nil {
		slog.Warn("config: watcher failed to reload", "path", w.path, "err", err)
		return
	}

	changed := prev.changed(next)

	w.mu.Lock()
	w.files = next
	if len(changed) == 0 {
		// Touched but identical.
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: watched files changed", "path", w.path, "files", changed)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(Change{Old: old, New: cfg, Files: changed})
	}
}

// snapshot loads and validates the config, then hashes it and every file
// it refers to.
func (w *Watcher) snapshot() (*Config, fileSet, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileSet{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileSet{}, err
	}
	cfg.resolve(filepath.Dir(w.path))

	fs := fileSet{
		hashes: make(map[string][sha256.Size]byte),
		stamps: make(map[string]fileStamp),
	}
	for _, p := range append([]string{w.path}, cfg.Files()...) {
		if _, dup := fs.hashes[p]; dup {
			continue
		}
		var content []byte
		if p == w.path {
			content = data
		} else if content, err = os.ReadFile(p); err != nil {
			return nil, fileSet{}, err
		}
		info, statErr := os.Stat(p)
		if statErr != nil {
			return nil, fileSet{}, statErr
		}
		fs.order = append(fs.order, p)
		fs.hashes[p] = sha256.Sum256(content)
		fs.stamps[p] = fileStamp{mtime: info.ModTime(), size: info.Size()}
	}
	return cfg, fs, nil
}

// stale reports whether any file's modification time or size differs from
// the snapshot, or the file can no longer be stat'ed.
func (fs fileSet) stale() bool {
	for _, p := range fs.order {
		info, err := os.Stat(p)
		if err != nil {
			return true
		}
		if s := fs.stamps[p]; !info.ModTime().Equal(s.mtime) || info.Size() != s.size {
			return true
		}
	}
	return false
}

// changed lists the paths whose hash differs between fs and next,
// including files that only one of them contains.
func (fs fileSet) changed(next fileSet) []string {
	var out []string
	for _, p := range next.order {
		if h, ok := fs.hashes[p]; !ok || h != next.hashes[p] {
			out = append(out, p)
		}
	}
	for _, p := range fs.order {
		if _, ok := next.hashes[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
