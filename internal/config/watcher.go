package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and reports validated changes together with
// their [ConfigDiff]. An invalid edit is logged once and the last good
// config stays active until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(next *Config, diff ConfigDiff)
	logger   *slog.Logger

	checkMu sync.Mutex // serialises Check
	mu      sync.Mutex
	current *Config
	seen    fileState
}

// fileState is the last version of the file that was examined, whether or
// not it parsed.
type fileState struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload diagnostics.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. onChange runs on
// the polling goroutine for every valid edit that changes the effective
// configuration.
func NewWatcher(path string, onChange func(next *Config, diff ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	st, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.seen = st
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check examines the file once and reports whether a changed configuration
// was accepted and handed to the callback.
func (w *Watcher) Check() bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	seen := w.seen
	prev := w.current
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return false
	}

	st, data, err := w.read()
	if err != nil {
		w.logger.Warn("config: cannot read watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	w.seen = st
	w.mu.Unlock()
	if st.sum == seen.sum {
		return false
	}

	next, err := LoadBytes(data)
	if err != nil {
		w.logger.Warn("config: edit rejected, keeping previous configuration", "path", w.path, "err", err)
		return false
	}
	diff := Diff(prev, next)
	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	if diff.Empty() {
		w.logger.Debug("config: file changed without effect", "path", w.path)
		return false
	}

	w.logger.Info("config: reloaded", "path", w.path,
		"settings", diff.SettingsChanged,
		"tuning", diff.TuningChanged,
		"platforms", diff.PlatformsChanged,
	)
	if w.onChange != nil {
		w.onChange(next, diff)
	}
	return true
}

func (w *Watcher) read() (fileState, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileState{}, nil, err
	}
	return fileState{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, data, nil
}
