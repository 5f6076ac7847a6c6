package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logger used by Watcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// result to the registered callbacks.
type Watcher struct {
	path      string
	overrides map[string]interface{}
	debounce  time.Duration
	logger    Logger
	fs        *fsnotify.Watcher

	mu        sync.Mutex
	loader    *Loader
	callbacks []func(*Config)
	running   bool

	stop     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOverrides re-applies command line overrides on every reload.
func WithOverrides(overrides map[string]interface{}) WatcherOption {
	return func(w *Watcher) { w.overrides = overrides }
}

// WithLogger sets the watcher logger. nil keeps the silent default.
func WithLogger(l Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher prepares a watcher for path. Nothing is watched until Watch.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if loader == nil {
		loader = NewLoader()
	}
	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		logger:   nopLogger{},
		fs:       fsw,
		loader:   loader,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks until ctx is cancelled (returning ctx.Err()) or Stop is
// called (returning nil). Reloads and callbacks run on this goroutine.
func (w *Watcher) Watch(ctx context.Context) error {
	if !w.setRunning(true) {
		return errors.New("watcher is already running")
	}
	defer w.setRunning(false)

	// Renaming a new file over the old one drops a watch on the file, which
	// is how most editors save. Watch the directory and filter by name.
	target := filepath.Clean(w.path)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("watch config file %s: %w", w.path, err)
	}
	if err := w.fs.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir of %s: %w", w.path, err)
	}

	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target && ev.Has(fsnotify.Write|fsnotify.Create) {
				quiet.Reset(w.debounce)
				pending = quiet.C
			}
		case <-pending:
			pending = nil
			w.reloadConfig(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) setRunning(on bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if on && w.running {
		return false
	}
	w.running = on
	return true
}

// reloadConfig loads the file with a fresh Loader. A file that fails to load
// or validate leaves the running configuration and the loader in place.
func (w *Watcher) reloadConfig(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	loader := NewLoader()
	cfg, err := loader.Load(w.path, w.overrides)
	if err != nil {
		w.logger.Error("failed to reload config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.loader = loader
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path, "callbacks", len(callbacks))
	for _, cb := range callbacks {
		w.notify(cb, cfg)
	}
}

func (w *Watcher) notify(cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config callback panic", "panic", r)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback for successful reloads. Callbacks run in
// registration order; a panicking callback is logged and skipped.
func (w *Watcher) OnChange(cb func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Loader returns the loader of the most recent successful reload.
func (w *Watcher) Loader() *Loader {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loader
}

// Stop ends Watch and releases the fsnotify watcher. Later calls return the
// first call's result.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.stopErr = w.fs.Close()
	})
	return w.stopErr
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ConfigPath returns the watched file.
func (w *Watcher) ConfigPath() string {
	return w.path
}

// Tunables are the settings a running server applies without a restart.
// Everything else in Config needs one.
type Tunables struct {
	LogLevel  string
	Retrieval RetrievalConfig
	Agent     AgentTunables
}

// AgentTunables are the agent settings applied to new turns.
type AgentTunables struct {
	MaxCycles        int
	MaxQueries       int
	MaxTokens        int
	Temperature      float64
	GeneratorTimeout time.Duration
	SearchTimeout    time.Duration
}

// TunablesOf extracts the hot-reloadable part of cfg.
func TunablesOf(cfg *Config) Tunables {
	a := cfg.Agent
	return Tunables{
		LogLevel:  cfg.Log.Level,
		Retrieval: cfg.Retrieval,
		Agent: AgentTunables{
			MaxCycles:        a.MaxCycles,
			MaxQueries:       a.MaxQueries,
			MaxTokens:        a.MaxTokens,
			Temperature:      a.Temperature,
			GeneratorTimeout: a.GeneratorTimeout,
			SearchTimeout:    a.SearchTimeout,
		},
	}
}
