package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	DefaultIdleWindow   = 30 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	ChatDir      string
	NoteDir      string
	IdleWindow   time.Duration
	PollInterval time.Duration
}

// Watcher collects file changes under the chat and note directories and
// ingests them once the chat endpoint has been idle for IdleWindow.
type Watcher struct {
	cfg      WatcherConfig
	ingestor *Ingestor
	activity Activity
	logger   Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]Change
	running bool
	onBatch func(Report)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBatchHook registers a callback run after every batch.
func WithBatchHook(fn func(Report)) WatcherOption {
	return func(w *Watcher) { w.onBatch = fn }
}

// NewWatcher creates a watcher. activity may be nil, in which case batches
// run on the next poll.
func NewWatcher(ingestor *Ingestor, activity Activity, cfg WatcherConfig, opts ...WatcherOption) (*Watcher, error) {
	if cfg.ChatDir == "" && cfg.NoteDir == "" {
		return nil, fmt.Errorf("ingest: no directory to watch")
	}
	if cfg.IdleWindow < 0 {
		cfg.IdleWindow = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	w := &Watcher{
		cfg:      cfg,
		ingestor: ingestor,
		activity: activity,
		logger:   nopLogger{},
		now:      time.Now,
		pending:  make(map[string]Change),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the directories until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("ingest: watcher is already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range []string{w.cfg.ChatDir, w.cfg.NoteDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ingest: create %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("ingest: watch %s: %w", dir, err)
		}
	}
	w.logger.Info("watching for document changes", "chat_dir", w.cfg.ChatDir, "note_dir", w.cfg.NoteDir)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.Notify(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("ingest watcher error", "error", err)

		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Notify records a filesystem event. The last event per path wins.
func (w *Watcher) Notify(event fsnotify.Event) {
	if !isMarkdown(event.Name) {
		return
	}
	kind, ok := w.kindOf(event.Name)
	if !ok {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = OpUpsert
	default:
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = Change{Path: event.Name, Kind: kind, Op: op}
	w.mu.Unlock()
	w.logger.Debug("document change queued", "path", event.Name, "op", op)
}

func (w *Watcher) kindOf(path string) (Kind, bool) {
	dir := filepath.Clean(filepath.Dir(path))
	switch {
	case w.cfg.NoteDir != "" && dir == filepath.Clean(w.cfg.NoteDir):
		return KindNote, true
	case w.cfg.ChatDir != "" && dir == filepath.Clean(w.cfg.ChatDir):
		return KindChat, true
	}
	return "", false
}

// Pending returns the number of queued changes.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Idle reports whether the chat endpoint has been quiet for IdleWindow.
func (w *Watcher) Idle() bool {
	if w.activity == nil {
		return true
	}
	last := w.activity.LastUse()
	return last.IsZero() || w.now().Sub(last) >= w.cfg.IdleWindow
}

// Flush ingests the queued changes when the chat endpoint is idle. It
// reports false when nothing ran.
func (w *Watcher) Flush(ctx context.Context) (Report, bool) {
	if w.Pending() == 0 {
		return Report{}, false
	}
	if !w.Idle() {
		w.logger.Debug("chat endpoint busy, deferring ingest", "pending", w.Pending())
		return Report{}, false
	}

	w.mu.Lock()
	batch := make([]Change, 0, len(w.pending))
	for _, c := range w.pending {
		batch = append(batch, c)
	}
	w.pending = make(map[string]Change)
	w.mu.Unlock()

	sort.Slice(batch, func(a, b int) bool { return batch[a].Path < batch[b].Path })
	report := w.ingestor.Process(ctx, batch)
	if w.onBatch != nil {
		w.onBatch(report)
	}
	return report, true
}
