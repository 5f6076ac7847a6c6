// Package logger provides structured logging for Elephie.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Level is a slog level.
type Level = slog.Level

// Levels accepted by Config and SetLevel.
const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

// ParseLevel parses "debug", "info", "warn"/"warning" or "error" in any
// case. Anything else is InfoLevel.
func ParseLevel(s string) Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return WarnLevel
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return InfoLevel
	}
	return l
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "json" or "text"
	Output string // "stdout", "stderr", or file path
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger

	SetLevel(level Level)
	GetLevel() Level

	// Close releases the log file, if any.
	Close() error
}

// SlogLogger implements Logger on log/slog. Loggers derived with With share
// the level, so a hot reload reaches every component.
type SlogLogger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New creates a Logger from cfg. A log file that cannot be opened falls
// back to stderr with a warning, so a bad path never stops the server.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json", Output: "stdout"}
	}
	w, closer, err := openOutput(cfg.Output)
	l := NewWithWriter(cfg, w)
	l.closer = closer
	if err != nil {
		l.Warn("log output unavailable, using stderr", "output", cfg.Output, "error", err)
	}
	return l
}

// NewWithWriter creates a SlogLogger writing to w.
func NewWithWriter(cfg *Config, w io.Writer) *SlogLogger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json"}
	}
	level := &slog.LevelVar{}
	level.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.Level <= DebugLevel,
		ReplaceAttr: replaceAttr,
	}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{Logger: slog.New(traceHandler{h}), level: level}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return NewWithWriter(&Config{Level: ErrorLevel}, io.Discard)
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return os.Stderr, nil, err
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

// With returns a child logger carrying args on every record.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{Logger: l.Logger.With(args...), level: l.level}
}

// SetLevel changes the level of l and every logger derived from it.
func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current level.
func (l *SlogLogger) GetLevel() Level {
	return l.level.Level()
}

// Close closes the log file. Derived loggers own nothing.
func (l *SlogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// traceHandler adds the active span's ids to records logged with a
// context.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// Redacted replaces the value of credential attributes.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute names whose values never reach the log: the
// LLM and embedding API keys, the JWT signing secret, bearer tokens.
var sensitiveKeys = map[string]struct{}{
	"apikey":        {},
	"secret":        {},
	"token":         {},
	"authorization": {},
	"password":      {},
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	for _, suffix := range []string{"_key", "_secret", "_token", "_password"} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// replaceAttr renames msg to message, lowercases levels and redacts
// credentials.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: a.Value}
		case slog.LevelKey:
			return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
		}
	}
	if a.Value.Kind() != slog.KindGroup && isSensitive(a.Key) && a.Value.String() != "" {
		return slog.String(a.Key, Redacted)
	}
	return a
}

type holder struct{ Logger }

var global atomic.Pointer[holder]

func init() {
	SetGlobal(New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"}))
}

// Global returns the process-wide logger used by code without an injected
// one, such as the tracing exporter.
func Global() Logger {
	return global.Load().Logger
}

// SetGlobal replaces the global logger. A nil logger is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(&holder{l})
	}
}

// Warn logs on the global logger.
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}
