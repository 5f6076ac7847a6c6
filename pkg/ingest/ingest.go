// Package ingest turns chat transcripts and markdown notes on disk into
// indexed documents, and keeps the index current as the files change.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/storage"
)

// Op is the change applied to a source file.
type Op string

// Source file operations.
const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

// Kind is the type of a source file.
type Kind string

// Source kinds.
const (
	KindChat Kind = "chat"
	KindNote Kind = "note"
)

// Change is one pending change to a source file.
type Change struct {
	Path string
	Kind Kind
	Op   Op
}

// Result is the outcome for one document of a batch.
type Result struct {
	Path  string `json:"path"`
	DocID string `json:"doc_id,omitempty"`
	Op    Op     `json:"op"`
	Err   error  `json:"-"`
}

// OK reports whether the document was processed.
func (r Result) OK() bool { return r.Err == nil }

// Report summarizes one ingestion batch.
type Report struct {
	Results   []Result      `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Rebuild   memory.Report `json:"rebuild"`
	Duration  time.Duration `json:"duration"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Err != nil {
		r.Failed++
	} else {
		r.Succeeded++
	}
}

var (
	// ErrUnformatted is returned for chat files whose name is not a
	// conversation title.
	ErrUnformatted = errors.New("ingest: unformatted chat file")
	// ErrEmptyDocument is returned for files without content.
	ErrEmptyDocument = errors.New("ingest: empty document")
)

// Indexer is the slice of the memory store the pipeline writes to.
type Indexer interface {
	AddDocument(ctx context.Context, doc *storage.Document) error
	RemoveDocument(ctx context.Context, id string) error
	RemoveByName(ctx context.Context, name string) ([]string, error)
	RebuildKeywords(ctx context.Context) (memory.Report, error)
}

// Activity reports the last time the chat endpoint was used.
type Activity interface {
	LastUse() time.Time
}

// Recorder receives ingestion measurements.
type Recorder interface {
	RecordIngest(op, result string)
	RecordRebuild(d time.Duration)
}

// Logger is the logging surface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopRecorder struct{}

func (nopRecorder) RecordIngest(string, string) {}
func (nopRecorder) RecordRebuild(time.Duration) {}
