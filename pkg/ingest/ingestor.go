package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/necyber/elephie/pkg/memory"
)

const tracerName = "elephie.ingest"

// DefaultWorkers is the default batch concurrency.
const DefaultWorkers = 2

// Ingestor applies batches of file changes to the index.
type Ingestor struct {
	index    Indexer
	digester *Digester
	workers  int
	logger   Logger
	recorder Recorder
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithWorkers sets the batch concurrency.
func WithWorkers(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(i *Ingestor) {
		if r != nil {
			i.recorder = r
		}
	}
}

// NewIngestor creates an ingestor.
func NewIngestor(index Indexer, digester *Digester, opts ...Option) *Ingestor {
	i := &Ingestor{
		index:    index,
		digester: digester,
		workers:  DefaultWorkers,
		logger:   nopLogger{},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Process applies changes concurrently and rebuilds the keyword index once
// at the end. A failing document is recorded in the report and never stops
// the batch.
func (i *Ingestor) Process(ctx context.Context, changes []Change) Report {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("changes", len(changes)))

	started := time.Now()
	var (
		mu     sync.Mutex
		report Report
	)
	collect := func(results []Result) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range results {
			report.add(r)
			status := "ok"
			if r.Err != nil {
				status = "error"
				i.logger.Warn("ingest failed", "path", r.Path, "doc_id", r.DocID, "op", r.Op, "error", r.Err)
			}
			i.recorder.RecordIngest(string(r.Op), status)
		}
	}

	pool := newWorkerPool(i.workers, func(c Change) {
		collect(i.apply(ctx, c))
	}, i.logger)
	pool.Start()
	for _, c := range changes {
		if ctx.Err() != nil {
			collect([]Result{{Path: c.Path, Op: c.Op, Err: ctx.Err()}})
			continue
		}
		pool.Submit(c)
	}
	pool.Stop()

	sort.SliceStable(report.Results, func(a, b int) bool {
		ra, rb := report.Results[a], report.Results[b]
		if ra.Path != rb.Path {
			return ra.Path < rb.Path
		}
		return ra.DocID < rb.DocID
	})

	if report.Succeeded > 0 && ctx.Err() == nil {
		rebuildStart := time.Now()
		rebuild, err := i.index.RebuildKeywords(ctx)
		if err != nil {
			span.RecordError(err)
			i.logger.Error("keyword rebuild failed", "error", err)
		} else {
			report.Rebuild = rebuild
			i.recorder.RecordRebuild(time.Since(rebuildStart))
		}
	}

	report.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int64("processed", pool.processed()),
		attribute.Int("succeeded", report.Succeeded),
		attribute.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d documents failed", report.Failed))
	}
	i.logger.Info("ingest batch finished",
		"changes", len(changes),
		"processed", pool.processed(),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report
}

// apply handles one change and returns a result per affected document.
func (i *Ingestor) apply(ctx context.Context, c Change) (results []Result) {
	defer func() {
		if r := recover(); r != nil {
			results = append(results, Result{Path: c.Path, Op: c.Op, Err: fmt.Errorf("ingest: panic: %v", r)})
		}
	}()

	title := TitleFromPath(c.Path)
	removed, err := i.remove(ctx, c.Kind, title)
	if err != nil {
		return []Result{{Path: c.Path, DocID: title, Op: OpRemove, Err: err}}
	}
	if c.Op == OpRemove {
		for _, id := range removed {
			results = append(results, Result{Path: c.Path, DocID: id, Op: OpRemove})
		}
		if len(results) == 0 {
			results = append(results, Result{Path: c.Path, DocID: title, Op: OpRemove})
		}
		return results
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return []Result{{Path: c.Path, DocID: title, Op: OpUpsert, Err: fmt.Errorf("ingest: read: %w", err)}}
	}

	switch c.Kind {
	case KindChat:
		doc, err := i.digester.Chat(ctx, title, string(data))
		if err != nil {
			return []Result{{Path: c.Path, DocID: title, Op: OpUpsert, Err: err}}
		}
		return []Result{{Path: c.Path, DocID: doc.ID, Op: OpUpsert, Err: i.index.AddDocument(ctx, doc)}}

	default:
		info, err := os.Stat(c.Path)
		if err != nil {
			return []Result{{Path: c.Path, DocID: title, Op: OpUpsert, Err: fmt.Errorf("ingest: stat: %w", err)}}
		}
		docs, err := i.digester.Note(ctx, title, string(data), info.ModTime())
		for _, doc := range docs {
			results = append(results, Result{Path: c.Path, DocID: doc.ID, Op: OpUpsert, Err: i.index.AddDocument(ctx, doc)})
		}
		if err != nil {
			results = append(results, Result{Path: c.Path, DocID: title, Op: OpUpsert, Err: err})
		}
		return results
	}
}

// remove drops the documents derived from a file.
func (i *Ingestor) remove(ctx context.Context, kind Kind, title string) ([]string, error) {
	if kind == KindNote {
		return i.index.RemoveByName(ctx, title)
	}
	err := i.index.RemoveDocument(ctx, title)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return []string{title}, nil
}

// Scan lists every markdown file under the chat and note directories as an
// upsert.
func Scan(chatDir, noteDir string) ([]Change, error) {
	var changes []Change
	for _, src := range []struct {
		dir  string
		kind Kind
	}{{chatDir, KindChat}, {noteDir, KindNote}} {
		if src.dir == "" {
			continue
		}
		entries, err := os.ReadDir(src.dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: scan %s: %w", src.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isMarkdown(e.Name()) {
				continue
			}
			changes = append(changes, Change{Path: filepath.Join(src.dir, e.Name()), Kind: src.kind, Op: OpUpsert})
		}
	}
	return changes, nil
}

func isMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md") && !strings.HasPrefix(filepath.Base(name), ".")
}
