package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "elephie.retrieval"

// Search modes.
const (
	ModePlain = "plain"
	ModeFused = "fused"
)

// Options tunes ranking. The constants are empirical and kept configurable.
type Options struct {
	// Epsilon keeps distance-to-score conversion finite.
	Epsilon float64
	// Rectify scales the depth adjustment.
	Rectify float64
	// TimeFactor biases the fused mode toward range-matched results.
	TimeFactor float64
	// FanOut is the candidate count per query in plain mode.
	FanOut int
	// Choices is the candidate count kept per query in fused mode; the
	// index is asked for twice as many.
	Choices int
	// KeywordWeight scales the keyword score added in fused mode.
	KeywordWeight float64
	// Language selects date keywords.
	Language string
	// ReuseUnconstrainedAdjustment applies the unconstrained batch's depth
	// factor to the range-constrained half as well.
	ReuseUnconstrainedAdjustment bool

	Assembler AssemblerConfig
}

// DefaultOptions returns the stock ranking options.
func DefaultOptions() Options {
	return Options{
		Epsilon:       0.01,
		Rectify:       0.5,
		TimeFactor:    1.5,
		FanOut:        10,
		Choices:       6,
		KeywordWeight: 0.1,
		Language:      "English",
		Assembler: AssemblerConfig{
			TokenBudget:      2048,
			MinValue:         0.3,
			FullDocThreshold: 1.0,
		},
	}
}

// Engine fuses vector, keyword and time evidence into prompt contexts.
// It is safe for concurrent use as long as its collaborators are.
type Engine struct {
	vectors   VectorStore
	keywords  KeywordScorer
	dates     DateExtractor
	docs      DocumentStore
	tokenizer Tokenizer
	tuning    atomic.Pointer[tuning]
	logger    Logger
	recorder  Recorder
	now       func() time.Time
}

// tuning is swapped as a whole so one search never mixes two option sets.
type tuning struct {
	opts      Options
	assembler *Assembler
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine. keywords and dates may be nil, in which case
// keyword fusion and time correction are skipped.
func NewEngine(vectors VectorStore, keywords KeywordScorer, dates DateExtractor, docs DocumentStore, tokenizer Tokenizer, opts Options, options ...EngineOption) *Engine {
	e := &Engine{
		vectors:   vectors,
		keywords:  keywords,
		dates:     dates,
		docs:      docs,
		tokenizer: tokenizer,
		logger:    nopLogger{},
		recorder:  nopRecorder{},
		now:       time.Now,
	}
	e.SetOptions(opts)
	for _, o := range options {
		o(e)
	}
	return e
}

// Options returns the engine options.
func (e *Engine) Options() Options { return e.tuning.Load().opts }

// SetOptions replaces the ranking options. Searches in flight keep the
// options they started with.
func (e *Engine) SetOptions(opts Options) {
	e.tuning.Store(&tuning{opts: opts, assembler: NewAssembler(e.docs, e.tokenizer, opts.Assembler)})
}

// Search ranks queries in plain mode: vector fusion, with time decay for
// queries that carry a date expression.
func (e *Engine) Search(ctx context.Context, queries []string) ([]Context, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.String("mode", ModePlain), attribute.Int("queries", len(queries))))
	defer span.End()
	start := e.now()
	t := e.tuning.Load()

	stripped := make([]string, len(queries))
	dates := make([]*time.Time, len(queries))
	for i, q := range queries {
		stripped[i] = q
		if m, ok := e.lastDate(q, t.opts.Language); ok {
			date := m.Date
			dates[i] = &date
			if s := strings.TrimSpace(strings.ReplaceAll(q, m.Text, "")); s != "" {
				stripped[i] = s
			}
		}
	}

	results, err := e.vectors.Query(ctx, stripped, t.opts.FanOut)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}
	if len(results) != len(queries) {
		return nil, ErrShapeMismatch
	}

	var all []Association
	for i, list := range results {
		assocs := make([]Association, len(list))
		for j, a := range list {
			a.Score = Score(a.Distance, len(queries), t.opts.Epsilon)
			assocs[j] = a
		}
		if dates[i] != nil {
			if err := applyDecay(assocs, *dates[i]); err != nil {
				span.RecordError(err)
				return nil, err
			}
		}
		all = append(all, assocs...)
	}

	agg := Aggregate(all)
	contexts, err := t.assembler.Assemble(ctx, agg.Ranked(), agg.Times)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.record(ModePlain, start, agg.Len(), contexts)
	return contexts, nil
}

// SearchFused ranks queries in fused mode: depth-adjusted vector fusion,
// split unconstrained/range-constrained retrieval for dated queries, and
// keyword scores added before admission.
func (e *Engine) SearchFused(ctx context.Context, queries []string) ([]Context, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.String("mode", ModeFused), attribute.Int("queries", len(queries))))
	defer span.End()
	start := e.now()
	t := e.tuning.Load()

	assocs, err := e.fusedAssociations(ctx, queries, t.opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	agg := Aggregate(assocs)
	ranked := agg.Ranked()
	e.addKeywordScores(ctx, strings.Join(queries, " "), ranked, t.opts.KeywordWeight)

	contexts, err := t.assembler.Assemble(ctx, ranked, agg.Times)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.record(ModeFused, start, agg.Len(), contexts)
	return contexts, nil
}

func (e *Engine) fusedAssociations(ctx context.Context, queries []string, opts Options) ([]Association, error) {
	n := opts.Choices
	results, err := e.vectors.Query(ctx, queries, 2*n)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}
	if len(results) != len(queries) {
		return nil, ErrShapeMismatch
	}

	nq := len(queries)
	var all []Association
	for i, q := range queries {
		list := results[i]
		adj := DepthAdjustment(list, n, opts.Rectify)

		expr, rangeStart, rangeEnd, dated := e.queryRange(q, opts.Language)
		if !dated {
			all = append(all, scored(head(list, n), adj, nq, opts.Epsilon)...)
			continue
		}

		half := n / 2
		all = append(all, scored(head(list, half), adj*opts.TimeFactor, nq, opts.Epsilon)...)

		topic := strings.TrimSpace(strings.ReplaceAll(q, expr, ""))
		if topic == "" {
			topic = q
		}
		ranged, err := e.vectors.QueryRange(ctx, []string{topic}, 2*n, rangeStart, rangeEnd)
		if err != nil {
			return nil, fmt.Errorf("retrieval: range query: %w", err)
		}
		if len(ranged) != 1 {
			return nil, ErrShapeMismatch
		}
		rangeAdj := DepthAdjustment(ranged[0], n, opts.Rectify)
		if opts.ReuseUnconstrainedAdjustment {
			rangeAdj = adj
		}
		e.logger.Debug("range query",
			"query", topic,
			"start", rangeStart.Format(DateLayout),
			"end", rangeEnd.Format(DateLayout),
			"adjustment", adj,
			"range_adjustment", rangeAdj)
		all = append(all, scored(head(ranged[0], half), rangeAdj/opts.TimeFactor, nq, opts.Epsilon)...)
	}
	return all, nil
}

func scored(list []Association, factor float64, nq int, epsilon float64) []Association {
	out := make([]Association, len(list))
	for i, a := range list {
		a.Score = Score(a.Distance*factor, nq, epsilon)
		out[i] = a
	}
	return out
}

// addKeywordScores adds weighted keyword scores in place. Order is kept:
// keyword evidence affects admission, not ranking.
func (e *Engine) addKeywordScores(ctx context.Context, query string, ranked []Ranked, weight float64) {
	if e.keywords == nil || len(ranked) == 0 || weight == 0 {
		return
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.DocID
	}
	scores, err := e.keywords.Score(ctx, query, ids)
	if err != nil {
		e.logger.Warn("keyword scoring failed", "error", err)
		return
	}
	if len(scores) != len(ranked) {
		e.logger.Warn("keyword scorer returned mismatched results", "want", len(ranked), "got", len(scores))
		return
	}
	for i := range ranked {
		ranked[i].Score += scores[i] * weight
	}
}

// lastDate returns the last date expression in q.
func (e *Engine) lastDate(q, language string) (DateMatch, bool) {
	if e.dates == nil {
		return DateMatch{}, false
	}
	matches, err := e.dates.Extract(q, language)
	if err != nil {
		e.logger.Debug("date extraction failed", "query", q, "error", err)
		return DateMatch{}, false
	}
	if len(matches) == 0 {
		return DateMatch{}, false
	}
	m := matches[len(matches)-1]
	if strings.TrimSpace(m.Text) == "" {
		return DateMatch{}, false
	}
	return m, true
}

// queryRange resolves the date range of q. Any failure falls back to
// undated ranking.
func (e *Engine) queryRange(q, language string) (string, time.Time, time.Time, bool) {
	m, ok := e.lastDate(q, language)
	if !ok {
		return "", time.Time{}, time.Time{}, false
	}
	start, end, err := e.dates.Range(m.Text, language)
	if err != nil {
		e.logger.Debug("date range resolution failed", "expr", m.Text, "error", err)
		return "", time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		start, end = end, start
	}
	start, end = DeriveRange(m.Text, start, end, language)
	return m.Text, start, end, true
}

func (e *Engine) record(mode string, start time.Time, candidates int, contexts []Context) {
	tokens := 0
	for _, c := range contexts {
		tokens += c.TokenCount
	}
	e.recorder.RecordSearch(mode, e.now().Sub(start), candidates, len(contexts), tokens)
}

func head(list []Association, n int) []Association {
	if n < 0 {
		n = 0
	}
	if len(list) > n {
		return list[:n]
	}
	return list
}
