// Package retrieval ranks stored notes and conversation transcripts against
// the queries issued during one search turn and assembles a token-budgeted,
// chronologically ordered context for the agent prompt.
package retrieval

import (
	"context"
	"errors"
	"time"
)

// DateLayout is the canonical document time format.
const DateLayout = "2006-01-02"

var (
	// ErrNoQueries is returned when a search is issued without any query.
	ErrNoQueries = errors.New("retrieval: no queries")
	// ErrBadDocTime is returned when a document time is not in DateLayout.
	ErrBadDocTime = errors.New("retrieval: malformed document time")
	// ErrShapeMismatch is returned when an index answers with a different
	// number of result lists than queries it was given.
	ErrShapeMismatch = errors.New("retrieval: index result count does not match queries")
)

// Association is one index's evidence that a document matches one query.
// Distance is the raw index distance; Score is filled once the distance has
// been converted for the current turn.
type Association struct {
	DocID    string
	DocTime  string
	Distance float64
	Score    float64
}

// Ranked is an aggregated document score.
type Ranked struct {
	DocID string
	Score float64
}

// Context is a retrieval result admitted into the prompt.
type Context struct {
	DocID      string  `json:"doc_id"`
	Content    string  `json:"content"`
	TokenCount int     `json:"token_count"`
	Value      float64 `json:"value"`
	Score      float64 `json:"score"`
	DocTime    string  `json:"doc_time"`
	Full       bool    `json:"full"`
}

// VectorStore answers nearest-neighbour queries. Each returned list is
// ordered by ascending distance and holds at most one entry per document.
type VectorStore interface {
	Query(ctx context.Context, queries []string, k int) ([][]Association, error)
	QueryRange(ctx context.Context, queries []string, k int, start, end time.Time) ([][]Association, error)
}

// KeywordScorer scores documents lexically against a query. The result is
// aligned with ids; unknown ids score zero.
type KeywordScorer interface {
	Score(ctx context.Context, query string, ids []string) ([]float64, error)
}

// DocumentStore materializes document bodies. A missing document is
// reported with ok=false and a nil error.
type DocumentStore interface {
	Document(ctx context.Context, id string) (body string, ok bool, err error)
}

// DateMatch is a date expression found in free text.
type DateMatch struct {
	Text string
	Date time.Time
}

// DateExtractor finds date expressions in text and resolves them to ranges.
type DateExtractor interface {
	// Extract returns the matches in text order.
	Extract(text, language string) ([]DateMatch, error)
	// Range resolves expr to its earliest and latest interpretation.
	Range(expr, language string) (start, end time.Time, err error)
}

// Tokenizer counts tokens the same way the generator does.
type Tokenizer interface {
	Count(text string) int
}

// Recorder receives search measurements.
type Recorder interface {
	RecordSearch(mode string, duration time.Duration, candidates, admitted, tokens int)
}

// Logger is the logging surface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

type nopRecorder struct{}

func (nopRecorder) RecordSearch(string, time.Duration, int, int, int) {}
