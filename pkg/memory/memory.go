// Package memory indexes stored documents for retrieval: a chunked vector
// index for semantic search and a BM25 keyword index, behind a Store that
// keeps both in step with the document store.
package memory

import (
	"errors"
)

// Sentinel errors for the memory system.
var (
	ErrInvalidDocumentID = errors.New("memory: invalid document ID")
	ErrDimensionMismatch = errors.New("memory: vector dimension mismatch")
	ErrNotFound          = errors.New("memory: document not found")
)

// Logger is the minimal logger interface used by Store.
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
