// Package storage persists memory documents: digested notes and saved
// conversation transcripts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Document is a stored note excerpt or conversation digest.
type Document struct {
	// ID is unique, e.g. "Conversation on 2024-05-01 10:00:00" or
	// "Note of Travel > Japan".
	ID string `json:"id"`
	// Name groups documents derived from one source file.
	Name      string            `json:"name"`
	Content   string            `json:"content"`
	DocTime   string            `json:"doc_time"`
	Tag       string            `json:"tag,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// DocumentFilter narrows List results.
type DocumentFilter struct {
	Name   string `json:"name,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Match reports whether d passes the filter's predicates.
func (f *DocumentFilter) Match(d *Document) bool {
	if f == nil {
		return true
	}
	if f.Name != "" && d.Name != f.Name {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(d.ID, f.Prefix) {
		return false
	}
	return true
}

// Page sorts docs by ID and applies the filter's offset and limit. It
// returns the page and the total before paging.
func (f *DocumentFilter) Page(docs []*Document) ([]*Document, int) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	total := len(docs)
	if f == nil {
		return docs, total
	}
	if f.Offset > 0 {
		if f.Offset >= len(docs) {
			return []*Document{}, total
		}
		docs = docs[f.Offset:]
	}
	if f.Limit > 0 && len(docs) > f.Limit {
		docs = docs[:f.Limit]
	}
	return docs, total
}

// DocumentStore persists documents.
type DocumentStore interface {
	Put(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter *DocumentFilter) ([]*Document, int, error)
	Close() error
}

// NotFoundError indicates that the requested document was not found.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError indicates a document that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document %s: %s", e.Field, e.Reason)
}

// Validate checks the fields every backend relies on.
func Validate(doc *Document) error {
	if doc == nil {
		return &ValidationError{Field: "document", Reason: "nil"}
	}
	if strings.TrimSpace(doc.ID) == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	if _, err := time.Parse("2006-01-02", doc.DocTime); err != nil {
		return &ValidationError{Field: "doc_time", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", doc.DocTime)}
	}
	return nil
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
