// Package memory provides an in-memory implementation of the document store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/necyber/elephie/pkg/storage"
)

// MemoryStorage implements storage.DocumentStore using a map.
type MemoryStorage struct {
	mu   sync.RWMutex
	docs map[string]*storage.Document
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		docs: make(map[string]*storage.Document),
	}
}

// Put stores a copy of doc.
func (m *MemoryStorage) Put(ctx context.Context, doc *storage.Document) error {
	if err := storage.Validate(doc); err != nil {
		return err
	}
	copied := doc.Clone()
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = copied
	return nil
}

// Get returns a copy of the document.
func (m *MemoryStorage) Get(ctx context.Context, id string) (*storage.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, &storage.NotFoundError{ID: id}
	}
	return doc.Clone(), nil
}

// Delete removes a document.
func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return &storage.NotFoundError{ID: id}
	}
	delete(m.docs, id)
	return nil
}

// List returns documents matching filter, ordered by ID.
func (m *MemoryStorage) List(ctx context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error) {
	m.mu.RLock()
	matched := make([]*storage.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if filter.Match(doc) {
			matched = append(matched, doc.Clone())
		}
	}
	m.mu.RUnlock()

	page, total := filter.Page(matched)
	return page, total, nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}
