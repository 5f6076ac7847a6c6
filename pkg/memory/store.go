package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/necyber/elephie/pkg/llm"
	"github.com/necyber/elephie/pkg/retrieval"
	"github.com/necyber/elephie/pkg/storage"
)

// Store keeps the document store, the vector index and the keyword index
// consistent. Writes are serialized; reads go straight to the indices.
type Store struct {
	mu sync.Mutex
	// rebuildMu keeps a slow rebuild from installing an older corpus over
	// a newer one.
	rebuildMu sync.Mutex
	docs      storage.DocumentStore
	vectors   *VectorIndex
	keywords  *KeywordIndex
	embedder  llm.Embedder
	chunker   *Chunker
	logger    Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(l Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) StoreOption {
	return func(s *Store) { s.chunker = NewChunker(size) }
}

// WithClock sets the clock used to date undated documents.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store.
func NewStore(docs storage.DocumentStore, vectors *VectorIndex, keywords *KeywordIndex, embedder llm.Embedder, opts ...StoreOption) *Store {
	s := &Store{
		docs:     docs,
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		chunker:  NewChunker(DefaultChunkSize),
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ retrieval.VectorStore   = (*Store)(nil)
	_ retrieval.KeywordScorer = (*Store)(nil)
	_ retrieval.DocumentStore = (*Store)(nil)
)

// AddDocument stores doc and replaces its chunks in the vector index. An
// empty DocTime defaults to the current day.
func (s *Store) AddDocument(ctx context.Context, doc *storage.Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return ErrInvalidDocumentID
	}
	doc = doc.Clone()
	if doc.DocTime == "" {
		doc.DocTime = s.now().Format(retrieval.DateLayout)
	}
	doc.UpdatedAt = s.now().UTC()

	chunks := s.chunker.Split(doc.Content)
	var vectors [][]float32
	if len(chunks) > 0 {
		var err error
		vectors, err = s.embedder.Embed(ctx, chunks)
		if err != nil {
			return fmt.Errorf("memory: embed %s: %w", doc.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.docs.Put(ctx, doc); err != nil {
		return fmt.Errorf("memory: store %s: %w", doc.ID, err)
	}
	if err := s.vectors.Upsert(doc.ID, doc.Name, doc.DocTime, chunks, vectors); err != nil {
		return fmt.Errorf("memory: index %s: %w", doc.ID, err)
	}
	s.logger.Debug("document indexed", "doc_id", doc.ID, "chunks", len(chunks))
	return nil
}

// RemoveDocument deletes a document from the store and the vector index.
func (s *Store) RemoveDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, id)
}

func (s *Store) removeLocked(ctx context.Context, id string) error {
	indexed, err := s.vectors.Remove(id)
	if err != nil {
		return fmt.Errorf("memory: unindex %s: %w", id, err)
	}
	err = s.docs.Delete(ctx, id)
	switch {
	case storage.IsNotFound(err) && !indexed:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil && !storage.IsNotFound(err):
		return fmt.Errorf("memory: delete %s: %w", id, err)
	}
	s.logger.Debug("document removed", "doc_id", id)
	return nil
}

// RemoveByName deletes every document derived from the named source and
// returns their ids.
func (s *Store) RemoveByName(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{})
	for _, id := range s.vectors.IDsByName(name) {
		ids[id] = struct{}{}
	}
	stored, _, err := s.docs.List(ctx, &storage.DocumentFilter{Name: name})
	if err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", name, err)
	}
	for _, d := range stored {
		ids[d.ID] = struct{}{}
	}

	removed := make([]string, 0, len(ids))
	for id := range ids {
		if err := s.removeLocked(ctx, id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// Get returns a stored document.
func (s *Store) Get(ctx context.Context, id string) (*storage.Document, error) {
	return s.docs.Get(ctx, id)
}

// List returns stored documents.
func (s *Store) List(ctx context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error) {
	return s.docs.List(ctx, filter)
}

// Document returns a document body for context assembly.
func (s *Store) Document(ctx context.Context, id string) (string, bool, error) {
	doc, err := s.docs.Get(ctx, id)
	if storage.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Content, true, nil
}

// Query embeds queries and returns the k nearest documents for each.
func (s *Store) Query(ctx context.Context, queries []string, k int) ([][]retrieval.Association, error) {
	return s.query(ctx, queries, k, "", "")
}

// QueryRange is Query restricted to documents dated within [start, end].
func (s *Store) QueryRange(ctx context.Context, queries []string, k int, start, end time.Time) ([][]retrieval.Association, error) {
	return s.query(ctx, queries, k, start.Format(retrieval.DateLayout), end.Format(retrieval.DateLayout))
}

func (s *Store) query(ctx context.Context, queries []string, k int, start, end string) ([][]retrieval.Association, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("memory: embed queries: %w", err)
	}
	return s.vectors.Search(vecs, k, start, end)
}

// Score returns keyword scores aligned with ids.
func (s *Store) Score(ctx context.Context, query string, ids []string) ([]float64, error) {
	return s.keywords.Score(ctx, query, ids)
}

// RebuildKeywords rebuilds the keyword index from every stored document.
func (s *Store) RebuildKeywords(ctx context.Context) (Report, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	docs, _, err := s.docs.List(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("memory: list documents: %w", err)
	}
	corpus := make([]KeywordDoc, len(docs))
	for i, d := range docs {
		corpus[i] = KeywordDoc{ID: d.ID, Content: d.Content}
	}
	report, err := s.keywords.Rebuild(ctx, corpus)
	if err != nil {
		return Report{}, err
	}
	s.logger.Info("keyword index rebuilt", "documents", report.Documents, "terms", report.Terms, "duration", report.Duration)
	return report, nil
}

// Reindex re-embeds every stored document, then rebuilds the keyword index.
func (s *Store) Reindex(ctx context.Context) (Report, error) {
	docs, _, err := s.docs.List(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("memory: list documents: %w", err)
	}
	for _, d := range docs {
		if err := s.AddDocument(ctx, d); err != nil {
			return Report{}, err
		}
	}
	return s.RebuildKeywords(ctx)
}

// Stats describes the indexed corpus.
type Stats struct {
	Documents        int `json:"documents"`
	VectorDocuments  int `json:"vector_documents"`
	KeywordDocuments int `json:"keyword_documents"`
	Dimension        int `json:"dimension"`
}

// IndexSizes returns the number of documents in the vector and keyword
// indices without touching the document store.
func (s *Store) IndexSizes() (vector, keyword int) {
	return s.vectors.Len(), s.keywords.Len()
}

// Stats returns corpus statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	_, total, err := s.docs.List(ctx, &storage.DocumentFilter{Limit: 1})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Documents:        total,
		VectorDocuments:  s.vectors.Len(),
		KeywordDocuments: s.keywords.Len(),
		Dimension:        s.vectors.Dimension(),
	}, nil
}
