package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/necyber/elephie/pkg/storage"
	memstore "github.com/necyber/elephie/pkg/storage/memory"
)

// letterEmbedder embeds text as a 26-dimensional letter histogram.
type letterEmbedder struct {
	calls int
	err   error
}

func (e *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			} else if unicode.IsLetter(r) {
				v[0]++
			}
		}
		out[i] = v
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *letterEmbedder) {
	t.Helper()
	emb := &letterEmbedder{}
	now := func() time.Time { return time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC) }
	s := NewStore(memstore.NewMemoryStorage(), NewVectorIndex(nil), NewKeywordIndex(DefaultK1, DefaultB), emb,
		WithChunkSize(40), WithClock(now))
	return s, emb
}

func TestStore_AddAndQuery(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "bees", Name: "Garden", Content: "bees buzz by the beehive", DocTime: "2024-05-01"}))
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "tax", Name: "Money", Content: "quarterly tax return", DocTime: "2024-04-01"}))

	res, err := s.Query(ctx, []string{"bees beehive"}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0], 1)
	assert.Equal(t, "bees", res[0][0].DocID)
	assert.Equal(t, "2024-05-01", res[0][0].DocTime)

	body, ok, err := s.Document(ctx, "tax")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "quarterly tax return", body)

	_, ok, err = s.Document(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DefaultDocTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "undated", Content: "x"}))
	doc, err := s.Get(ctx, "undated")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-12", doc.DocTime)
}

func TestStore_QueryRange(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "may", Content: "hiking trip", DocTime: "2024-05-10"}))
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "june", Content: "hiking trip", DocTime: "2024-06-10"}))

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	res, err := s.QueryRange(ctx, []string{"hiking"}, 10, start, end)
	require.NoError(t, err)
	require.Len(t, res[0], 1)
	assert.Equal(t, "may", res[0][0].DocID)
}

func TestStore_RemoveByName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"Note of Travel > Japan", "Note of Travel > Peru"} {
		require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: id, Name: "Travel", Content: id, DocTime: "2024-01-01"}))
	}
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "keep", Name: "Other", Content: "keep", DocTime: "2024-01-01"}))

	removed, err := s.RemoveByName(ctx, "Travel")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Note of Travel > Japan", "Note of Travel > Peru"}, removed)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.VectorDocuments)

	err = s.RemoveDocument(ctx, "Note of Travel > Japan")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_RebuildKeywordsAndScore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "a", Content: "sourdough bread recipe", DocTime: "2024-01-01"}))
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "b", Content: "running shoes", DocTime: "2024-01-01"}))

	report, err := s.RebuildKeywords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)

	scores, err := s.Score(ctx, "sourdough", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Greater(t, scores[0], 0.0)
	assert.Zero(t, scores[1])
	assert.Zero(t, scores[2])
}

func TestStore_EmbedFailureLeavesStoreUntouched(t *testing.T) {
	s, emb := newTestStore(t)
	emb.err = errors.New("embedding backend down")

	err := s.AddDocument(context.Background(), &storage.Document{ID: "x", Content: "text", DocTime: "2024-01-01"})
	require.Error(t, err)

	_, err = s.Get(context.Background(), "x")
	assert.True(t, storage.IsNotFound(err))
}

func TestStore_Reindex(t *testing.T) {
	s, emb := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "a", Content: "alpha", DocTime: "2024-01-01"}))
	calls := emb.calls

	report, err := s.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, calls+1, emb.calls)
}

func TestStore_InvalidID(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.AddDocument(context.Background(), &storage.Document{ID: "  "}), ErrInvalidDocumentID)
}

// gatedDocs parks the first List call until release is closed.
type gatedDocs struct {
	storage.DocumentStore
	once    sync.Once
	listing chan struct{}
	release chan struct{}
}

func (g *gatedDocs) List(ctx context.Context, f *storage.DocumentFilter) ([]*storage.Document, int, error) {
	docs, n, err := g.DocumentStore.List(ctx, f)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.listing)
		<-g.release
	}
	return docs, n, err
}

func TestStore_RebuildKeywordsKeepsNewestCorpus(t *testing.T) {
	docs := &gatedDocs{
		DocumentStore: memstore.NewMemoryStorage(),
		listing:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	keywords := NewKeywordIndex(DefaultK1, DefaultB)
	s := NewStore(docs, NewVectorIndex(nil), keywords, &letterEmbedder{})
	ctx := context.Background()
	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "old", Content: "garden bees", DocTime: "2024-01-01"}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.RebuildKeywords(ctx)
		assert.NoError(t, err)
	}()
	<-docs.listing

	require.NoError(t, s.AddDocument(ctx, &storage.Document{ID: "new", Content: "volcano hike", DocTime: "2024-02-01"}))
	go func() {
		defer wg.Done()
		_, err := s.RebuildKeywords(ctx)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	close(docs.release)
	wg.Wait()

	scores, err := s.Score(ctx, "volcano", []string{"new"})
	require.NoError(t, err)
	assert.Greater(t, scores[0], 0.0)
	assert.Equal(t, 2, keywords.Len())
}
