package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/retrieval"
	"github.com/necyber/elephie/pkg/storage"
)

type fakeDocs struct {
	mu       sync.Mutex
	docs     map[string]*storage.Document
	rebuilds int
	addErr   error
	listErr  error
}

func newFakeDocs(docs ...*storage.Document) *fakeDocs {
	f := &fakeDocs{docs: make(map[string]*storage.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d.Clone()
	}
	return f
}

func (f *fakeDocs) AddDocument(_ context.Context, doc *storage.Document) error {
	if f.addErr != nil {
		return f.addErr
	}
	if strings.TrimSpace(doc.ID) == "" {
		return memory.ErrInvalidDocumentID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := doc.Clone()
	if d.DocTime == "" {
		d.DocTime = "2024-05-01"
	}
	f.docs[d.ID] = d
	return nil
}

func (f *fakeDocs) RemoveDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return memory.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) Get(_ context.Context, id string) (*storage.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, &storage.NotFoundError{ID: id}
	}
	return d.Clone(), nil
}

func (f *fakeDocs) List(_ context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Document
	for _, d := range f.docs {
		if filter == nil || filter.Match(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter == nil {
		return out, len(out), nil
	}
	page, total := filter.Page(out)
	return page, total, nil
}

func (f *fakeDocs) RebuildKeywords(context.Context) (memory.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return memory.Report{Documents: len(f.docs), Terms: 3}, nil
}

func (f *fakeDocs) Stats(context.Context) (memory.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return memory.Stats{}, f.listErr
	}
	return memory.Stats{Documents: len(f.docs), VectorDocuments: len(f.docs), KeywordDocuments: len(f.docs)}, nil
}

type fakeSearcher struct {
	plain, fused []string
	err          error
	wait         bool
}

func (f *fakeSearcher) Search(ctx context.Context, queries []string) ([]retrieval.Context, error) {
	f.plain = queries
	return f.result(ctx)
}

func (f *fakeSearcher) SearchFused(ctx context.Context, queries []string) ([]retrieval.Context, error) {
	f.fused = queries
	return f.result(ctx)
}

func (f *fakeSearcher) result(ctx context.Context) ([]retrieval.Context, error) {
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return []retrieval.Context{
		{DocID: "Conversation on 2024-05-01 10:00:00", Content: "tokyo", TokenCount: 5, Value: 1},
		{DocID: "Note of Travel", Content: "kyoto", TokenCount: 7, Value: 0.5},
	}, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	turns []agent.Turn
	reply []string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, turn agent.Turn, sink agent.ChunkSink) (*agent.Result, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := agent.NewCompletionID()
	for i, part := range f.reply {
		role := ""
		if i == 0 {
			role = "assistant"
		}
		if err := sink.Send(ctx, agent.NewChunk(id, "elephie", 1700000000, part, role, nil)); err != nil {
			return nil, err
		}
	}
	stop := agent.FinishStop
	if err := sink.Send(ctx, agent.NewChunk(id, "elephie", 1700000000, "", "", &stop)); err != nil {
		return nil, err
	}
	if err := sink.Done(ctx); err != nil {
		return nil, err
	}
	return &agent.Result{Outcome: agent.OutcomeReply, Cycles: 1, Reply: strings.Join(f.reply, "")}, nil
}

func (f *fakeRunner) lastTurn() agent.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns[len(f.turns)-1]
}

type fakeTracker struct {
	start time.Time
	ids   []string
}

func (f *fakeTracker) Touch(id string) time.Time {
	f.ids = append(f.ids, id)
	return f.start
}

type fakeActivity struct {
	n    int
	last time.Time
}

func (f fakeActivity) Len() int           { return f.n }
func (f fakeActivity) LastUse() time.Time { return f.last }

var errBackend = errors.New("backend down")
