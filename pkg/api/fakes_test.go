package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/api/handlers"
	"github.com/necyber/elephie/pkg/logger"
	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/retrieval"
	"github.com/necyber/elephie/pkg/storage"
)

type stubDocs struct {
	mu   sync.Mutex
	docs map[string]*storage.Document
}

func (s *stubDocs) AddDocument(_ context.Context, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string]*storage.Document)
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubDocs) RemoveDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return memory.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *stubDocs) Get(_ context.Context, id string) (*storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return doc, nil
}

func (s *stubDocs) List(_ context.Context, _ *storage.DocumentFilter) ([]*storage.Document, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (s *stubDocs) RebuildKeywords(context.Context) (memory.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memory.Report{Documents: len(s.docs)}, nil
}

func (s *stubDocs) Stats(context.Context) (memory.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memory.Stats{Documents: len(s.docs)}, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, []string) ([]retrieval.Context, error) {
	return nil, nil
}

func (stubSearcher) SearchFused(context.Context, []string) ([]retrieval.Context, error) {
	return nil, nil
}

// slowRunner answers after delay so tests can tell whether a request
// timeout applies.
type slowRunner struct {
	delay time.Duration
}

func (r slowRunner) Run(ctx context.Context, _ agent.Turn, sink agent.ChunkSink) (*agent.Result, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	finish := agent.FinishStop
	if err := sink.Send(ctx, agent.NewChunk(agent.NewCompletionID(), "elephie", 0, "hello", "assistant", &finish)); err != nil {
		return nil, err
	}
	return &agent.Result{Outcome: "answered", Cycles: 1, Reply: "hello"}, sink.Done(ctx)
}

type stubTracker struct{}

func (stubTracker) Touch(string) time.Time { return time.Now() }

type stubActivity struct{}

func (stubActivity) Len() int           { return 0 }
func (stubActivity) LastUse() time.Time { return time.Time{} }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

func testHandlers(runnerDelay time.Duration) *Handlers {
	log := logger.Nop()
	docs := &stubDocs{}
	health := handlers.NewHealthHandler(docs, stubActivity{})
	health.SetReady(true)
	return &Handlers{
		Chat:      handlers.NewChatHandler(slowRunner{delay: runnerDelay}, stubTracker{}, log),
		Documents: handlers.NewDocumentHandler(docs, log),
		Search:    handlers.NewSearchHandler(stubSearcher{}, 0, log),
		Health:    health,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}
}
