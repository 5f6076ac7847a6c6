package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/necyber/elephie/pkg/llm"
	"github.com/necyber/elephie/pkg/retrieval"
)

// script is one scripted generation: fragments, or an error from Stream,
// or a stream that blocks until its context ends.
type script struct {
	fragments []string
	startErr  error
	block     bool
	// stall blocks after the last fragment until the context ends.
	stall bool
}

type fakeGenerator struct {
	mu       sync.Mutex
	scripts  []script
	fallback script
	requests []llm.Request
	closed   int
}

func (g *fakeGenerator) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	s := g.fallback
	if len(g.scripts) > 0 {
		s, g.scripts = g.scripts[0], g.scripts[1:]
	}
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &fakeStream{ctx: ctx, fragments: s.fragments, block: s.block, stall: s.stall, gen: g}, nil
}

func (g *fakeGenerator) Complete(ctx context.Context, req llm.Request) (string, error) {
	return "", errors.New("not scripted")
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGenerator) request(i int) llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

type fakeStream struct {
	ctx       context.Context
	fragments []string
	block     bool
	stall     bool
	cur       llm.Fragment
	err       error
	gen       *fakeGenerator
}

func (s *fakeStream) Next() bool {
	if s.block || (s.stall && len(s.fragments) == 0) {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if len(s.fragments) == 0 {
		return false
	}
	s.cur = llm.Fragment{ID: "chatcmpl-test", Model: "test-model", Created: 1700000000, Content: s.fragments[0]}
	s.fragments = s.fragments[1:]
	return true
}

func (s *fakeStream) Current() llm.Fragment { return s.cur }
func (s *fakeStream) Err() error            { return s.err }
func (s *fakeStream) Close() error {
	s.gen.mu.Lock()
	s.gen.closed++
	s.gen.mu.Unlock()
	return nil
}

type fakeSearcher struct {
	mu       sync.Mutex
	contexts []retrieval.Context
	err      error
	queries  [][]string
}

func (s *fakeSearcher) SearchFused(_ context.Context, queries []string) ([]retrieval.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, queries)
	return s.contexts, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	chunks []Chunk
	done   int
	err    error
}

func (s *recordingSink) Send(_ context.Context, c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, c)
	return nil
}

func (s *recordingSink) Done(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	return nil
}

func (s *recordingSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, c := range s.chunks {
		sb.WriteString(c.Content())
	}
	return sb.String()
}

type fakeSaver struct {
	saved []Transcript
	err   error
}

func (s *fakeSaver) Save(_ context.Context, t Transcript) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, t)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEvents) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingRecorder struct {
	outcomes  []string
	cycles    []int
	genErrors int
}

func (r *recordingRecorder) RecordTurn(outcome string, cycles int, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
	r.cycles = append(r.cycles, cycles)
}

func (r *recordingRecorder) RecordGeneratorError() { r.genErrors++ }

var fixedStart = time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)

func userTurn(text string) Turn {
	return Turn{
		ConversationID: "conv-1",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "client system prompt"},
			{Role: llm.RoleUser, Content: text},
		},
		StartTime: fixedStart,
	}
}
