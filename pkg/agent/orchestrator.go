package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/necyber/elephie/pkg/llm"
)

const tracerName = "elephie.agent"

// Config tunes the orchestrator.
type Config struct {
	Model            string
	MaxCycles        int
	MaxQueries       int
	MaxTokens        int
	Temperature      float64
	GeneratorTimeout time.Duration
	SearchTimeout    time.Duration
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxCycles:        4,
		MaxQueries:       3,
		MaxTokens:        400,
		Temperature:      0.1,
		GeneratorTimeout: 60 * time.Second,
		SearchTimeout:    20 * time.Second,
	}
}

// Turn is one user message with its conversation history.
type Turn struct {
	ConversationID string
	// Messages is the client history ending with the new user message.
	Messages  []llm.Message
	StartTime time.Time
	MaxTokens int
}

// ConversationState is the progress of one turn. It is never shared.
type ConversationState struct {
	Phase     Phase
	Generated string
	Cited     []string
	Cycles    int
	Monologue []string
}

func (s *ConversationState) cite(ids []string) {
	seen := make(map[string]struct{}, len(s.Cited))
	for _, id := range s.Cited {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			s.Cited = append(s.Cited, id)
		}
	}
}

// Result summarizes a finished turn.
type Result struct {
	Outcome   string
	Cycles    int
	Cited     []string
	Monologue []string
	Reply     string
}

// Orchestrator drives turns against a generator and a searcher.
type Orchestrator struct {
	gen      llm.Generator
	search   Searcher
	prompter *Prompter
	linker   Linker
	saver    TranscriptSaver
	cfg      atomic.Pointer[Config]
	logger   Logger
	recorder Recorder
	events   EventSink
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithEvents sets the turn event sink.
func WithEvents(e EventSink) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.events = e
		}
	}
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(gen llm.Generator, search Searcher, prompter *Prompter, linker Linker, saver TranscriptSaver, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		search:   search,
		prompter: prompter,
		linker:   linker,
		saver:    saver,
		logger:   nopLogger{},
		recorder: nopRecorder{},
		events:   nopEvents{},
		now:      time.Now,
	}
	o.SetConfig(cfg)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the current settings.
func (o *Orchestrator) Config() Config { return *o.cfg.Load() }

// SetConfig replaces the settings. Turns in flight keep the settings they
// started with.
func (o *Orchestrator) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = def.MaxCycles
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = def.MaxQueries
	}
	o.cfg.Store(&cfg)
}

// Run handles one turn, streaming caller-facing chunks to sink. The error
// is non-nil only when the sink fails or ctx ends; every other failure is
// resolved inside the turn.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, sink ChunkSink) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("conversation_id", turn.ConversationID)))
	defer span.End()

	started := o.now()
	cfg := o.Config()
	if turn.StartTime.IsZero() {
		turn.StartTime = started
	}
	o.publish(Event{Type: EventTurnStarted, ConversationID: turn.ConversationID})

	var (
		res *Result
		err error
	)
	if n := len(turn.Messages); n > 0 && turn.Messages[n-1].Role == llm.RoleUser && HasSaveDirective(turn.Messages[n-1].Content) {
		res, err = o.save(ctx, cfg, turn, sink)
	} else {
		res, err = o.loop(ctx, cfg, turn, sink)
	}
	if err != nil {
		span.RecordError(err)
		o.recorder.RecordTurn("canceled", 0, o.now().Sub(started))
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", res.Outcome), attribute.Int("cycles", res.Cycles))
	o.recorder.RecordTurn(res.Outcome, res.Cycles, o.now().Sub(started))
	o.publish(Event{Type: EventTurnFinished, ConversationID: turn.ConversationID, Outcome: res.Outcome, Cycle: res.Cycles, Cited: res.Cited})
	return res, nil
}

func (o *Orchestrator) save(ctx context.Context, cfg Config, turn Turn, sink ChunkSink) (*Result, error) {
	t := NewTranscript(turn.StartTime, turn.Messages)
	res := &Result{Outcome: OutcomeSaved, Reply: NoticeSaved}
	if err := o.saver.Save(ctx, t); err != nil {
		o.logger.Error("failed to save conversation", "conversation_id", turn.ConversationID, "title", t.Title, "error", err)
		res.Outcome, res.Reply = OutcomeSaveFailed, NoticeSaveFailed
	} else {
		o.logger.Info("conversation saved", "conversation_id", turn.ConversationID, "title", t.Title)
	}
	if err := o.single(ctx, cfg, sink, res.Reply); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) loop(ctx context.Context, cfg Config, turn Turn, sink ChunkSink) (*Result, error) {
	state := &ConversationState{Phase: PhaseInput}
	msgs := o.prompter.Build(turn.StartTime, turn.Messages)
	maxTokens := turn.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.MaxTokens
	}

	for state.Phase != PhaseFinish {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.Cycles >= cfg.MaxCycles {
			o.logger.Warn("turn failed: too many cycles", "conversation_id", turn.ConversationID, "cycles", state.Cycles)
			if err := o.single(ctx, cfg, sink, NoticeFailure); err != nil {
				return nil, err
			}
			return o.result(state, OutcomeFailed, NoticeFailure), nil
		}
		if state.Cycles == cfg.MaxCycles-1 {
			msgs = append(msgs, o.prompter.SystemMessage(NoticeLastWarning))
		}
		state.Cycles++
		o.setPhase(turn, state, PhaseInput)

		c, err := o.classify(ctx, cfg, msgs, maxTokens)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.recorder.RecordGeneratorError()
			o.logger.Warn("generation cycle failed", "conversation_id", turn.ConversationID, "cycle", state.Cycles, "error", err)
			continue
		}
		state.Generated = c.scanner.Text()

		monologue := ExtractTagged(state.Generated, TagThink)
		if monologue != "" {
			state.Monologue = append(state.Monologue, monologue)
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: Open(TagThink) + monologue + Close(TagThink)})
		}

		tag, _, _ := c.scanner.Found()
		switch tag {
		case TagReply:
			o.setPhase(turn, state, PhaseToReply)
			reply, err := o.reply(ctx, cfg, turn, state, c, sink)
			if err != nil {
				return nil, err
			}
			o.setPhase(turn, state, PhaseFinish)
			return o.result(state, OutcomeReply, reply), nil

		case TagSearch:
			block := searchBlock(c.scanner.After())
			if block == "" {
				if monologue == "" {
					msgs = append(msgs, o.prompter.SystemMessage(NoticeNoAction))
				}
				continue
			}
			o.setPhase(turn, state, PhaseToSearch)
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: Open(TagSearch) + block + Close(TagSearch)})
			msgs = append(msgs, o.runSearch(ctx, cfg, turn, state, ArrangeQueries(block, cfg.MaxQueries)))
			if err := ctx.Err(); err != nil {
				return nil, err
			}

		default:
			if monologue == "" {
				msgs = append(msgs, o.prompter.SystemMessage(NoticeNoAction))
			}
		}
		state.Phase = PhaseInput
	}
	return o.result(state, OutcomeReply, ""), nil
}

// classification is a finished classification cycle. For a REPLY the
// stream is still open and owned by the caller.
type classification struct {
	scanner *TagScanner
	stream  llm.Stream
	cancel  context.CancelFunc
	last    llm.Fragment
}

// classify streams one generation until its first tag is known. A REPLY
// returns immediately with the live stream; otherwise the stream is drained.
// The generator timeout bounds classification as a whole; reply re-arms it
// as an idle limit.
func (o *Orchestrator) classify(ctx context.Context, cfg Config, msgs []llm.Message, maxTokens int) (*classification, error) {
	gctx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if cfg.GeneratorTimeout > 0 {
		timer = time.AfterFunc(cfg.GeneratorTimeout, cancel)
	}

	temperature := cfg.Temperature
	stream, err := o.gen.Stream(gctx, llm.Request{
		Messages:    msgs,
		Stop:        StopTokens,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		stopTimer(timer)
		cancel()
		return nil, fmt.Errorf("agent: start generation: %w", err)
	}

	c := &classification{scanner: NewTagScanner(TagSearch, TagReply), stream: stream, cancel: cancel}
	for stream.Next() {
		c.last = stream.Current()
		if tag, ok := c.scanner.Feed(c.last.Content); ok && tag == TagReply {
			if !stopTimer(timer) {
				// The deadline fired while the tag arrived.
				stream.Close()
				cancel()
				return nil, context.DeadlineExceeded
			}
			return c, nil
		}
	}
	stopTimer(timer)
	err = stream.Err()
	stream.Close()
	cancel()
	if err != nil {
		if gctx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("agent: generation: %w", err)
	}
	return c, nil
}

// stopTimer reports whether t was stopped before firing.
func stopTimer(t *time.Timer) bool {
	if t == nil {
		return true
	}
	return t.Stop()
}

func (o *Orchestrator) runSearch(ctx context.Context, cfg Config, turn Turn, state *ConversationState, queries []string) llm.Message {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.search",
		trace.WithAttributes(attribute.Int("queries", len(queries)), attribute.Int("cycle", state.Cycles)))
	defer span.End()

	o.setPhase(turn, state, PhaseSearching)
	if cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SearchTimeout)
		defer cancel()
	}

	contexts, err := o.search.SearchFused(ctx, queries)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("search failed", "conversation_id", turn.ConversationID, "queries", queries, "error", err)
		return o.prompter.SearchResult(NoticeNoResult)
	}

	ids := make([]string, len(contexts))
	for i, c := range contexts {
		ids[i] = c.DocID
	}
	state.cite(ids)
	o.publish(Event{Type: EventSearch, ConversationID: turn.ConversationID, Cycle: state.Cycles, Queries: queries, Cited: ids})
	o.logger.Debug("search cycle", "conversation_id", turn.ConversationID, "queries", queries, "contexts", len(contexts))

	if len(contexts) == 0 {
		return o.prompter.SearchResult(NoticeNoResult)
	}
	return o.prompter.SearchResult(FormatContexts(contexts))
}

// reply forwards the rest of the generation live, then the citation block
// and the end marker.
func (o *Orchestrator) reply(ctx context.Context, cfg Config, turn Turn, state *ConversationState, c *classification, sink ChunkSink) (string, error) {
	defer c.cancel()
	defer c.stream.Close()

	var sb strings.Builder
	prefix := replyPrefix(c.scanner.After())
	meta := c.last
	if meta.ID == "" {
		meta.ID = NewCompletionID()
	}
	if meta.Model == "" {
		meta.Model = cfg.Model
	}
	if meta.Created == 0 {
		meta.Created = o.now().Unix()
	}

	first := true
	forward := func(f llm.Fragment) error {
		content := f.Content
		if first {
			content = prefix + content
			first = false
			state.Phase = PhaseReply
		}
		sb.WriteString(content)
		id, model, created := f.ID, f.Model, f.Created
		if id == "" {
			id, model, created = meta.ID, meta.Model, meta.Created
		}
		// finish_reason stays null so clients keep reading until the citations.
		return sink.Send(ctx, NewChunk(id, model, created, content, "", nil))
	}

	// A reply that goes quiet for GeneratorTimeout is cut short; the
	// citations and the end marker still go out.
	var stalled atomic.Bool
	var idle *time.Timer
	if cfg.GeneratorTimeout > 0 {
		idle = time.AfterFunc(cfg.GeneratorTimeout, func() {
			stalled.Store(true)
			c.cancel()
		})
	}
	for c.stream.Next() {
		if !stopTimer(idle) {
			break
		}
		if err := forward(c.stream.Current()); err != nil {
			return "", err
		}
		if idle != nil {
			idle.Reset(cfg.GeneratorTimeout)
		}
	}
	stopTimer(idle)
	err := c.stream.Err()
	switch {
	case err != nil && ctx.Err() != nil:
		return "", ctx.Err()
	case stalled.Load():
		o.logger.Warn("reply stalled, closing it early", "conversation_id", turn.ConversationID, "idle", cfg.GeneratorTimeout)
	case err != nil:
		o.logger.Warn("reply stream ended with error", "conversation_id", turn.ConversationID, "error", err)
	}
	if first && prefix != "" {
		if err := forward(llm.Fragment{}); err != nil {
			return "", err
		}
	}

	if block := o.linker.Block(state.Cited); block != "" {
		sb.WriteString(block)
		if err := sink.Send(ctx, NewChunk(meta.ID, meta.Model, meta.Created, block, string(llm.RoleSystem), nil)); err != nil {
			return "", err
		}
	}
	if err := sink.Done(ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// single sends a one-chunk answer with finish_reason stop.
func (o *Orchestrator) single(ctx context.Context, cfg Config, sink ChunkSink, message string) error {
	finish := FinishStop
	chunk := NewChunk(NewCompletionID(), cfg.Model, o.now().Unix(), message, string(llm.RoleSystem), &finish)
	if err := sink.Send(ctx, chunk); err != nil {
		return err
	}
	return sink.Done(ctx)
}

func (o *Orchestrator) setPhase(turn Turn, state *ConversationState, p Phase) {
	state.Phase = p
	o.publish(Event{Type: EventPhase, ConversationID: turn.ConversationID, Phase: p.String(), Cycle: state.Cycles})
}

func (o *Orchestrator) publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now()
	}
	o.events.Publish(e)
}

func (o *Orchestrator) result(state *ConversationState, outcome, reply string) *Result {
	return &Result{
		Outcome:   outcome,
		Cycles:    state.Cycles,
		Cited:     state.Cited,
		Monologue: state.Monologue,
		Reply:     reply,
	}
}

// ErrSinkClosed is returned by sinks whose client went away.
var ErrSinkClosed = errors.New("agent: sink closed")
