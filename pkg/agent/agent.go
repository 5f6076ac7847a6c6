// Package agent runs one conversational turn: it lets the generator think,
// search the memory and reply, streaming the reply to the caller with a
// citation block for every document the turn consulted.
package agent

import (
	"context"
	"time"

	"github.com/necyber/elephie/pkg/retrieval"
)

// Phase is the orchestrator's progress through one turn.
type Phase int

// Turn phases.
const (
	PhaseInput Phase = iota
	PhaseSearching
	PhaseToSearch
	PhaseToReply
	PhaseReply
	PhaseFinish
)

var phaseNames = [...]string{"input", "searching", "to_search", "to_reply", "reply", "finish"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Turn outcomes.
const (
	OutcomeReply      = "reply"
	OutcomeFailed     = "failed"
	OutcomeSaved      = "saved"
	OutcomeSaveFailed = "save_failed"
)

// Fixed notices.
const (
	NoticeNoAction     = "No valid actions taken. You need to use SEARCH or REPLY block."
	NoticeNoResult     = "No context found for the latest search."
	NoticeLastWarning  = "You need to answer back to the user immediately with the REPLY block otherwise your task is failed."
	NoticeHidden       = "Your have searched the memory but the result content is hidden. If you need the details include relevant topics in SEARCH block again."
	NoticeFailure      = "Failed to generate valid response, please try again."
	NoticeSaved        = "Conversation saved successfully."
	NoticeSaveFailed   = "Conversation saving failed."
	searchResultHeader = "---begin search result---\n"
	searchResultFooter = "\n---end search result---"
)

// Searcher ranks the queries of one search cycle and assembles contexts.
type Searcher interface {
	SearchFused(ctx context.Context, queries []string) ([]retrieval.Context, error)
}

// ChunkSink receives the caller-facing stream.
type ChunkSink interface {
	Send(ctx context.Context, c Chunk) error
	// Done marks the end of the stream.
	Done(ctx context.Context) error
}

// Event types.
const (
	EventTurnStarted  = "turn.started"
	EventPhase        = "turn.phase"
	EventSearch       = "turn.search"
	EventTurnFinished = "turn.finished"
)

// Event describes progress of a turn for observers.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Phase          string    `json:"phase,omitempty"`
	Cycle          int       `json:"cycle,omitempty"`
	Queries        []string  `json:"queries,omitempty"`
	Cited          []string  `json:"cited,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventSink receives turn events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

// Recorder receives turn measurements.
type Recorder interface {
	RecordTurn(outcome string, cycles int, duration time.Duration)
	RecordGeneratorError()
}

// Logger is the logging surface used by the orchestrator.
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

type nopRecorder struct{}

func (nopRecorder) RecordTurn(string, int, time.Duration) {}
func (nopRecorder) RecordGeneratorError()                 {}

type nopEvents struct{}

func (nopEvents) Publish(Event) {}
