package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/api/middleware"
	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/llm"
)

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, sink agent.ChunkSink) (*agent.Result, error)
}

// ConversationTracker maps conversation ids to their start time.
type ConversationTracker interface {
	Touch(id string) time.Time
}

// ChatHandler serves the OpenAI-compatible chat completions endpoint.
type ChatHandler struct {
	runner  TurnRunner
	tracker ConversationTracker
	logger  handlerLogger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(runner TurnRunner, tracker ConversationTracker, log handlerLogger) *ChatHandler {
	return &ChatHandler{runner: runner, tracker: tracker, logger: log}
}

type chatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant function"`
	Content string `json:"content"`
}

// chatRequest accepts the OpenAI request shape. Sampling fields are read
// but the server's own settings apply.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages" validate:"required,min=1,dive"`
	Stream         bool          `json:"stream"`
	MaxTokens      int           `json:"max_tokens" validate:"min=0"`
	Temperature    *float64      `json:"temperature"`
	ConversationID string        `json:"conversation_id"`
}

// history converts the client messages to generator messages. System
// messages are dropped since the server owns the system prompt.
func (req chatRequest) history() []llm.Message {
	out := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch llm.Role(m.Role) {
		case llm.RoleUser, llm.RoleAssistant:
			out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
		}
	}
	return out
}

// ChatCompletions handles POST /v1/chat/completions
func (h *ChatHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}
	history := req.history()
	if len(history) == 0 || history[len(history)-1].Role != llm.RoleUser {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "The last message must come from the user", getRequestID(ctx))
		return
	}

	conversationID := strings.TrimSpace(r.Header.Get(middleware.ConversationIDHeader))
	if conversationID == "" {
		conversationID = strings.TrimSpace(req.ConversationID)
	}
	if conversationID == "" {
		conversationID = agent.ConversationKey(history)
	}
	turn := agent.Turn{
		ConversationID: conversationID,
		Messages:       history,
		StartTime:      h.tracker.Touch(conversationID),
		MaxTokens:      req.MaxTokens,
	}
	w.Header().Set(middleware.ConversationIDHeader, conversationID)

	if req.Stream {
		h.stream(w, r, turn)
		return
	}

	sink := &agent.BufferSink{}
	result, err := h.runner.Run(ctx, turn, sink)
	if err != nil {
		h.logger.Warn("Turn aborted", "conversation_id", conversationID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			response.Error(w, http.StatusGatewayTimeout, response.ErrCodeGatewayTimeout, "Request timeout", getRequestID(ctx))
			return
		}
		if ctx.Err() == nil {
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to answer", getRequestID(ctx))
		}
		return
	}
	h.logger.Info("Turn finished", "conversation_id", conversationID, "outcome", result.Outcome, "cycles", result.Cycles)
	response.JSON(w, http.StatusOK, sink.Completion())
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, turn agent.Turn) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Streaming unsupported", getRequestID(ctx))
		return
	}

	// Clear the server write deadline; a stream lasts as long as the turn.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := NewSSESink(w, flusher)
	result, err := h.runner.Run(ctx, turn, sink)
	if err != nil {
		h.logger.Warn("Stream aborted", "conversation_id", turn.ConversationID, "error", err)
		return
	}
	if !sink.Finished() {
		// The orchestrator always closes the stream; this covers runners that
		// do not.
		_ = sink.Done(ctx)
	}
	h.logger.Info("Turn finished", "conversation_id", turn.ConversationID, "outcome", result.Outcome, "cycles", result.Cycles)
}

// SSESink writes chunks as server-sent events.
type SSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    bool
}

// NewSSESink creates a sink over a flushing writer.
func NewSSESink(w http.ResponseWriter, flusher http.Flusher) *SSESink {
	return &SSESink{w: w, flusher: flusher}
}

// Send writes one "data:" event and flushes it.
func (s *SSESink) Send(ctx context.Context, c agent.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	return s.write("data: " + string(payload) + "\n\n")
}

// Done writes the terminal [DONE] event once.
func (s *SSESink) Done(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()
	return s.write("data: [DONE]\n\n")
}

// Finished reports whether Done was called.
func (s *SSESink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *SSESink) write(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte(event)); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
