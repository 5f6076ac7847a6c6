package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delta is the incremental content of a chunk.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// ChunkChoice is one choice of a streamed chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is a chat.completion.chunk in the OpenAI streaming format.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// FinishStop is the finish reason of a completed answer.
const FinishStop = "stop"

// NewChunk builds a single-choice chunk.
func NewChunk(id, model string, created int64, content, role string, finish *string) Chunk {
	return Chunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{{
			Delta:        Delta{Content: content, Role: role},
			FinishReason: finish,
		}},
	}
}

// Content returns the delta content of the first choice.
func (c Chunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// NewCompletionID returns a fresh completion id.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CompletionMessage is the message of a non-streamed completion.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionChoice is one choice of a non-streamed completion.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// Completion is a chat.completion object.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// BufferSink collects a turn's chunks for a non-streamed response.
type BufferSink struct {
	mu      sync.Mutex
	sb      strings.Builder
	id      string
	model   string
	created int64
	done    bool
}

// Send appends the chunk content.
func (b *BufferSink) Send(_ context.Context, c Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == "" {
		b.id, b.model, b.created = c.ID, c.Model, c.Created
	}
	b.sb.WriteString(c.Content())
	return nil
}

// Done marks the buffer complete.
func (b *BufferSink) Done(context.Context) error {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	return nil
}

// Completion returns the buffered turn as one completion.
func (b *BufferSink) Completion() Completion {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.id
	if id == "" {
		id = NewCompletionID()
	}
	created := b.created
	if created == 0 {
		created = time.Now().Unix()
	}
	return Completion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   b.model,
		Choices: []CompletionChoice{{
			Message:      CompletionMessage{Role: "assistant", Content: b.sb.String()},
			FinishReason: FinishStop,
		}},
	}
}

// Finished reports whether the turn ended its stream.
func (b *BufferSink) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
