// Package llm adapts chat-completion and embedding backends to the
// interfaces used by the agent, the ingest pipeline and the indices.
package llm

import (
	"context"
	"errors"
)

// Role is a chat message role.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a role-tagged chat message.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	Messages    []Message
	Stop        []string
	MaxTokens   int
	Temperature *float64
}

// Fragment is one streamed text delta.
type Fragment struct {
	ID           string
	Model        string
	Created      int64
	Content      string
	FinishReason string
}

// Stream yields fragments until exhausted. Err reports the error that ended
// iteration, if any.
type Stream interface {
	Next() bool
	Current() Fragment
	Err() error
	Close() error
}

// Generator produces chat completions.
type Generator interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrNoAPIKey is returned when a backend is configured without a key.
	ErrNoAPIKey = errors.New("llm: api key required")
	// ErrEmptyResponse is returned when the backend answers without content.
	ErrEmptyResponse = errors.New("llm: empty response")
)
