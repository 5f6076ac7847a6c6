package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

const (
	defaultChatModel      = "gpt-3.5-turbo"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultMaxTokens      = 400
	defaultMaxRetries     = 3
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	HTTPClient  *http.Client
}

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

type embeddings interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

func clientOptions(cfg OpenAIConfig) ([]option.RequestOption, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, option.WithHTTPClient(tracedClient(cfg.HTTPClient)))
	// Retries are handled here so the orchestrator sees one failure per call.
	opts = append(opts, option.WithMaxRetries(0))
	return opts, nil
}

// OpenAIGenerator streams chat completions from an OpenAI-compatible API.
type OpenAIGenerator struct {
	completions chatCompletions
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
}

// NewOpenAIGenerator creates a generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultChatModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}

	return &OpenAIGenerator{
		completions: &client.Chat.Completions,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		maxRetries:  retries,
	}, nil
}

func (g *OpenAIGenerator) params(req Request) (openai.ChatCompletionNewParams, []option.RequestOption) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	temperature := g.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	var opts []option.RequestOption
	if len(req.Stop) > 0 {
		opts = append(opts, option.WithJSONSet("stop", req.Stop))
	}
	return params, opts
}

// Stream opens a streaming completion. Transport errors surface through the
// returned stream's Err.
func (g *OpenAIGenerator) Stream(ctx context.Context, req Request) (Stream, error) {
	params, opts := g.params(req)
	s := g.completions.NewStreaming(ctx, params, opts...)
	if s == nil {
		return nil, errors.New("llm: stream not available")
	}
	return &openaiStream{stream: s}, nil
}

// Complete runs a non-streaming completion with retries.
func (g *OpenAIGenerator) Complete(ctx context.Context, req Request) (string, error) {
	params, opts := g.params(req)
	var content string
	err := doWithRetry(ctx, g.maxRetries, func(ctx context.Context) error {
		completion, err := g.completions.New(ctx, params, opts...)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return ErrEmptyResponse
		}
		content = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	return content, nil
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    Fragment
}

func (s *openaiStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		s.cur = Fragment{
			ID:           chunk.ID,
			Model:        chunk.Model,
			Created:      chunk.Created,
			Content:      choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}
		return true
	}
	return false
}

func (s *openaiStream) Current() Fragment { return s.cur }
func (s *openaiStream) Err() error        { return s.stream.Err() }
func (s *openaiStream) Close() error      { return s.stream.Close() }

// OpenAIEmbedder embeds texts with an OpenAI-compatible API.
type OpenAIEmbedder struct {
	embeddings embeddings
	model      string
	maxRetries int
}

// NewOpenAIEmbedder creates an embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultEmbeddingModel
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}
	return &OpenAIEmbedder{
		embeddings: &client.Embeddings,
		model:      model,
		maxRetries: retries,
	}, nil
}

// Embed returns one vector per text, in order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float32
	err := doWithRetry(ctx, e.maxRetries, func(ctx context.Context) error {
		resp, err := e.embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("llm: got %d embeddings for %d inputs", len(resp.Data), len(texts))
		}
		out = make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(texts) {
				return fmt.Errorf("llm: embedding index %d out of range", d.Index)
			}
			vec := make([]float32, len(d.Embedding))
			for i, v := range d.Embedding {
				vec[i] = float32(v)
			}
			out[d.Index] = vec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	return out, nil
}

func doWithRetry(ctx context.Context, maxRetries int, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) || attempts >= maxRetries {
			return err
		}
		attempts++
		backoff := time.Duration(attempts*attempts) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
