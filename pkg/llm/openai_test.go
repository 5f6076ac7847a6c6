package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamServer(t *testing.T, deltas []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1700000000,
				"model":   "test-model",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]any{"content": d},
					"finish_reason": nil,
				}},
			}
			if i == len(deltas)-1 {
				chunk["choices"].([]map[string]any)[0]["finish_reason"] = "stop"
			}
			payload, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIGenerator_Stream(t *testing.T) {
	var req map[string]any
	srv := streamServer(t, []string{"<THINK>ok", "</THINK><REPLY>", "hello"}, &req)
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "test", Model: "test-model"})
	require.NoError(t, err)

	stream, err := gen.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Stop:     []string{"\n###", "</SEARCH>", "</REPLY>"},
	})
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	var last Fragment
	for stream.Next() {
		last = stream.Current()
		sb.WriteString(last.Content)
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, "<THINK>ok</THINK><REPLY>hello", sb.String())
	assert.Equal(t, "chatcmpl-1", last.ID)
	assert.Equal(t, "test-model", last.Model)
	assert.Equal(t, "stop", last.FinishReason)

	assert.Equal(t, true, req["stream"])
	assert.Equal(t, []any{"\n###", "</SEARCH>", "</REPLY>"}, req["stop"])
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIGenerator_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"- a summary"}}]}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "test"})
	require.NoError(t, err)

	got, err := gen.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "- a summary", got)
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		fmt.Fprint(w, `{"object":"list","model":"e","data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	}))
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "test"})
	require.NoError(t, err)

	vecs, err := emb.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestTokenizer_FallbackEstimate(t *testing.T) {
	tok := NewTokenizer("no_such_encoding")
	require.Error(t, tok.Err())
	assert.Equal(t, 0, tok.Count(""))
	assert.Equal(t, 3, tok.Count("hello world!"))
}
