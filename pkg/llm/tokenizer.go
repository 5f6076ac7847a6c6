package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used for context budgets.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a tiktoken encoding. The encoding is loaded
// lazily on first use; if it cannot be loaded, counts fall back to an
// estimate of four bytes per token.
type Tokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTokenizer creates a tokenizer for the named encoding.
func NewTokenizer(encoding string) *Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tokenizer{encoding: encoding}
}

func (t *Tokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("llm: init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Err reports why the encoding could not be loaded, if it could not.
func (t *Tokenizer) Err() error {
	return t.init()
}

// Count returns the token count of text.
func (t *Tokenizer) Count(text string) int {
	if err := t.init(); err != nil {
		return estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
