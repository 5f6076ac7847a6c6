package retrieval

import (
	"context"
	"fmt"
	"sort"
)

// valueTokenScale is the token count at which a document's value is halved.
const valueTokenScale = 150.0

// AssemblerConfig bounds context admission.
type AssemblerConfig struct {
	// TokenBudget is the total token count contexts may occupy.
	TokenBudget int
	// MinValue is the density-adjusted score a weak match must exceed.
	MinValue float64
	// FullDocThreshold is the score above which a match is admitted
	// regardless of its value.
	FullDocThreshold float64
}

// Assembler turns ranked document ids into prompt contexts.
type Assembler struct {
	docs      DocumentStore
	tokenizer Tokenizer
	cfg       AssemblerConfig
}

// NewAssembler creates an assembler. The tokenizer must be the one the
// budget is expressed in.
func NewAssembler(docs DocumentStore, tokenizer Tokenizer, cfg AssemblerConfig) *Assembler {
	return &Assembler{docs: docs, tokenizer: tokenizer, cfg: cfg}
}

// NewContext measures a document body and computes its value.
func NewContext(docID, content string, score float64, docTime string, tokenizer Tokenizer) Context {
	tokens := tokenizer.Count(content)
	return Context{
		DocID:      docID,
		Content:    content,
		TokenCount: tokens,
		Value:      score / (1 + float64(tokens)/valueTokenScale),
		Score:      score,
		DocTime:    docTime,
		Full:       true,
	}
}

// Assemble walks ranked in order and admits contexts while the budget
// allows. Missing documents are skipped. The result is ordered by document
// time, oldest first.
func (a *Assembler) Assemble(ctx context.Context, ranked []Ranked, times TimeMap) ([]Context, error) {
	remaining := a.cfg.TokenBudget
	admitted := make([]Context, 0)

	for _, r := range ranked {
		if remaining <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, ok, err := a.docs.Document(ctx, r.DocID)
		if err != nil {
			return nil, fmt.Errorf("retrieval: load document %q: %w", r.DocID, err)
		}
		if !ok {
			continue
		}

		c := NewContext(r.DocID, body, r.Score, times[r.DocID], a.tokenizer)
		if c.TokenCount < remaining && (c.Score > a.cfg.FullDocThreshold || c.Value > a.cfg.MinValue) {
			admitted = append(admitted, c)
			remaining -= c.TokenCount
		}
	}

	sort.SliceStable(admitted, func(i, j int) bool {
		return admitted[i].DocTime < admitted[j].DocTime
	})
	return admitted, nil
}
