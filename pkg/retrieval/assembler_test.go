package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAssembler_BudgetBoundary(t *testing.T) {
	tests := []struct {
		name   string
		tokens int
		want   int
	}{
		{name: "exactly the budget is rejected", tokens: 150, want: 0},
		{name: "one below the budget is admitted", tokens: 149, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := mapDocs{"doc": "body"}
			tok := fixedTokenizer{"body": tt.tokens}
			a := NewAssembler(docs, tok, AssemblerConfig{TokenBudget: 150, MinValue: 0.3, FullDocThreshold: 1})

			got, err := a.Assemble(context.Background(), []Ranked{{DocID: "doc", Score: 49}}, TimeMap{"doc": "2024-01-01"})
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestAssembler_StrongMatchBypassesValue(t *testing.T) {
	docs := mapDocs{"long": strings.Repeat("word ", 900)}
	a := NewAssembler(docs, wordTokenizer{}, AssemblerConfig{TokenBudget: 1000, MinValue: 100, FullDocThreshold: 1})

	got, err := a.Assemble(context.Background(), []Ranked{{DocID: "long", Score: 1.5}}, TimeMap{"long": "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Less(t, got[0].Value, 100.0)
	assert.True(t, got[0].Full)
}

func TestAssembler_WeakMatchNeedsValue(t *testing.T) {
	docs := mapDocs{"weak": "a b c"}
	a := NewAssembler(docs, wordTokenizer{}, AssemblerConfig{TokenBudget: 1000, MinValue: 0.5, FullDocThreshold: 1})

	got, err := a.Assemble(context.Background(), []Ranked{{DocID: "weak", Score: 0.4}}, TimeMap{"weak": "2024-01-01"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAssembler_SkipsMissingAndSortsByTime(t *testing.T) {
	docs := mapDocs{
		"new": "new body",
		"old": "old body",
	}
	a := NewAssembler(docs, wordTokenizer{}, AssemblerConfig{TokenBudget: 100, MinValue: 0.1, FullDocThreshold: 1})

	ranked := []Ranked{
		{DocID: "new", Score: 5},
		{DocID: "gone", Score: 4},
		{DocID: "old", Score: 3},
	}
	times := TimeMap{"new": "2024-05-01", "gone": "2024-03-01", "old": "2023-12-24"}

	got, err := a.Assemble(context.Background(), ranked, times)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "old", got[0].DocID)
	assert.Equal(t, "new", got[1].DocID)
}

func TestAssembler_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		budget := rapid.IntRange(1, 400).Draw(t, "budget")

		docs := mapDocs{}
		tok := fixedTokenizer{}
		times := TimeMap{}
		ranked := make([]Ranked, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("doc-%d", i)
			body := "body-" + id
			docs[id] = body
			tok[body] = rapid.IntRange(0, 200).Draw(t, "tokens")
			times[id] = fmt.Sprintf("2024-%02d-%02d", rapid.IntRange(1, 12).Draw(t, "month"), rapid.IntRange(1, 28).Draw(t, "day"))
			ranked[i] = Ranked{DocID: id, Score: rapid.Float64Range(-1, 5).Draw(t, "score")}
		}

		a := NewAssembler(docs, tok, AssemblerConfig{TokenBudget: budget, MinValue: 0.3, FullDocThreshold: 1})
		got, err := a.Assemble(context.Background(), ranked, times)
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}

		total := 0
		for i, c := range got {
			total += c.TokenCount
			if i > 0 && got[i-1].DocTime > c.DocTime {
				t.Fatalf("contexts out of order: %s before %s", got[i-1].DocTime, c.DocTime)
			}
		}
		if total >= budget {
			t.Fatalf("admitted %d tokens with budget %d", total, budget)
		}
	})
}

func TestAssembler_StrongMatchAlwaysAdmittedWhenItFits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tokens := rapid.IntRange(0, 10000).Draw(t, "tokens")
		score := rapid.Float64Range(1.0001, 100).Draw(t, "score")

		docs := mapDocs{"doc": "body"}
		a := NewAssembler(docs, fixedTokenizer{"body": tokens}, AssemblerConfig{TokenBudget: tokens + 1, MinValue: 1e9, FullDocThreshold: 1})
		got, err := a.Assemble(context.Background(), []Ranked{{DocID: "doc", Score: score}}, TimeMap{"doc": "2024-01-01"})
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("strong match with %d tokens not admitted", tokens)
		}
	})
}
