package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	agg := Aggregate([]Association{
		{DocID: "a", DocTime: "2024-01-01", Score: 1},
		{DocID: "b", DocTime: "2024-02-01", Score: 3},
		{DocID: "a", DocTime: "2024-09-09", Score: 2},
		{DocID: "c", DocTime: "2024-03-01", Score: 3},
	})

	assert.Equal(t, ScoreMap{"a": 3, "b": 3, "c": 3}, agg.Scores)
	assert.Equal(t, TimeMap{"a": "2024-01-01", "b": "2024-02-01", "c": "2024-03-01"}, agg.Times)

	ranked := agg.Ranked()
	ids := []string{ranked[0].DocID, ranked[1].DocID, ranked[2].DocID}
	assert.Equal(t, []string{"a", "b", "c"}, ids, "ties keep first-seen order")
}

func TestEngine_SearchSingleStrongMatch(t *testing.T) {
	vectors := &fakeVectors{byQuery: map[string][]Association{
		"tea": {assoc("Note of tea", "2024-02-01", 0.01)},
	}}
	docs := mapDocs{"Note of tea": "green tea notes"}
	e := NewEngine(vectors, nil, nil, docs, wordTokenizer{}, DefaultOptions())

	got, err := e.Search(context.Background(), []string{"tea"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 49, got[0].Score, 1e-9)
}

func TestEngine_SearchAppliesTimeDecay(t *testing.T) {
	vectors := &fakeVectors{byQuery: map[string][]Association{
		"dinner": {
			assoc("far", "2023-01-01", 0.3),
			assoc("near", "2024-06-02", 0.3),
		},
	}}
	dates := phraseDates{phrases: map[string]DateMatch{
		"on June 1st": {Text: "on June 1st", Date: day("2024-06-01")},
	}}
	docs := mapDocs{"far": "far body", "near": "near body"}
	opts := DefaultOptions()
	opts.Assembler.MinValue = -100
	e := NewEngine(vectors, nil, dates, docs, wordTokenizer{}, opts)

	got, err := e.Search(context.Background(), []string{"dinner on June 1st"})
	require.NoError(t, err)
	require.Len(t, vectors.queries, 1)
	assert.Equal(t, []string{"dinner"}, vectors.queries[0], "date expression is stripped before querying")

	require.Len(t, got, 2)
	scores := map[string]float64{}
	for _, c := range got {
		scores[c.DocID] = c.Score
	}
	assert.Greater(t, scores["near"], scores["far"])
	assert.Equal(t, "far", got[0].DocID, "output is chronological")
}

func TestEngine_FusedScenario(t *testing.T) {
	opts := DefaultOptions()
	opts.Choices = 4
	opts.Assembler.MinValue = -100

	list := func(prefix string) []Association {
		return []Association{
			assoc(prefix+"1", "2024-01-01", 0.2),
			assoc(prefix+"2", "2024-01-02", 0.25),
			assoc(prefix+"3", "2024-01-03", 0.3),
			assoc(prefix+"4", "2024-01-04", 0.35),
			assoc(prefix+"5", "2024-01-05", 0.4),
			assoc(prefix+"6", "2024-01-06", 0.45),
			assoc(prefix+"7", "2024-01-07", 0.5),
			assoc(prefix+"8", "2024-01-08", 0.55),
		}
	}
	vectors := &fakeVectors{
		byQuery: map[string][]Association{
			"trip to Japan":       list("japan"),
			"deadline next month": list("deadline"),
			"favorite food":       list("food"),
		},
		ranged: map[string][]Association{
			"deadline": list("ranged"),
		},
	}
	dates := phraseDates{
		phrases: map[string]DateMatch{"next month": {Text: "next month", Date: day("2024-07-01")}},
		ranges:  map[string][2]time.Time{"next month": {day("2024-07-01"), day("2024-07-31")}},
	}
	docs := mapDocs{}
	for _, l := range vectors.byQuery {
		for _, a := range l {
			docs[a.DocID] = a.DocID
		}
	}
	for _, a := range vectors.ranged["deadline"] {
		docs[a.DocID] = a.DocID
	}
	keywords := &zeroKeywords{}
	e := NewEngine(vectors, keywords, dates, docs, wordTokenizer{}, opts)

	assocs, err := e.fusedAssociations(context.Background(), []string{"trip to Japan", "deadline next month", "favorite food"}, e.Options())
	require.NoError(t, err)

	require.Equal(t, []int{8}, vectors.ks, "fused mode asks for twice the choices")
	require.Len(t, vectors.rangeLog, 1, "only the dated query issues a range query")
	assert.Equal(t, []string{"deadline"}, vectors.rangeLog[0].queries)
	assert.Equal(t, 8, vectors.rangeLog[0].k)

	counts := map[string]int{}
	for _, a := range assocs {
		counts[a.DocID[:len(a.DocID)-1]]++
	}
	assert.Equal(t, 4, counts["japan"])
	assert.Equal(t, 4, counts["food"])
	assert.Equal(t, 2, counts["deadline"])
	assert.Equal(t, 2, counts["ranged"])

	// Undated queries use the plain depth-adjusted conversion.
	adj := DepthAdjustment(list("japan"), 4, 0.5)
	assert.InDelta(t, Score(0.2*adj, 3, 0.01), assocs[0].Score, 1e-9)

	_, err = e.SearchFused(context.Background(), []string{"trip to Japan", "deadline next month", "favorite food"})
	require.NoError(t, err)
	assert.Equal(t, []string{"trip to Japan deadline next month favorite food"}, keywords.calls)
}

func TestEngine_FusedRangeBias(t *testing.T) {
	opts := DefaultOptions()
	opts.Choices = 2
	same := []Association{assoc("x", "2024-01-01", 0.3)}
	vectors := &fakeVectors{
		byQuery: map[string][]Association{"call yesterday": same},
		ranged:  map[string][]Association{"call": {assoc("y", "2024-01-01", 0.3)}},
	}
	dates := phraseDates{
		phrases: map[string]DateMatch{"yesterday": {Text: "yesterday", Date: day("2024-01-01")}},
		ranges:  map[string][2]time.Time{"yesterday": {day("2024-01-01"), day("2024-01-01")}},
	}
	e := NewEngine(vectors, nil, dates, mapDocs{}, wordTokenizer{}, opts)

	assocs, err := e.fusedAssociations(context.Background(), []string{"call yesterday"}, e.Options())
	require.NoError(t, err)
	require.Len(t, assocs, 2)
	assert.Greater(t, assocs[1].Score, assocs[0].Score, "range-constrained half is boosted")
	assert.InDelta(t, Score(0.3*1.5, 1, 0.01), assocs[0].Score, 1e-9)
	assert.InDelta(t, Score(0.3/1.5, 1, 0.01), assocs[1].Score, 1e-9)
}

func TestEngine_KeywordBonusAffectsAdmission(t *testing.T) {
	opts := DefaultOptions()
	opts.Choices = 2
	opts.KeywordWeight = 1
	opts.Assembler.MinValue = 100

	vectors := &fakeVectors{byQuery: map[string][]Association{
		"q": {assoc("weak", "2024-01-01", 0.9)},
	}}
	docs := mapDocs{"weak": "short"}

	without := NewEngine(vectors, constKeywords(0), nil, docs, wordTokenizer{}, opts)
	got, err := without.SearchFused(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Empty(t, got)

	with := NewEngine(vectors, constKeywords(2), nil, docs, wordTokenizer{}, opts)
	got, err = with.SearchFused(context.Background(), []string{"q"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Greater(t, got[0].Score, 1.0)
}

type failingVectors struct{}

func (failingVectors) Query(context.Context, []string, int) ([][]Association, error) {
	return nil, errors.New("index offline")
}

func (failingVectors) QueryRange(context.Context, []string, int, time.Time, time.Time) ([][]Association, error) {
	return nil, errors.New("index offline")
}

func TestEngine_Errors(t *testing.T) {
	e := NewEngine(failingVectors{}, nil, nil, mapDocs{}, wordTokenizer{}, DefaultOptions())

	_, err := e.Search(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoQueries)

	_, err = e.SearchFused(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestDeriveRange(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		language  string
		start     string
		end       string
		wantStart string
		wantEnd   string
	}{
		{name: "collapsed month widens", expr: "last month", language: "English", start: "2024-05-01", end: "2024-05-01", wantStart: "2024-04-01", wantEnd: "2024-05-31"},
		{name: "full month stays", expr: "last month", language: "English", start: "2024-05-01", end: "2024-05-31", wantStart: "2024-05-01", wantEnd: "2024-05-31"},
		{name: "collapsed week widens", expr: "last week", language: "English", start: "2024-05-10", end: "2024-05-10", wantStart: "2024-05-03", wantEnd: "2024-05-17"},
		{name: "localized month keyword", expr: "letzten Monat", language: "German", start: "2024-05-01", end: "2024-05-01", wantStart: "2024-04-01", wantEnd: "2024-05-31"},
		{name: "localized keyword ignored for other language", expr: "letzten Monat", language: "French", start: "2024-05-01", end: "2024-05-01", wantStart: "2024-05-01", wantEnd: "2024-05-01"},
		{name: "plain date untouched", expr: "yesterday", language: "English", start: "2024-05-01", end: "2024-05-01", wantStart: "2024-05-01", wantEnd: "2024-05-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := DeriveRange(tt.expr, day(tt.start), day(tt.end), tt.language)
			assert.Equal(t, tt.wantStart, s.Format(DateLayout))
			assert.Equal(t, tt.wantEnd, e.Format(DateLayout))
		})
	}
}

func TestLookupLanguageFallback(t *testing.T) {
	assert.Equal(t, "en", LookupLanguage("Klingon").Code)
	assert.Equal(t, "ru", LookupLanguage("Russian").Code)
}

func TestEngine_SetOptions(t *testing.T) {
	vectors := &fakeVectors{byQuery: map[string][]Association{
		"tea": {assoc("Note of tea", "2024-02-01", 0.01)},
	}}
	docs := mapDocs{"Note of tea": "green tea notes"}
	e := NewEngine(vectors, nil, nil, docs, wordTokenizer{}, DefaultOptions())

	got, err := e.Search(context.Background(), []string{"tea"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	opts := e.Options()
	opts.Assembler.TokenBudget = 1
	e.SetOptions(opts)
	assert.Equal(t, 1, e.Options().Assembler.TokenBudget)

	got, err = e.Search(context.Background(), []string{"tea"})
	require.NoError(t, err)
	assert.Empty(t, got, "three tokens no longer fit the budget")
}
