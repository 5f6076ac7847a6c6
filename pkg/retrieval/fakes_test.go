package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

// fixedTokenizer reports a preset count per body.
type fixedTokenizer map[string]int

func (f fixedTokenizer) Count(text string) int { return f[text] }

type mapDocs map[string]string

func (m mapDocs) Document(_ context.Context, id string) (string, bool, error) {
	body, ok := m[id]
	return body, ok, nil
}

type rangeCall struct {
	queries    []string
	k          int
	start, end time.Time
}

type fakeVectors struct {
	mu       sync.Mutex
	byQuery  map[string][]Association
	ranged   map[string][]Association
	queries  [][]string
	ks       []int
	rangeLog []rangeCall
}

func (f *fakeVectors) Query(_ context.Context, queries []string, k int) ([][]Association, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, append([]string(nil), queries...))
	f.ks = append(f.ks, k)
	out := make([][]Association, len(queries))
	for i, q := range queries {
		out[i] = head(f.byQuery[q], k)
	}
	return out, nil
}

func (f *fakeVectors) QueryRange(_ context.Context, queries []string, k int, start, end time.Time) ([][]Association, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeLog = append(f.rangeLog, rangeCall{queries: append([]string(nil), queries...), k: k, start: start, end: end})
	out := make([][]Association, len(queries))
	for i, q := range queries {
		out[i] = head(f.ranged[q], k)
	}
	return out, nil
}

type zeroKeywords struct{ calls []string }

func (z *zeroKeywords) Score(_ context.Context, query string, ids []string) ([]float64, error) {
	z.calls = append(z.calls, query)
	return make([]float64, len(ids)), nil
}

type constKeywords float64

func (c constKeywords) Score(_ context.Context, _ string, ids []string) ([]float64, error) {
	out := make([]float64, len(ids))
	for i := range out {
		out[i] = float64(c)
	}
	return out, nil
}

// phraseDates recognizes fixed phrases.
type phraseDates struct {
	phrases map[string]DateMatch
	ranges  map[string][2]time.Time
}

func (p phraseDates) Extract(text, _ string) ([]DateMatch, error) {
	var out []DateMatch
	for phrase, m := range p.phrases {
		if strings.Contains(text, phrase) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p phraseDates) Range(expr, _ string) (time.Time, time.Time, error) {
	r := p.ranges[expr]
	return r[0], r[1], nil
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func assoc(id, docTime string, distance float64) Association {
	return Association{DocID: id, DocTime: docTime, Distance: distance}
}
