package memory

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

// BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// KeywordDoc is one corpus entry for the keyword index.
type KeywordDoc struct {
	ID      string
	Content string
}

// Report summarizes an index rebuild.
type Report struct {
	Documents int           `json:"documents"`
	Terms     int           `json:"terms"`
	Duration  time.Duration `json:"duration"`
}

// keywordSnapshot is an immutable BM25 corpus.
type keywordSnapshot struct {
	termFreqs  map[string]map[string]int
	docLengths map[string]int
	docFreq    map[string]int
	totalDocs  int
	avgDL      float64
}

// KeywordIndex scores documents with BM25. Rebuild swaps in a new corpus
// atomically, so Score never observes a partially built index.
type KeywordIndex struct {
	k1        float64
	b         float64
	stopWords map[string]struct{}
	snap      atomic.Pointer[keywordSnapshot]
}

// NewKeywordIndex creates an empty index with the given parameters.
func NewKeywordIndex(k1, b float64) *KeywordIndex {
	idx := &KeywordIndex{
		k1:        k1,
		b:         b,
		stopWords: defaultStopWords(),
	}
	idx.snap.Store(&keywordSnapshot{
		termFreqs:  map[string]map[string]int{},
		docLengths: map[string]int{},
		docFreq:    map[string]int{},
	})
	return idx
}

// Rebuild replaces the corpus with docs.
func (idx *KeywordIndex) Rebuild(ctx context.Context, docs []KeywordDoc) (Report, error) {
	start := time.Now()
	snap := &keywordSnapshot{
		termFreqs:  make(map[string]map[string]int, len(docs)),
		docLengths: make(map[string]int, len(docs)),
		docFreq:    make(map[string]int),
	}

	totalLen := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if old, ok := snap.termFreqs[d.ID]; ok {
			for term := range old {
				snap.docFreq[term]--
			}
			totalLen -= snap.docLengths[d.ID]
			snap.totalDocs--
		}
		tokens := idx.tokenize(d.Content)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		for term := range freqs {
			snap.docFreq[term]++
		}
		snap.termFreqs[d.ID] = freqs
		snap.docLengths[d.ID] = len(tokens)
		snap.totalDocs++
		totalLen += len(tokens)
	}
	if snap.totalDocs > 0 {
		snap.avgDL = float64(totalLen) / float64(snap.totalDocs)
	}

	idx.snap.Store(snap)
	return Report{
		Documents: snap.totalDocs,
		Terms:     len(snap.docFreq),
		Duration:  time.Since(start),
	}, nil
}

// Len returns the number of indexed documents.
func (idx *KeywordIndex) Len() int {
	return idx.snap.Load().totalDocs
}

// Score returns, for each id, its BM25 score against the distinct terms of
// query divided by the number of distinct terms. Unknown ids score zero.
func (idx *KeywordIndex) Score(ctx context.Context, query string, ids []string) ([]float64, error) {
	snap := idx.snap.Load()
	scores := make([]float64, len(ids))

	terms := idx.distinctTerms(query)
	if len(terms) == 0 || snap.totalDocs == 0 {
		return scores, nil
	}

	for i, id := range ids {
		if _, ok := snap.termFreqs[id]; !ok {
			continue
		}
		scores[i] = idx.scoreDoc(snap, id, terms) / float64(len(terms))
	}
	return scores, nil
}

func (idx *KeywordIndex) distinctTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range idx.tokenize(query) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

func (idx *KeywordIndex) scoreDoc(snap *keywordSnapshot, docID string, terms []string) float64 {
	docLen := float64(snap.docLengths[docID])
	freqs := snap.termFreqs[docID]
	score := 0.0

	for _, term := range terms {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}

		// IDF: log((N - n + 0.5) / (n + 0.5) + 1)
		n := float64(snap.docFreq[term])
		idf := math.Log((float64(snap.totalDocs)-n+0.5)/(n+0.5) + 1.0)

		numerator := tf * (idx.k1 + 1)
		denominator := tf + idx.k1*(1-idx.b+idx.b*docLen/snap.avgDL)
		score += idf * numerator / denominator
	}
	return score
}

// tokenize lowercases text and keeps alphabetic words that are not stop words.
func (idx *KeywordIndex) tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := make([]string, 0, len(text)/4)

	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !isAlpha(word) {
			continue
		}
		if _, isStop := idx.stopWords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func isAlpha(word string) bool {
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func defaultStopWords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "shall", "can", "need", "dare", "ought",
		"used", "to", "of", "in", "for", "on", "with", "at", "by", "from",
		"as", "into", "through", "during", "before", "after", "above", "below",
		"between", "out", "off", "over", "under", "again", "further", "then",
		"once", "and", "but", "or", "nor", "not", "so", "yet", "both",
		"either", "neither", "each", "every", "all", "any", "few", "more",
		"most", "other", "some", "such", "no", "only", "own", "same", "than",
		"too", "very", "just", "because", "if", "when", "where", "how", "what",
		"which", "who", "whom", "this", "that", "these", "those", "i", "me",
		"my", "myself", "we", "our", "ours", "ourselves", "you", "your",
		"yours", "yourself", "yourselves", "he", "him", "his", "himself",
		"she", "her", "hers", "herself", "it", "its", "itself", "they",
		"them", "their", "theirs", "themselves", "am", "about", "against",
		"up", "down", "here", "there", "why", "s", "t", "don", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
