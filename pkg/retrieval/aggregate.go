package retrieval

import "sort"

// ScoreMap holds the cumulative score per document.
type ScoreMap map[string]float64

// TimeMap holds the first-seen document time per document.
type TimeMap map[string]string

// Aggregation is the result of folding one turn's associations. Scores and
// Times always share the same key set.
type Aggregation struct {
	Scores ScoreMap
	Times  TimeMap
	order  []string
}

// Aggregate sums scores per document and records the first time seen.
func Aggregate(assocs []Association) *Aggregation {
	agg := &Aggregation{
		Scores: make(ScoreMap, len(assocs)),
		Times:  make(TimeMap, len(assocs)),
		order:  make([]string, 0, len(assocs)),
	}
	for _, a := range assocs {
		if _, seen := agg.Scores[a.DocID]; !seen {
			agg.order = append(agg.order, a.DocID)
			agg.Times[a.DocID] = a.DocTime
		}
		agg.Scores[a.DocID] += a.Score
	}
	return agg
}

// Len returns the number of distinct documents.
func (a *Aggregation) Len() int { return len(a.order) }

// Ranked returns documents by descending score. Equal scores keep the order
// in which documents were first seen.
func (a *Aggregation) Ranked() []Ranked {
	ranked := make([]Ranked, len(a.order))
	for i, id := range a.order {
		ranked[i] = Ranked{DocID: id, Score: a.Scores[id]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
