package retrieval

import (
	"fmt"
	"math"
	"time"
)

// Score converts a raw vector distance into a relevance score. n is the
// number of queries issued in the turn; larger batches are damped so that
// batch size alone does not inflate aggregate scores.
func Score(distance float64, n int, epsilon float64) float64 {
	if n < 1 {
		n = 1
	}
	return (1/(distance+epsilon) - 1) / math.Sqrt(float64(n))
}

// DecayWeights returns per-candidate time weights for the given day
// distances. The bandwidth adapts to the observed spread and the weights are
// normalized to a mean of exactly one.
func DecayWeights(days []int) []float64 {
	if len(days) == 0 {
		return nil
	}

	var sum float64
	for _, d := range days {
		sum += 1 / math.Pow(1+float64(d), 2)
	}
	k := 1 / math.Sqrt(sum/float64(len(days)))

	weights := make([]float64, len(days))
	var total float64
	for i, d := range days {
		weights[i] = 1 / math.Pow(4*k+float64(d), 2)
		total += weights[i]
	}
	mean := total / float64(len(days))
	for i := range weights {
		weights[i] /= mean
	}
	return weights
}

// DepthAdjustment returns the factor by which distances of a batch are
// inflated when the candidates beyond the first n still match strongly.
// assocs must be ordered by ascending distance. The factor is exactly 1 when
// there are no spare candidates, and when the last distance is zero or
// negative, where the formula has no finite value.
func DepthAdjustment(assocs []Association, n int, rectify float64) float64 {
	if n <= 0 || len(assocs) <= n {
		return 1
	}
	spare := len(assocs) - n
	last := assocs[len(assocs)-1].Distance
	if last <= 0 {
		return 1
	}
	return (1/last-1)*(rectify*float64(spare)/float64(n)) + 1
}

// ParseDocTime parses a canonical document time.
func ParseDocTime(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDocTime, s)
	}
	return t, nil
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// applyDecay multiplies the scores of assocs by their time weights relative
// to date.
func applyDecay(assocs []Association, date time.Time) error {
	days := make([]int, len(assocs))
	for i, a := range assocs {
		t, err := ParseDocTime(a.DocTime)
		if err != nil {
			return err
		}
		days[i] = DaysBetween(t, date)
	}
	for i, w := range DecayWeights(days) {
		assocs[i].Score *= w
	}
	return nil
}
