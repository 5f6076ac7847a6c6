// Package dateparse finds natural-language date expressions in search
// queries and resolves them against the current time, preferring past
// interpretations.
package dateparse

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/br"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"

	"github.com/necyber/elephie/pkg/retrieval"
)

// ErrNoDate is returned by Range when expr holds no recognizable date.
var ErrNoDate = errors.New("dateparse: no date expression")

type granularity int

const (
	granDay granularity = iota
	granWeek
	granMonth
	granYear
)

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec`

var (
	relativePeriod = regexp.MustCompile(`(?i)\b(last|this|next|past|previous|current)\s+(week|month|year)\b`)
	// A bare month name is too ambiguous ("may"), so it needs a preposition
	// or a year.
	namedMonth = regexp.MustCompile(`(?i)\b(?:in|during|since)\s+(` + monthNames + `)(?:\s+(\d{4}))?\b|\b(` + monthNames + `)\s+(\d{4})\b`)
	bareYear   = regexp.MustCompile(`(?i)\bin\s+(\d{4})\b`)
)

var monthIndex = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// Extractor implements retrieval.DateExtractor on top of olebedev/when.
type Extractor struct {
	now     func() time.Time
	parsers map[string]*when.Parser
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the reference clock.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an extractor with English rules for every language plus the
// native rule set where one exists.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		now:     time.Now,
		parsers: make(map[string]*when.Parser),
	}
	for _, o := range opts {
		o(e)
	}

	english := when.New(nil)
	english.Add(en.All...)
	english.Add(common.All...)
	e.parsers["en"] = english

	russian := when.New(nil)
	russian.Add(en.All...)
	russian.Add(ru.All...)
	russian.Add(common.All...)
	e.parsers["ru"] = russian

	portuguese := when.New(nil)
	portuguese.Add(en.All...)
	portuguese.Add(br.All...)
	portuguese.Add(common.All...)
	e.parsers["pt"] = portuguese

	return e
}

func (e *Extractor) parser(language string) *when.Parser {
	if p, ok := e.parsers[retrieval.LookupLanguage(language).Code]; ok {
		return p
	}
	return e.parsers["en"]
}

// Extract returns every date expression in text, in text order. Week,
// month and year phrases win over a rule match that overlaps them.
func (e *Extractor) Extract(text, language string) ([]retrieval.DateMatch, error) {
	base := e.now()
	found := periodMatches(text, base)
	periods := append([]located(nil), found...)

	p := e.parser(language)
	for offset := 0; offset < len(text); {
		r, err := p.Parse(text[offset:], base)
		if err != nil {
			return nil, fmt.Errorf("dateparse: %w", err)
		}
		if r == nil || r.Text == "" {
			break
		}
		m := located{lo: offset + r.Index, hi: offset + r.Index + len(r.Text)}
		offset = m.hi
		if overlapsAny(m, periods) {
			continue
		}
		m.match = retrieval.DateMatch{Text: strings.TrimSpace(r.Text), Date: preferPast(r, base)}
		found = append(found, m)
	}

	if len(found) == 0 {
		return nil, nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].lo < found[j].lo })
	out := make([]retrieval.DateMatch, len(found))
	for i, m := range found {
		out[i] = m.match
	}
	return out, nil
}

// Range resolves expr to its earliest and latest interpretation: the first
// and last day of a named week, month or year, or a single day otherwise.
func (e *Extractor) Range(expr, language string) (time.Time, time.Time, error) {
	base := e.now()
	if start, end, ok := periodRange(expr, base); ok {
		return start, end, nil
	}
	r, err := e.parser(language).Parse(expr, base)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("dateparse: %w", err)
	}
	if r == nil {
		return time.Time{}, time.Time{}, ErrNoDate
	}
	d := truncate(preferPast(r, base))
	return d, d, nil
}

// located is a match with its byte span in the source text.
type located struct {
	lo, hi int
	match  retrieval.DateMatch
}

func overlapsAny(m located, others []located) bool {
	for _, o := range others {
		if m.lo < o.hi && o.lo < m.hi {
			return true
		}
	}
	return false
}

// periodMatches recognizes week, month and year level phrases, which the
// rule sets resolve to a single instant. The result is in text order.
func periodMatches(text string, base time.Time) []located {
	var spans []located
	for _, re := range []*regexp.Regexp{relativePeriod, namedMonth, bareYear} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, located{lo: loc[0], hi: loc[1]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	var out []located
	for _, sp := range spans {
		if overlapsAny(sp, out) {
			continue
		}
		expr := strings.TrimSpace(text[sp.lo:sp.hi])
		start, _, ok := periodRange(expr, base)
		if !ok {
			continue
		}
		sp.match = retrieval.DateMatch{Text: expr, Date: start}
		out = append(out, sp)
	}
	return out
}

func periodRange(expr string, base time.Time) (time.Time, time.Time, bool) {
	base = truncate(base)

	if m := relativePeriod.FindStringSubmatch(expr); m != nil {
		offset := 0
		switch strings.ToLower(m[1]) {
		case "last", "past", "previous":
			offset = -1
		case "next":
			offset = 1
		}
		switch strings.ToLower(m[2]) {
		case "week":
			return bounds(granWeek, base.AddDate(0, 0, 7*offset))
		case "month":
			first := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, base.Location())
			return bounds(granMonth, first.AddDate(0, offset, 0))
		case "year":
			return bounds(granYear, base.AddDate(offset, 0, 0))
		}
	}

	if m := namedMonth.FindStringSubmatch(expr); m != nil {
		name, yearText := m[1], m[2]
		if name == "" {
			name, yearText = m[3], m[4]
		}
		month := monthIndex[strings.ToLower(name)]
		year := base.Year()
		if yearText != "" {
			year, _ = strconv.Atoi(yearText)
		} else if month > base.Month() {
			year--
		}
		return bounds(granMonth, time.Date(year, month, 1, 0, 0, 0, 0, base.Location()))
	}

	if m := bareYear.FindStringSubmatch(expr); m != nil {
		year, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		return bounds(granYear, time.Date(year, 1, 1, 0, 0, 0, 0, base.Location()))
	}

	return time.Time{}, time.Time{}, false
}

func bounds(g granularity, t time.Time) (time.Time, time.Time, bool) {
	loc := t.Location()
	switch g {
	case granWeek:
		offset := (int(t.Weekday()) + 6) % 7
		start := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 6), true
	case granMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, -1), true
	case granYear:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return start, time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, loc), true
	default:
		d := truncate(t)
		return d, d, true
	}
}

var futureMarkers = []string{"next", "tomorrow", "in ", "coming", "upcoming", "later"}

// preferPast moves a bare weekday or date that resolved into the future back
// by one period, unless the expression points forward explicitly.
func preferPast(r *when.Result, base time.Time) time.Time {
	t := r.Time
	if !t.After(base) {
		return t
	}
	lower := strings.ToLower(r.Text)
	for _, marker := range futureMarkers {
		if strings.Contains(lower, marker) {
			return t
		}
	}
	if t.Sub(base) <= 7*24*time.Hour {
		return t.AddDate(0, 0, -7)
	}
	return t.AddDate(-1, 0, 0)
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
