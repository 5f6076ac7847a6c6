package agent

import (
	"regexp"
	"strings"
	"sync"
)

// Tags of the generator protocol.
const (
	TagThink  = "THINK"
	TagSearch = "SEARCH"
	TagReply  = "REPLY"
)

// StopTokens bound each generation cycle.
var StopTokens = []string{"\n###", "</SEARCH>", "</REPLY>"}

// Open returns the opening form of tag.
func Open(tag string) string { return "<" + tag + ">" }

// Close returns the closing form of tag.
func Close(tag string) string { return "</" + tag + ">" }

// TagScanner accumulates streamed text and reports the first opening tag
// among the watched ones. Each Feed only scans the new text plus enough of
// the previous text to catch a tag split across fragments.
type TagScanner struct {
	opens   []string
	overlap int
	buf     strings.Builder

	found string
	index int
}

// NewTagScanner watches the given tags.
func NewTagScanner(tags ...string) *TagScanner {
	s := &TagScanner{index: -1}
	for _, t := range tags {
		open := Open(t)
		s.opens = append(s.opens, open)
		if len(open)-1 > s.overlap {
			s.overlap = len(open) - 1
		}
	}
	return s
}

// Feed appends fragment and returns the first tag seen so far, if any.
func (s *TagScanner) Feed(fragment string) (string, bool) {
	prev := s.buf.Len()
	s.buf.WriteString(fragment)
	if s.found != "" {
		return s.found, true
	}

	from := prev - s.overlap
	if from < 0 {
		from = 0
	}
	window := s.buf.String()[from:]

	best, bestAt := "", -1
	for _, open := range s.opens {
		if at := strings.Index(window, open); at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = open, at
		}
	}
	if bestAt < 0 {
		return "", false
	}
	s.index = from + bestAt
	s.found = best[1 : len(best)-1]
	return s.found, true
}

// Text returns everything fed so far.
func (s *TagScanner) Text() string { return s.buf.String() }

// Found returns the first tag and its byte offset in Text.
func (s *TagScanner) Found() (tag string, index int, ok bool) {
	return s.found, s.index, s.found != ""
}

// After returns the text following the found opening tag.
func (s *TagScanner) After() string {
	if s.found == "" {
		return ""
	}
	return s.Text()[s.index+len(Open(s.found)):]
}

var tagPatterns sync.Map

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?s)` + regexp.QuoteMeta(Open(tag)) + `(.*?)` + regexp.QuoteMeta(Close(tag)))
	tagPatterns.Store(tag, re)
	return re
}

// ExtractTagged returns the trimmed contents of every complete tag block in
// text, joined by newlines, or "" if there is none.
func ExtractTagged(text, tag string) string {
	matches := tagPattern(tag).FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = strings.TrimSpace(m[1])
	}
	return strings.Join(parts, "\n")
}

// ArrangeQueries splits a search block into at most max queries, one per
// line, stopping at the first blank line.
func ArrangeQueries(block string, max int) []string {
	var queries []string
	for _, line := range strings.Split(block, "\n") {
		q := strings.TrimSpace(line)
		if q == "" || len(queries) >= max {
			break
		}
		queries = append(queries, q)
	}
	return queries
}

// searchBlock returns the query block following an opening SEARCH tag.
func searchBlock(after string) string {
	if i := strings.Index(after, Close(TagSearch)); i >= 0 {
		after = after[:i]
	}
	return strings.TrimSpace(after)
}

// replyPrefix returns the reply text already generated after the REPLY tag.
func replyPrefix(after string) string {
	if i := strings.Index(after, Close(TagReply)); i >= 0 {
		return after[:i]
	}
	return after
}
