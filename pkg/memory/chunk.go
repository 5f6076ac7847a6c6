package memory

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in runes.
const DefaultChunkSize = 100

var chunkSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits documents into pieces of at most Size runes, preferring
// paragraph, then line, then word boundaries.
type Chunker struct {
	Size int
}

// NewChunker creates a chunker. A non-positive size uses DefaultChunkSize.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{Size: size}
}

// Split returns the non-empty chunks of text in document order.
func (c *Chunker) Split(text string) []string {
	var out []string
	for _, chunk := range c.split(text, chunkSeparators) {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	rest := []string(nil)
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text, c.Size)
	} else {
		pieces = strings.Split(text, sep)
	}

	var (
		chunks  []string
		pending []string
	)
	flush := func() {
		if len(pending) > 0 {
			chunks = append(chunks, c.merge(pending, sep)...)
			pending = pending[:0]
		}
	}
	for _, p := range pieces {
		if utf8.RuneCountInString(p) <= c.Size {
			pending = append(pending, p)
			continue
		}
		flush()
		if len(rest) == 0 {
			chunks = append(chunks, splitRunes(p, c.Size)...)
		} else {
			chunks = append(chunks, c.split(p, rest)...)
		}
	}
	flush()
	return chunks
}

// merge greedily joins pieces with sep while staying within the size.
func (c *Chunker) merge(pieces []string, sep string) []string {
	var (
		out     []string
		current strings.Builder
		length  int
	)
	sepLen := utf8.RuneCountInString(sep)
	for _, p := range pieces {
		pLen := utf8.RuneCountInString(p)
		if length > 0 && length+sepLen+pLen > c.Size {
			out = append(out, current.String())
			current.Reset()
			length = 0
		}
		if length > 0 {
			current.WriteString(sep)
			length += sepLen
		}
		current.WriteString(p)
		length += pLen
	}
	if length > 0 {
		out = append(out, current.String())
	}
	return out
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
