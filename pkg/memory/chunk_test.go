package memory

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestChunker_Split(t *testing.T) {
	c := NewChunker(20)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"short", "hello", []string{"hello"}},
		{"paragraphs", "first para\n\nsecond para", []string{"first para", "second para"}},
		{"lines merge", "a\nb\nc", []string{"a\nb\nc"}},
		{"words", "one two three four five six", []string{"one two three four", "five six"}},
		{"long word", strings.Repeat("x", 45), []string{strings.Repeat("x", 20), strings.Repeat("x", 20), strings.Repeat("x", 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Split(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestChunker_DefaultSize(t *testing.T) {
	if NewChunker(0).Size != DefaultChunkSize {
		t.Errorf("expected default size %d", DefaultChunkSize)
	}
}

func TestChunker_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 64).Draw(t, "size")
		words := rapid.SliceOf(rapid.StringMatching(`[a-zé]{1,30}`)).Draw(t, "words")
		seps := rapid.SliceOfN(rapid.SampledFrom([]string{" ", "\n", "\n\n"}), len(words), len(words)).Draw(t, "seps")

		var sb strings.Builder
		for i, w := range words {
			sb.WriteString(w)
			sb.WriteString(seps[i])
		}
		text := sb.String()

		chunks := NewChunker(size).Split(text)
		var letters strings.Builder
		for _, ch := range chunks {
			if n := utf8.RuneCountInString(ch); n > size || n == 0 {
				t.Fatalf("chunk %q has %d runes, limit %d", ch, n, size)
			}
			letters.WriteString(strings.Join(strings.Fields(ch), ""))
		}
		if letters.String() != strings.Join(words, "") {
			t.Fatalf("chunks lost or reordered text: %q", chunks)
		}
	})
}
