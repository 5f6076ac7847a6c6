package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/necyber/elephie/pkg/llm"
)

// summarizer answers Complete with a fixed reply and records requests.
type summarizer struct {
	reply    string
	err      error
	requests []llm.Request
}

func (s *summarizer) Stream(context.Context, llm.Request) (llm.Stream, error) {
	return nil, errors.New("not supported")
}

func (s *summarizer) Complete(_ context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "Conversation on 2024-06-12 09:30:00", TitleFromPath("/chat/Conversation on 2024-06-12 09;30;00.md"))
	assert.Equal(t, "Garden", TitleFromPath("notes/Garden.md"))
}

func TestChatDate(t *testing.T) {
	date, ok := ChatDate("Conversation on 2024-06-12 09:30:00")
	assert.True(t, ok)
	assert.Equal(t, "2024-06-12", date)

	for _, title := range []string{"Garden", "Conversation on", "Conversation on someday", "Conversation on 2024-13-45 10:00:00"} {
		_, ok := ChatDate(title)
		assert.False(t, ok, title)
	}
}

func TestDigester_Chat(t *testing.T) {
	d := NewDigester(DigestConfig{NickName: "Sam"}, nil)
	doc, err := d.Chat(context.Background(), "Conversation on 2024-06-12 09:30:00", "# gardening\nUSER: I planted roses\nASSISTANT: Nice!\n")
	require.NoError(t, err)

	assert.Equal(t, "Conversation on 2024-06-12 09:30:00", doc.ID)
	assert.Equal(t, "2024-06-12", doc.DocTime)
	assert.Equal(t, "gardening", doc.Tag)
	assert.Equal(t, "chat", doc.Source)
	assert.Equal(t, "Conversation on 2024-06-12 09:30:00\nUSER: I planted roses\nASSISTANT: Nice!\nOpinion: gardening", doc.Content)
}

func TestDigester_ChatErrors(t *testing.T) {
	d := NewDigester(DigestConfig{}, nil)
	_, err := d.Chat(context.Background(), "Shopping list", "eggs")
	assert.ErrorIs(t, err, ErrUnformatted)

	_, err = d.Chat(context.Background(), "Conversation on 2024-06-12 09:30:00", "# only a tag\n")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDigester_ChatSummary(t *testing.T) {
	gen := &summarizer{reply: "  Sam planted roses.  "}
	d := NewDigester(DigestConfig{NickName: "Sam", Summarize: true, MaxTokens: 300}, gen)

	doc, err := d.Chat(context.Background(), "Conversation on 2024-06-12 09:30:00", "USER: I planted roses\n")
	require.NoError(t, err)
	assert.Equal(t, "Conversation on 2024-06-12 09:30:00\nSam planted roses.", doc.Content)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, 300, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Content, "take a detailed note about Sam")
	assert.Equal(t, "---Conversation on 2024-06-12 09:30:00---\nUSER: I planted roses", req.Messages[1].Content)
}

func TestDigester_SummaryFailure(t *testing.T) {
	d := NewDigester(DigestConfig{Summarize: true}, &summarizer{reply: "  "})
	_, err := d.Chat(context.Background(), "Conversation on 2024-06-12 09:30:00", "USER: hi")
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestSplitMarkdown(t *testing.T) {
	content := strings.Join([]string{
		"intro line",
		"# Roses",
		"prune in march",
		"## Pests",
		"aphids",
		"#### Deep detail",
		"ladybugs",
		"# Tulips",
		"## Bulbs",
		"### Storage",
		"cool and dry",
		"## Empty",
		"```sh",
		"# not a header",
		"```",
	}, "\n")

	got := SplitMarkdown(content)
	require.Len(t, got, 5)
	assert.Equal(t, Section{Content: "intro line"}, got[0])
	assert.Equal(t, Section{Headers: []string{"Roses"}, Content: "prune in march"}, got[1])
	assert.Equal(t, Section{Headers: []string{"Roses", "Pests"}, Content: "aphids\n#### Deep detail\nladybugs"}, got[2])
	assert.Equal(t, Section{Headers: []string{"Tulips", "Bulbs", "Storage"}, Content: "cool and dry"}, got[3])
	assert.Equal(t, Section{Headers: []string{"Tulips", "Empty"}, Content: "```sh\n# not a header\n```"}, got[4])
	assert.Equal(t, "Garden > Tulips > Bulbs > Storage", got[3].Path("Garden"))
}

func TestSplitMarkdown_NotHeaders(t *testing.T) {
	got := SplitMarkdown("#hashtag\nplain")
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Headers)
	assert.Equal(t, "#hashtag\nplain", got[0].Content)
}

func TestSplitMarkdown_PreservesText(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,6}`)).Draw(t, "words")
		var lines []string
		for _, w := range words {
			if rapid.Bool().Draw(t, "header") {
				lines = append(lines, strings.Repeat("#", rapid.IntRange(1, 3).Draw(t, "level"))+" "+w)
			} else {
				lines = append(lines, w)
			}
		}

		var body []string
		for _, s := range SplitMarkdown(strings.Join(lines, "\n")) {
			if s.Content == "" {
				t.Fatalf("empty section %v", s.Headers)
			}
			body = append(body, strings.Split(s.Content, "\n")...)
		}
		var want []string
		for _, l := range lines {
			if !strings.HasPrefix(l, "#") {
				want = append(want, l)
			}
		}
		if strings.Join(body, "\n") != strings.Join(want, "\n") {
			t.Fatalf("content lines %q, want %q", body, want)
		}
	})
}

func TestNormalizeHeaders(t *testing.T) {
	assert.Equal(t, "## Deep\ntext", NormalizeHeaders("#### Deep\ntext", 3))
	assert.Equal(t, "### Deep", NormalizeHeaders("#### Deep", 2))
	assert.Equal(t, "# Top", NormalizeHeaders("# Top", 3))
	assert.Equal(t, "```\n#### keep\n```", NormalizeHeaders("```\n#### keep\n```", 3))
}

func TestDigester_Note(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDigester(DigestConfig{}, nil)

	docs, err := d.Note(context.Background(), "Garden", "# Roses\nprune\n## Pests\naphids\n#### Ladybugs\nhelp", modified)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "Note of Garden > Roses", docs[0].ID)
	assert.Equal(t, "Garden", docs[0].Name)
	assert.Equal(t, "2024-03-01", docs[0].DocTime)
	assert.Equal(t, "note", docs[0].Source)
	assert.Equal(t, "Note of Garden > Roses > Pests", docs[1].ID)
	assert.Equal(t, "aphids\n### Ladybugs\nhelp", docs[1].Content)

	_, err = d.Note(context.Background(), "Blank", "# Only\n## Headers\n", modified)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDigester_NoteSummary(t *testing.T) {
	gen := &summarizer{reply: "- prune in march"}
	d := NewDigester(DigestConfig{NickName: "Sam", Summarize: true}, gen)

	docs, err := d.Note(context.Background(), "Garden", "# Roses\nprune", time.Now())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "- prune in march", docs[0].Content)
	assert.Equal(t, "---Begin Note---\nHeaders: Garden > Roses\nprune\n---End Note---", gen.requests[0].Messages[1].Content)
}
