package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/llm"
	"github.com/necyber/elephie/pkg/retrieval"
	"github.com/necyber/elephie/pkg/storage"
)

const (
	summaryPrompt     = `You are the "ASSISTANT" and your task is to take a detailed note about {NICK_NAME} from a conversation with you. You should focus on observations on {NICK_NAME}'s situation and special things mentioned by them but you don't need to include assistant's (your own) words unless addressed by {NICK_NAME}. Don't write a title and don't write anything else before or after the note.`
	summaryNotePrompt = `Your task is to write a comprehensive summary about the Note provided by the user {NICK_NAME}. The summary should be written as a bullet list of self-contained items without a title. Don't write anything else before or after the summary.`
)

// maxHeaderLevel is the deepest markdown header that starts a section.
const maxHeaderLevel = 3

// DigestConfig configures how files become documents.
type DigestConfig struct {
	NickName  string
	Summarize bool
	MaxTokens int
}

// Digester converts source files into documents, optionally summarizing
// them with the generator.
type Digester struct {
	cfg DigestConfig
	gen llm.Generator
}

// NewDigester creates a digester. gen may be nil when summaries are off.
func NewDigester(cfg DigestConfig, gen llm.Generator) *Digester {
	if gen == nil {
		cfg.Summarize = false
	}
	return &Digester{cfg: cfg, gen: gen}
}

// TitleFromPath returns the document title stored under path.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(base, ";", ":")
}

// ChatDate returns the date part of a conversation title.
func ChatDate(title string) (string, bool) {
	if !strings.HasPrefix(title, agent.ConversationPrefix) {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(title, agent.ConversationPrefix))
	if len(rest) < len(retrieval.DateLayout) {
		return "", false
	}
	date := rest[:len(retrieval.DateLayout)]
	if _, err := time.Parse(retrieval.DateLayout, date); err != nil {
		return "", false
	}
	return date, true
}

// Chat turns a saved transcript into one document.
func (d *Digester) Chat(ctx context.Context, title, content string) (*storage.Document, error) {
	date, ok := ChatDate(title)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnformatted, title)
	}

	tag := ""
	if strings.HasPrefix(content, "#") {
		first, rest, _ := strings.Cut(content, "\n")
		tag = strings.TrimSpace(strings.TrimLeft(first, "#"))
		content = rest
	}
	body := strings.TrimSpace(content)
	if body == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, title)
	}

	if d.cfg.Summarize {
		summary, err := d.summarize(ctx, summaryPrompt, fmt.Sprintf("---%s---\n%s", title, body))
		if err != nil {
			return nil, err
		}
		body = summary
	}

	text := title + "\n" + body
	if tag != "" {
		text += "\nOpinion: " + tag
	}
	return &storage.Document{
		ID:      title,
		Name:    title,
		Content: text,
		DocTime: date,
		Tag:     tag,
		Source:  string(KindChat),
	}, nil
}

// Note splits a markdown note into one document per header section.
// Sections are dated by modified.
func (d *Digester) Note(ctx context.Context, title, content string, modified time.Time) ([]*storage.Document, error) {
	sections := SplitMarkdown(content)
	docs := make([]*storage.Document, 0, len(sections))
	for _, s := range sections {
		headers := s.Path(title)
		body := NormalizeHeaders(s.Content, len(s.Headers))
		if d.cfg.Summarize {
			summary, err := d.summarize(ctx, summaryNotePrompt,
				fmt.Sprintf("---Begin Note---\nHeaders: %s\n%s\n---End Note---", headers, body))
			if err != nil {
				return docs, fmt.Errorf("ingest: summarize %s: %w", headers, err)
			}
			body = summary
		}
		docs = append(docs, &storage.Document{
			ID:      agent.NotePrefix + headers,
			Name:    title,
			Content: body,
			DocTime: modified.Format(retrieval.DateLayout),
			Source:  string(KindNote),
			Metadata: map[string]string{
				"headers": headers,
			},
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, title)
	}
	return docs, nil
}

func (d *Digester) summarize(ctx context.Context, prompt, text string) (string, error) {
	summary, err := d.gen.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.ReplaceAll(prompt, "{NICK_NAME}", d.cfg.NickName)},
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens: d.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("ingest: summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("ingest: summarize: %w", llm.ErrEmptyResponse)
	}
	return summary, nil
}

// Section is a run of note content under a chain of headers.
type Section struct {
	Headers []string
	Content string
}

// Path joins the note title with the section headers.
func (s Section) Path(title string) string {
	return strings.Join(append([]string{title}, s.Headers...), " > ")
}

// SplitMarkdown splits content on level one to three headers. A header
// closes every open header of the same or deeper level. Header lines are
// dropped from the content, fenced code is never split, and sections
// without content are skipped.
func SplitMarkdown(content string) []Section {
	var (
		sections []Section
		headers  [maxHeaderLevel]string
		lines    []string
		fenced   bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		lines = lines[:0]
		if text == "" {
			return
		}
		var hs []string
		for _, h := range headers {
			if h != "" {
				hs = append(hs, h)
			}
		}
		sections = append(sections, Section{Headers: hs, Content: text})
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
		}
		if !fenced {
			if level, text, ok := headerLine(trimmed); ok && level <= maxHeaderLevel {
				flush()
				headers[level-1] = text
				for i := level; i < maxHeaderLevel; i++ {
					headers[i] = ""
				}
				continue
			}
		}
		lines = append(lines, strings.TrimRight(line, " \t\r"))
	}
	flush()
	return sections
}

// headerLine parses an ATX header.
func headerLine(line string) (level int, text string, ok bool) {
	level = len(line) - len(strings.TrimLeft(line, "#"))
	if level == 0 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(rest), true
}

// NormalizeHeaders shifts the headers left in a section nested depth levels
// deep so the section reads as a standalone page.
func NormalizeHeaders(content string, depth int) string {
	lines := strings.Split(content, "\n")
	fenced := false
	for i, line := range lines {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
		}
		level, text, ok := headerLine(line)
		if fenced || !ok {
			continue
		}
		level = max(level-depth+1, 1)
		lines[i] = strings.Repeat("#", level) + " " + text
	}
	return strings.Join(lines, "\n")
}
