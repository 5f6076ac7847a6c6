package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/necyber/elephie/pkg/llm"
)

// SaveDirective in the last user message saves the conversation instead of
// answering it.
const SaveDirective = "*SAVE*"

// HasSaveDirective reports whether msg asks for the conversation to be saved.
func HasSaveDirective(msg string) bool {
	return strings.Contains(msg, SaveDirective)
}

// Transcript is a saved conversation.
type Transcript struct {
	Title     string
	Tag       string
	StartTime time.Time
	Body      string
}

// NewTranscript formats messages, excluding the final directive message.
// Assistant replies lose their citation block.
func NewTranscript(start time.Time, messages []llm.Message) Transcript {
	t := Transcript{
		Title:     ConversationPrefix + " " + start.Format(TimeLayout),
		StartTime: start,
	}
	if len(messages) == 0 {
		return t
	}
	last := messages[len(messages)-1].Content
	t.Tag = strings.TrimSpace(strings.Replace(strings.TrimLeft(last, " \t\r\n"), SaveDirective, "", 1))

	var sb strings.Builder
	if t.Tag != "" {
		fmt.Fprintf(&sb, "# %s\n", t.Tag)
	}
	for _, m := range messages[:len(messages)-1] {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(&sb, "USER: %s\n", strings.TrimSpace(m.Content))
		case llm.RoleAssistant:
			content, _, _ := strings.Cut(m.Content, "\n###")
			fmt.Fprintf(&sb, "ASSISTANT: %s\n", strings.TrimSpace(content))
		}
	}
	t.Body = sb.String()
	return t
}

// FileName is the transcript's file name in the chat directory.
func (t Transcript) FileName() string {
	return fileSafe(t.Title) + ".md"
}

// TranscriptSaver persists transcripts.
type TranscriptSaver interface {
	Save(ctx context.Context, t Transcript) error
}

// FileSaver writes transcripts into the watched chat directory, where the
// ingest pipeline picks them up.
type FileSaver struct {
	Dir string
}

// Save writes the transcript atomically.
func (s FileSaver) Save(ctx context.Context, t Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("agent: create chat dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("agent: create transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(t.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("agent: write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("agent: write transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, t.FileName())); err != nil {
		return fmt.Errorf("agent: store transcript: %w", err)
	}
	return nil
}
