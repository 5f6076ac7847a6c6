package agent

import (
	"fmt"
	"strings"

	"github.com/necyber/elephie/pkg/retrieval"
)

// Document id prefixes.
const (
	ConversationPrefix = "Conversation on"
	NotePrefix         = "Note of "
)

// FormatContext renders the i-th (zero based) retrieved context for the
// prompt. Contexts of unknown kind render as "".
func FormatContext(i int, c retrieval.Context) string {
	switch {
	case strings.HasPrefix(c.DocID, ConversationPrefix):
		return fmt.Sprintf("<context %d title=%s/>\n%s\n", i+1, c.DocID, c.Content)
	case strings.HasPrefix(c.DocID, NotePrefix):
		return fmt.Sprintf("<context %d title=%s modified=%s/>\n%s\n", i+1, c.DocID, c.DocTime, c.Content)
	default:
		return ""
	}
}

// FormatContexts renders all contexts separated by line breaks.
func FormatContexts(contexts []retrieval.Context) string {
	parts := make([]string, len(contexts))
	for i, c := range contexts {
		parts[i] = FormatContext(i, c)
	}
	return strings.Join(parts, "<br/>\n")
}

// Linker renders citations as markdown links into the notebook site.
type Linker struct {
	ChatURL string
	NoteURL string
}

// Reference renders one document id as a link.
func (l Linker) Reference(id string) string {
	switch {
	case strings.HasPrefix(id, ConversationPrefix):
		return fmt.Sprintf("[%s](%s%s)", id, l.ChatURL, fileSafe(id))
	case strings.HasPrefix(id, NotePrefix):
		headers := strings.Replace(id, NotePrefix, "", 1)
		page, _, _ := strings.Cut(headers, " > ")
		return fmt.Sprintf("[%s](%s%s)", headers, l.NoteURL, fileSafe(page))
	default:
		return fmt.Sprintf("[null](%s)", id)
	}
}

// Block renders the citation block appended to a reply, or "" when nothing
// was cited.
func (l Linker) Block(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	refs := make([]string, len(ids))
	for i, id := range ids {
		refs[i] = l.Reference(id)
	}
	return "\n###\n" + strings.Join(refs, "\n")
}

// fileSafe maps a document id to the file name it is stored under.
func fileSafe(id string) string {
	return strings.ReplaceAll(id, ":", ";")
}
