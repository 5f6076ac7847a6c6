package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/necyber/elephie/pkg/llm"
)

// TimeLayout formats conversation start times.
const TimeLayout = "2006-01-02 15:04:05"

// DefaultLanguage is used when no preset matches the configured language.
const DefaultLanguage = "English"

const agentPrompt = `You are Loyal Elephie, {NICK_NAME}'s autonomous secretary who has access to the following tools:
1. You have an inner monologue section which could help you analyze the problem without disturbing {NICK_NAME}. To use inner monologue section, write your monologue between tags "<THINK>" and "</THINK>". The monologue should including the user problem breakdown the questions you don't yet understand. This tool is how you comprehend.

2. You have a memory including {NICK_NAME}'s notes and your past conversations with him, which could possibly provide useful context for this interaction.  *To use this external memory, write search query strings each per line between tags "<SEARCH>" and "</SEARCH>"*. Provide precise date into the query if possible. This tool is how your recall.
Example of using the memory:
User: Should I buy a new computer?
<SEARCH>
{NICK_NAME} computer problem
{NICK_NAME} buy new computer preference
</SEARCH>
If you see the search result, be mindful that the context could be ranging from a long period and they will be shown in a timely order.

3. Once you have thoroughly comprehended the latest user input, respond by placing your message between the tags ` + "`<REPLY>`" + ` and ` + "`</REPLY>`" + `. Only the text inside the "<REPLY>" block will be visible to {NICK_NAME}. Your reply should be supportive, with an analytical, creative, extroverted, and playful personality. You love jokes, sarcasm, and making wild guesses while staying truthful to the accessible context when not making guesses. Always address {NICK_NAME} as "you". This tool is how you speak.
{LANGUAGE_PREFERENCE}

Below your interactions with the user ({NICK_NAME}) begin. You will also receive occasional system messages with situational information and instructions.
Current time is {CURRENT_TIME}
`

//go:embed presets.json
var presetsJSON []byte

// Preset is a one-shot example exchange in one language.
type Preset struct {
	UserMessage    string `json:"user_message"`
	ThinkMessage   string `json:"think_message"`
	SearchQuery    string `json:"search_query"`
	ContextTitle   string `json:"context_title"`
	ContextContent string `json:"context_content"`
	ReplyMessage   string `json:"reply_message"`
}

// PromptConfig configures prompt construction.
type PromptConfig struct {
	NickName              string
	Language              string
	MultipleSystemPrompts bool
}

// Prompter builds the message list sent to the generator.
type Prompter struct {
	cfg    PromptConfig
	preset Preset
}

// NewPrompter loads the embedded presets for the configured language.
func NewPrompter(cfg PromptConfig) (*Prompter, error) {
	var file struct {
		Languages map[string]Preset `json:"languages"`
	}
	if err := json.Unmarshal(presetsJSON, &file); err != nil {
		return nil, fmt.Errorf("agent: parse presets: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	preset, ok := file.Languages[cfg.Language]
	if !ok {
		preset, ok = file.Languages[DefaultLanguage]
		if !ok {
			return nil, fmt.Errorf("agent: no %s preset", DefaultLanguage)
		}
	}
	return &Prompter{cfg: cfg, preset: preset}, nil
}

// SystemMessage wraps content as a system instruction. Backends that reject
// more than one system message get it as a prefixed user message.
func (p *Prompter) SystemMessage(content string) llm.Message {
	if p.cfg.MultipleSystemPrompts {
		return llm.Message{Role: llm.RoleSystem, Content: content}
	}
	return llm.Message{Role: llm.RoleUser, Content: "system:\n" + content}
}

// AgentPrompt renders the agent instructions for a conversation that
// started at start.
func (p *Prompter) AgentPrompt(start time.Time) string {
	language := ""
	if p.cfg.Language != DefaultLanguage {
		language = fmt.Sprintf("\n**Your default language for search queries and reply contents is %s.**", p.cfg.Language)
	}
	return strings.NewReplacer(
		"{CURRENT_TIME}", start.Format(TimeLayout),
		"{NICK_NAME}", p.cfg.NickName,
		"{LANGUAGE_PREFERENCE}", language,
	).Replace(agentPrompt)
}

func (p *Prompter) nick(s string) string {
	return strings.ReplaceAll(s, "{NICK_NAME}", p.cfg.NickName)
}

// SearchResult wraps formatted contexts as a search result message.
func (p *Prompter) SearchResult(body string) llm.Message {
	return p.SystemMessage(searchResultHeader + body + searchResultFooter)
}

// Build returns the agent prompt, the one-shot example and the rewritten
// client history. Client system messages are dropped. Prior assistant
// replies lose their citation block and are re-wrapped in REPLY tags.
func (p *Prompter) Build(start time.Time, history []llm.Message) []llm.Message {
	ps := p.preset
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: p.AgentPrompt(start)},
		{Role: llm.RoleUser, Content: ps.UserMessage},
		{Role: llm.RoleAssistant, Content: Open(TagThink) + p.nick(ps.ThinkMessage) + Close(TagThink)},
		{Role: llm.RoleAssistant, Content: Open(TagSearch) + "\n" + p.nick(ps.SearchQuery) + Close(TagSearch)},
		p.SearchResult(fmt.Sprintf("<context_1 title=%q>\n%s", ps.ContextTitle, p.nick(ps.ContextContent))),
		{Role: llm.RoleAssistant, Content: Open(TagReply) + p.nick(ps.ReplyMessage) + Close(TagReply)},
	}

	for _, m := range history {
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			content, _, cited := strings.Cut(m.Content, "\n###")
			if cited {
				msgs = append(msgs, p.SystemMessage(NoticeHidden))
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: Open(TagReply) + content + Close(TagReply)})
		default:
			msgs = append(msgs, m)
		}
	}
	return msgs
}
