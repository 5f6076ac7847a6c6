package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/necyber/elephie/pkg/llm"
)

// DefaultConversationTTL is how long an idle conversation keeps its start time.
const DefaultConversationTTL = 12 * time.Hour

type conversation struct {
	start    time.Time
	lastSeen time.Time
}

// ConversationRegistry tracks when each conversation started, so prompts
// and saved transcripts carry a stable time across turns.
type ConversationRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*conversation
	lastUse time.Time
}

// NewConversationRegistry creates a registry whose entries expire after ttl
// without activity.
func NewConversationRegistry(ttl time.Duration) *ConversationRegistry {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationRegistry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*conversation),
	}
}

// Touch records activity on conversation id and returns its start time.
// Unknown or expired conversations start now.
func (r *ConversationRegistry) Touch(id string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.lastUse = now
	c, ok := r.entries[id]
	if !ok || now.Sub(c.lastSeen) > r.ttl {
		c = &conversation{start: now}
		r.entries[id] = c
	}
	c.lastSeen = now
	return c.start
}

// LastUse returns the time of the most recent activity, or zero.
func (r *ConversationRegistry) LastUse() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUse
}

// Sweep drops expired conversations and returns how many were dropped.
func (r *ConversationRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	dropped := 0
	for id, c := range r.entries {
		if now.Sub(c.lastSeen) > r.ttl {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked conversations.
func (r *ConversationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ConversationKey derives a conversation id from the first user message for
// clients that do not send one.
func ConversationKey(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			return uuid.NewSHA1(uuid.NameSpaceOID, []byte(m.Content)).String()
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, nil).String()
}
