// Package events fans turn and ingest progress out to in-process
// subscribers such as the websocket feed.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/ingest"
)

// Event types emitted besides the agent's turn events.
const (
	TypeIngestBatch = "ingest.batch"
)

// Event is one message on the feed. Payload is an agent.Event for turn
// events and a summary map for ingest batches.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

const defaultBuffer = 16

// Broadcaster fans events out to in-process subscribers. A subscriber with
// a full buffer misses the event instead of stalling the publisher. It
// satisfies agent.EventSink.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
	closed bool

	dropped atomic.Uint64
	now     func() time.Time
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]chan Event),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber with room for buffer pending events.
// The returned cancel func unsubscribes and closes the channel; calling it
// again is a no-op. Subscribing to a closed Broadcaster yields a closed
// channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() { b.drop(id) }
}

func (b *Broadcaster) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast stamps event if needed and offers it to every subscriber.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Publish forwards an agent turn event.
func (b *Broadcaster) Publish(e agent.Event) {
	b.Broadcast(Event{
		Type:           e.Type,
		ConversationID: e.ConversationID,
		Timestamp:      e.Timestamp,
		Payload:        e,
	})
}

// PublishIngest emits a summary of one ingestion batch.
func (b *Broadcaster) PublishIngest(report ingest.Report) {
	failed := make([]string, 0, report.Failed)
	for _, r := range report.Results {
		if !r.OK() {
			failed = append(failed, r.Path)
		}
	}
	b.Broadcast(Event{
		Type: TypeIngestBatch,
		Payload: map[string]any{
			"succeeded":   report.Succeeded,
			"failed":      report.Failed,
			"failed_path": failed,
			"documents":   report.Rebuild.Documents,
			"duration_ms": report.Duration.Milliseconds(),
		},
	})
}

// Forward hands every event to send until ctx ends or the Broadcaster is
// closed.
func (b *Broadcaster) Forward(ctx context.Context, buffer int, send func(Event)) {
	ch, cancel := b.Subscribe(buffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			send(e)
		}
	}
}

// Dropped counts deliveries skipped because a buffer was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
