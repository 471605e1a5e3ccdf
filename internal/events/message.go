package events

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Message is a validated channel event plus client-only transient state.
// Ordering is always by the event's CreatedAt, tie-broken by ID; the
// FirstObservedAt wall-clock time only drives "just arrived" affordances.
type Message struct {
	Event           *nostr.Event
	Pending         bool
	FirstObservedAt time.Time
}

// NewMessage wraps a confirmed network event
func NewMessage(event *nostr.Event) *Message {
	return &Message{
		Event:           event,
		FirstObservedAt: time.Now(),
	}
}

// NewPendingMessage wraps a locally-created event awaiting confirmation
func NewPendingMessage(event *nostr.Event) *Message {
	return &Message{
		Event:           event,
		Pending:         true,
		FirstObservedAt: time.Now(),
	}
}

// ID returns the event id ("" for unsigned pending messages)
func (m *Message) ID() string {
	return m.Event.ID
}

// Author returns the event author's public key
func (m *Message) Author() string {
	return m.Event.PubKey
}

// CreatedAt returns the author-asserted timestamp
func (m *Message) CreatedAt() nostr.Timestamp {
	return m.Event.CreatedAt
}

// Content returns the message payload
func (m *Message) Content() string {
	return m.Event.Content
}

// Less orders messages ascending by CreatedAt, tie-broken by ID for
// determinism
func Less(a, b *Message) bool {
	if a.Event.CreatedAt != b.Event.CreatedAt {
		return a.Event.CreatedAt < b.Event.CreatedAt
	}
	return a.Event.ID < b.Event.ID
}
