package live

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/ops"
	"github.com/driftchat/driftchat/internal/store"
)

// Subscriber is the open-ended relay stream capability
type Subscriber interface {
	Subscribe(ctx context.Context, filters nostr.Filters) <-chan *nostr.Event
}

// MessageStore is the slice of the message store the manager needs
type MessageStore interface {
	Merge(key store.Key, event *nostr.Event) bool
	NewestTimestamp(key store.Key) (nostr.Timestamp, bool)
}

// EventHandler is notified for each live event merged into a conversation
type EventHandler func(key store.Key, event *nostr.Event)

// Manager owns the live subscriptions: exactly one per open conversation,
// resumed from the newest known timestamp. Hiding the client closes every
// subscription; becoming visible again reopens them, which catches up on
// anything missed while hidden because the resume point is recomputed.
type Manager struct {
	subscriber Subscriber
	messages   MessageStore
	logger     *ops.Logger
	self       string

	mu      sync.Mutex
	open    map[store.Key]bool // conversations that want a subscription
	active  map[store.Key]context.CancelFunc
	visible bool
	closed  bool

	ctx      context.Context
	handlers []EventHandler
	wg       sync.WaitGroup
}

// NewManager creates a subscription manager. The client starts visible.
func NewManager(ctx context.Context, subscriber Subscriber, messages MessageStore, selfPubkey string, logger *ops.Logger) *Manager {
	return &Manager{
		subscriber: subscriber,
		messages:   messages,
		logger:     logger.WithComponent("live"),
		self:       selfPubkey,
		open:       make(map[store.Key]bool),
		active:     make(map[store.Key]context.CancelFunc),
		visible:    true,
		ctx:        ctx,
	}
}

// AddEventHandler registers a handler invoked for each merged live
// event; safe to call while subscriptions are running
func (m *Manager) AddEventHandler(handler EventHandler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Open starts the live subscription for a conversation, implicitly
// closing any prior subscription for the same key
func (m *Manager) Open(key store.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.open[key] = true
	m.stopLocked(key)
	if m.visible {
		m.startLocked(key)
	}
}

// Close tears down the subscription for a conversation
func (m *Manager) Close(key store.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.open, key)
	m.stopLocked(key)
}

// SetVisible reacts to the client being hidden or shown. Hidden closes
// all subscriptions to conserve resources; shown reopens them from the
// then-current newest timestamps.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.visible == visible {
		return
	}
	m.visible = visible

	if !visible {
		for key := range m.active {
			m.stopLocked(key)
		}
		return
	}
	for key := range m.open {
		m.startLocked(key)
	}
}

// Shutdown closes every subscription and waits for their loops to exit
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for key := range m.active {
		m.stopLocked(key)
	}
	m.open = make(map[store.Key]bool)
	m.mu.Unlock()

	m.wg.Wait()
}

// startLocked opens the subscription goroutine for key; caller holds m.mu
func (m *Manager) startLocked(key store.Key) {
	since := m.resumePoint(key)
	subCtx, cancel := context.WithCancel(m.ctx)
	m.active[key] = cancel

	m.logger.LogSubscription(key.Community, key.Channel, "open", int64(since))

	filters := store.LiveFilters(key, m.self, since)
	m.wg.Add(1)
	go m.run(subCtx, key, filters)
}

// stopLocked cancels the subscription for key; caller holds m.mu
func (m *Manager) stopLocked(key store.Key) {
	cancel, ok := m.active[key]
	if !ok {
		return
	}
	cancel()
	delete(m.active, key)
	m.logger.LogSubscription(key.Community, key.Channel, "closed", 0)
}

// resumePoint computes the subscription lower bound: just past the
// newest known message, or now for an empty conversation
func (m *Manager) resumePoint(key store.Key) nostr.Timestamp {
	if newest, ok := m.messages.NewestTimestamp(key); ok {
		return newest + 1
	}
	return nostr.Now()
}

func (m *Manager) run(ctx context.Context, key store.Key, filters nostr.Filters) {
	defer m.wg.Done()

	for event := range m.subscriber.Subscribe(ctx, filters) {
		if !m.messages.Merge(key, event) {
			continue
		}
		m.mu.Lock()
		handlers := make([]EventHandler, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()
		for _, handler := range handlers {
			handler(key, event)
		}
	}
}
