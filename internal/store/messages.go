package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/ops"
)

// Querier is the one-shot relay fetch capability the store depends on
type Querier interface {
	Query(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error)
	QueryTimeout() time.Duration
}

// Store holds the ordered, deduplicated message list for every open
// conversation, along with its pagination cursor. All mutations of one
// conversation are serialized under its state lock so a historical load
// completing concurrently with a live event cannot lose updates.
type Store struct {
	querier Querier
	cache   *cache.Cache
	cfg     *config.Engine
	logger  *ops.Logger
	self    string

	channels *xsync.MapOf[Key, *channelState]
}

type channelState struct {
	mu       sync.Mutex
	messages []*events.Message
	ids      map[string]struct{}
	members  events.ApprovedMembers

	oldest       nostr.Timestamp // pagination cursor: oldest held message
	hasMore      bool
	reachedStart bool
	zeroFetches  int // consecutive zero-raw historical fetches

	loaded  bool
	loading bool // at most one historical fetch in flight
}

// New creates a message store
func New(querier Querier, c *cache.Cache, cfg *config.Engine, selfPubkey string, logger *ops.Logger) *Store {
	return &Store{
		querier:  querier,
		cache:    c,
		cfg:      cfg,
		logger:   logger.WithComponent("store"),
		self:     selfPubkey,
		channels: xsync.NewMapOf[Key, *channelState](),
	}
}

func (s *Store) state(key Key) *channelState {
	state, _ := s.channels.LoadOrCompute(key, func() *channelState {
		return &channelState{
			ids:     make(map[string]struct{}),
			hasMore: true,
		}
	})
	return state
}

func (s *Store) pageSizeFor(key Key) int {
	if key.IsDM() {
		return s.cfg.DMPageSize
	}
	return s.cfg.PageSize
}

// admit decides whether a raw event belongs in the conversation
func (s *Store) admit(key Key, event *nostr.Event, members events.ApprovedMembers) bool {
	if key.IsDM() {
		return events.IsDirectMessage(event, s.self, key.Channel)
	}
	if !events.IsCommunityMessage(event, key.Community) {
		return false
	}
	if !events.IsChannelMessage(event, key.Channel) {
		return false
	}
	return events.IsAuthorized(event, members)
}

// LoadInitial fetches the first page of history for a conversation. It
// is idempotent: once a conversation is loaded, the current list is
// returned without re-querying (the live subscription keeps it current).
func (s *Store) LoadInitial(ctx context.Context, key Key, members events.ApprovedMembers) ([]*events.Message, error) {
	state := s.state(key)

	state.mu.Lock()
	state.members = members
	if state.loaded || state.loading {
		list := copyMessages(state.messages)
		state.mu.Unlock()
		return list, nil
	}
	state.loading = true
	state.mu.Unlock()

	pageSize := s.pageSizeFor(key)
	filters := buildHistoryFilters(key, s.self, pageSize, nil)

	start := time.Now()
	raw, err := s.querier.Query(ctx, filters, s.querier.QueryTimeout())

	state.mu.Lock()
	defer state.mu.Unlock()
	state.loading = false

	if err != nil {
		// Existing state stays untouched; the caller may retry
		s.logger.LogQuery(key.Community, key.Channel, 0, 0, time.Since(start), err)
		return nil, fmt.Errorf("initial load failed: %w", err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.PutMany(ctx, raw); cacheErr != nil {
			s.logger.Warn("failed to cache fetched events", "error", cacheErr)
		}
	}

	kept := s.mergeLocked(key, state, raw)
	s.logger.LogQuery(key.Community, key.Channel, len(raw), kept, time.Since(start), nil)

	// hasMore is judged on the raw pre-validation count: a short raw
	// page means the relay ran out of history, even if validation
	// dropped everything it returned
	state.hasMore = len(raw) >= pageSize
	if len(raw) == 0 {
		state.zeroFetches = 1
	} else {
		state.zeroFetches = 0
	}
	state.loaded = true

	return copyMessages(state.messages), nil
}

// LoadOlder fetches the next older page, bounded just below the current
// cursor. At most one fetch per conversation is in flight; a concurrent
// call is a no-op returning the current list. Relays may return messages
// already held, so results are diffed against known ids.
func (s *Store) LoadOlder(ctx context.Context, key Key) ([]*events.Message, error) {
	state := s.state(key)

	state.mu.Lock()
	if !state.loaded || state.loading || state.reachedStart || !state.hasMore {
		list := copyMessages(state.messages)
		state.mu.Unlock()
		return list, nil
	}
	var until *nostr.Timestamp
	if len(state.messages) > 0 {
		boundary := state.oldest - 1 // avoid re-fetching the boundary message
		until = &boundary
	}
	state.loading = true
	state.mu.Unlock()

	pageSize := s.pageSizeFor(key)
	filters := buildHistoryFilters(key, s.self, pageSize, until)

	start := time.Now()
	raw, err := s.querier.Query(ctx, filters, s.querier.QueryTimeout())

	state.mu.Lock()
	defer state.mu.Unlock()
	state.loading = false

	if err != nil {
		s.logger.LogQuery(key.Community, key.Channel, 0, 0, time.Since(start), err)
		return nil, fmt.Errorf("older page load failed: %w", err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.PutMany(ctx, raw); cacheErr != nil {
			s.logger.Warn("failed to cache fetched events", "error", cacheErr)
		}
	}

	kept := s.mergeLocked(key, state, raw)
	s.logger.LogQuery(key.Community, key.Channel, len(raw), kept, time.Since(start), nil)

	// An empty page means the relay ran out of history: stop paginating.
	// Two empties in a row additionally latch the conversation as fully
	// loaded, so no path can ever resume fetching for it.
	if len(raw) == 0 {
		state.hasMore = false
		state.zeroFetches++
		if state.zeroFetches >= 2 {
			state.reachedStart = true
		}
	} else {
		state.zeroFetches = 0
		if len(raw) < pageSize {
			state.hasMore = false
		}
	}

	return copyMessages(state.messages), nil
}

// mergeLocked validates raw events and folds the survivors into the
// ordered list, skipping ids already held. Caller holds state.mu.
func (s *Store) mergeLocked(key Key, state *channelState, raw []*nostr.Event) int {
	kept := 0
	for _, event := range raw {
		if _, held := state.ids[event.ID]; held {
			continue
		}
		if !s.admit(key, event, state.members) {
			continue
		}
		state.messages = append(state.messages, events.NewMessage(event))
		state.ids[event.ID] = struct{}{}
		kept++
	}

	if kept > 0 {
		sortMessages(state.messages)
	}
	if len(state.messages) > 0 {
		state.oldest = state.messages[0].CreatedAt()
	}
	return kept
}

// Merge folds one live event into the conversation, reconciling it
// against pending optimistic entries first. Returns true if the list
// changed.
func (s *Store) Merge(key Key, event *nostr.Event) bool {
	state := s.state(key)

	state.mu.Lock()
	defer state.mu.Unlock()

	if !s.admit(key, event, state.members) {
		return false
	}

	// Held ids are not short-circuited here: a signed optimistic send
	// echoes back under the id AddPending already recorded, and that
	// echo must still confirm the pending entry
	window := time.Duration(s.cfg.ReconcileWindowSeconds) * time.Second
	before := len(state.messages)
	list, matched := Reconcile(event, state.messages, window)
	state.messages = list

	if matched {
		// A pending entry was replaced; its provisional id is gone
		state.ids = make(map[string]struct{}, len(list))
		for _, msg := range list {
			state.ids[msg.ID()] = struct{}{}
		}
	} else if len(list) > before {
		state.ids[event.ID] = struct{}{}
	} else {
		return false
	}

	s.logger.LogReconcile(key.Community, key.Channel, event.ID, matched)

	if len(state.messages) > 0 {
		state.oldest = state.messages[0].CreatedAt()
	}
	return true
}

// AddPending inserts a locally-created message ahead of network
// confirmation
func (s *Store) AddPending(key Key, event *nostr.Event) *events.Message {
	state := s.state(key)

	state.mu.Lock()
	defer state.mu.Unlock()

	msg := events.NewPendingMessage(event)
	state.messages = append(state.messages, msg)
	sortMessages(state.messages)
	if event.ID != "" {
		state.ids[event.ID] = struct{}{}
	}
	return msg
}

// Messages returns a copy of the conversation's current ordered list
func (s *Store) Messages(key Key) []*events.Message {
	state := s.state(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	return copyMessages(state.messages)
}

// NewestTimestamp returns the newest confirmed message timestamp, if
// any. Pending entries are ignored: resuming a subscription past a
// pending timestamp could exclude that message's own echo.
func (s *Store) NewestTimestamp(key Key) (nostr.Timestamp, bool) {
	state := s.state(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	for i := len(state.messages) - 1; i >= 0; i-- {
		if state.messages[i].Pending {
			continue
		}
		return state.messages[i].CreatedAt(), true
	}
	return 0, false
}

// HasMore reports whether older history may remain
func (s *Store) HasMore(key Key) bool {
	state := s.state(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.hasMore && !state.reachedStart
}

// ReachedStart reports whether the conversation is fully loaded
func (s *Store) ReachedStart(key Key) bool {
	state := s.state(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.reachedStart
}

// SetMembers replaces the membership set used for live admission
func (s *Store) SetMembers(key Key, members events.ApprovedMembers) {
	state := s.state(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.members = members
}

// Reset drops all conversation state; used on logout
func (s *Store) Reset() {
	s.channels.Clear()
}

func copyMessages(list []*events.Message) []*events.Message {
	out := make([]*events.Message, len(list))
	copy(out, list)
	return out
}
