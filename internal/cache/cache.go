package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/ops"
)

// maxQueryResults bounds reverse-index lookups against the backing store
const maxQueryResults = 10000

// Cache is the process-lifetime store of validated events, indexed by
// id, kind and author. Entries carry an insertion timestamp so callers
// can judge staleness against their own freshness windows; there is no
// eviction beyond explicit invalidation.
type Cache struct {
	mu       sync.RWMutex
	store    *slicestore.SliceStore
	inserted *xsync.MapOf[string, time.Time]
	logger   *ops.Logger

	now func() time.Time
}

// New creates an empty cache
func New(logger *ops.Logger) (*Cache, error) {
	store := &slicestore.SliceStore{MaxLimit: maxQueryResults}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	return &Cache{
		store:    store,
		inserted: xsync.NewMapOf[string, time.Time](),
		logger:   logger.WithComponent("cache"),
		now:      time.Now,
	}, nil
}

// Put stores an event. Re-inserting an id the cache already holds keeps
// the single stored copy and refreshes its insertion timestamp.
func (c *Cache) Put(ctx context.Context, event *nostr.Event) error {
	c.mu.Lock()
	err := c.store.SaveEvent(ctx, event)
	c.mu.Unlock()

	if err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
		return fmt.Errorf("failed to cache event %s: %w", event.ID, err)
	}

	c.inserted.Store(event.ID, c.now())
	return nil
}

// PutMany stores a batch of events
func (c *Cache) PutMany(ctx context.Context, events []*nostr.Event) error {
	for _, event := range events {
		if err := c.Put(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the cached event with the given id, or nil
func (c *Cache) Get(ctx context.Context, id string) *nostr.Event {
	results := c.query(ctx, nostr.Filter{IDs: []string{id}, Limit: 1})
	if len(results) == 0 {
		c.logger.LogCacheOperation("get", id, false)
		return nil
	}
	c.logger.LogCacheOperation("get", id, true)
	return results[0]
}

// ByKind returns all cached events of the given kind
func (c *Cache) ByKind(ctx context.Context, kind int) []*nostr.Event {
	return c.query(ctx, nostr.Filter{Kinds: []int{kind}, Limit: maxQueryResults})
}

// ByAuthor returns all cached events by the given author
func (c *Cache) ByAuthor(ctx context.Context, author string) []*nostr.Event {
	return c.query(ctx, nostr.Filter{Authors: []string{author}, Limit: maxQueryResults})
}

// Query returns cached events matching an arbitrary filter
func (c *Cache) Query(ctx context.Context, filter nostr.Filter) []*nostr.Event {
	if filter.Limit == 0 {
		filter.Limit = maxQueryResults
	}
	return c.query(ctx, filter)
}

func (c *Cache) query(ctx context.Context, filter nostr.Filter) []*nostr.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, err := c.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil
	}

	var results []*nostr.Event
	for event := range ch {
		results = append(results, event)
	}
	return results
}

// InsertedAt returns when the id was last written to the cache
func (c *Cache) InsertedAt(id string) (time.Time, bool) {
	return c.inserted.Load(id)
}

// Fresh reports whether the id is cached and was written within the
// given freshness window
func (c *Cache) Fresh(id string, window time.Duration) bool {
	insertedAt, ok := c.inserted.Load(id)
	if !ok {
		return false
	}
	return c.now().Sub(insertedAt) <= window
}

// Invalidate removes a single entry
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	event := c.Get(ctx, id)
	if event == nil {
		return nil
	}

	c.mu.Lock()
	err := c.store.DeleteEvent(ctx, event)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to invalidate event %s: %w", id, err)
	}
	c.inserted.Delete(id)
	return nil
}

// InvalidateAll drops every entry; used on logout or hard refresh
func (c *Cache) InvalidateAll() error {
	store := &slicestore.SliceStore{MaxLimit: maxQueryResults}
	if err := store.Init(); err != nil {
		return fmt.Errorf("failed to reset event store: %w", err)
	}

	c.mu.Lock()
	c.store = store
	c.mu.Unlock()

	c.inserted.Clear()
	return nil
}

// Size returns the number of cached entries
func (c *Cache) Size() int {
	return c.inserted.Size()
}
