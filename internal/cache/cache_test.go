package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/ops"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	logger := ops.NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
	c, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c
}

func cacheEvent(id, author string, kind int, at nostr.Timestamp) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      kind,
		CreatedAt: at,
		Content:   "content " + id,
	}
}

func TestPutAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	event := cacheEvent("e1", "alice", 1, 100)
	if err := c.Put(ctx, event); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got := c.Get(ctx, "e1")
	if got == nil {
		t.Fatal("expected cached event")
	}
	if got.ID != "e1" || got.Content != "content e1" {
		t.Errorf("unexpected event: %+v", got)
	}

	if c.Get(ctx, "missing") != nil {
		t.Error("unknown id should return nil")
	}
}

func TestPutIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	event := cacheEvent("e1", "alice", 1, 100)
	if err := c.Put(ctx, event); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	first, ok := c.InsertedAt("e1")
	if !ok {
		t.Fatal("expected an insertion timestamp")
	}

	time.Sleep(5 * time.Millisecond)
	if err := c.Put(ctx, event); err != nil {
		t.Fatalf("re-Put failed: %v", err)
	}

	if c.Size() != 1 {
		t.Errorf("re-inserting the same id should keep one entry, got %d", c.Size())
	}
	second, _ := c.InsertedAt("e1")
	if !second.After(first) {
		t.Error("re-inserting should refresh the insertion timestamp")
	}
}

func TestReverseIndexes(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.PutMany(ctx, []*nostr.Event{
		cacheEvent("e1", "alice", 1, 100),
		cacheEvent("e2", "alice", 7, 101),
		cacheEvent("e3", "bob", 1, 102),
	})
	if err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}

	if got := c.ByKind(ctx, 1); len(got) != 2 {
		t.Errorf("expected 2 kind-1 events, got %d", len(got))
	}
	if got := c.ByAuthor(ctx, "alice"); len(got) != 2 {
		t.Errorf("expected 2 events by alice, got %d", len(got))
	}
	if got := c.ByAuthor(ctx, "carol"); len(got) != 0 {
		t.Errorf("expected no events by carol, got %d", len(got))
	}
}

func TestFresh(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if c.Fresh("e1", time.Minute) {
		t.Error("uncached id should not be fresh")
	}

	if err := c.Put(ctx, cacheEvent("e1", "alice", 1, 100)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !c.Fresh("e1", time.Minute) {
		t.Error("just-inserted id should be fresh within a minute")
	}
	if c.Fresh("e1", -time.Second) {
		t.Error("an already-expired window should never report fresh")
	}
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, cacheEvent("e1", "alice", 1, 100)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Invalidate(ctx, "e1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if c.Get(ctx, "e1") != nil {
		t.Error("invalidated id should be gone")
	}
	if c.Fresh("e1", time.Minute) {
		t.Error("invalidated id should not be fresh")
	}

	// Invalidating an unknown id is not an error
	if err := c.Invalidate(ctx, "missing"); err != nil {
		t.Errorf("invalidating an unknown id failed: %v", err)
	}
}

func TestInvalidateAll(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.PutMany(ctx, []*nostr.Event{
		cacheEvent("e1", "alice", 1, 100),
		cacheEvent("e2", "bob", 1, 101),
	})
	if err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}

	if err := c.InvalidateAll(); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if c.Size() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Size())
	}
	if c.Get(ctx, "e1") != nil {
		t.Error("cleared cache should hold nothing")
	}

	// The cache stays usable after a reset
	if err := c.Put(ctx, cacheEvent("e3", "carol", 1, 102)); err != nil {
		t.Fatalf("Put after reset failed: %v", err)
	}
	if c.Get(ctx, "e3") == nil {
		t.Error("expected event cached after reset")
	}
}

func TestQueryWithFilter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	reaction := cacheEvent("r1", "bob", 7, 103)
	reaction.Tags = nostr.Tags{{"e", "e1"}}
	err := c.PutMany(ctx, []*nostr.Event{
		cacheEvent("e1", "alice", 1, 100),
		reaction,
	})
	if err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}

	got := c.Query(ctx, nostr.Filter{
		Kinds: []int{7},
		Tags:  nostr.TagMap{"e": []string{"e1"}},
	})
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("expected the reaction for e1, got %v", got)
	}
}
