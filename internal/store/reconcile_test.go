package store

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/events"
)

const reconcileWindow = 30 * time.Second

func confirmedEvent(id, author, content string, at nostr.Timestamp) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      events.KindChatMessage,
		CreatedAt: at,
		Content:   content,
	}
}

func TestReconcileReplacesPendingInPlace(t *testing.T) {
	pending := events.NewPendingMessage(confirmedEvent("", "alice", "hi", 100))
	observed := pending.FirstObservedAt
	list := []*events.Message{pending}

	confirmed := confirmedEvent("real-1", "alice", "hi", 103)
	list, matched := Reconcile(confirmed, list, reconcileWindow)

	if !matched {
		t.Fatal("expected the pending entry to match")
	}
	if len(list) != 1 {
		t.Fatalf("expected list length unchanged, got %d", len(list))
	}
	if list[0].Pending {
		t.Error("replaced entry should no longer be pending")
	}
	if list[0].ID() != "real-1" {
		t.Errorf("replaced entry should carry the confirmed id, got %q", list[0].ID())
	}
	if !list[0].FirstObservedAt.Equal(observed) {
		t.Error("replacement should preserve the pending entry's FirstObservedAt")
	}
}

func TestReconcileAppendsUnmatched(t *testing.T) {
	pending := events.NewPendingMessage(confirmedEvent("", "alice", "hi", 100))
	list := []*events.Message{pending}

	confirmed := confirmedEvent("real-2", "bob", "hello", 101)
	list, matched := Reconcile(confirmed, list, reconcileWindow)

	if matched {
		t.Fatal("different author should not match a pending entry")
	}
	if len(list) != 2 {
		t.Fatalf("expected append, got list length %d", len(list))
	}
	if !list[0].Pending || list[1].Pending {
		t.Error("expected [pending(100), confirmed(101)] after sorting")
	}
}

func TestReconcileRespectsTimestampWindow(t *testing.T) {
	pending := events.NewPendingMessage(confirmedEvent("", "alice", "hi", 100))
	list := []*events.Message{pending}

	// 100 seconds apart is outside the 30s window
	confirmed := confirmedEvent("real-3", "alice", "hi", 200)
	list, matched := Reconcile(confirmed, list, reconcileWindow)

	if matched {
		t.Fatal("event outside the window should not match")
	}
	if len(list) != 2 {
		t.Fatalf("expected append, got list length %d", len(list))
	}
}

func TestReconcileConfirmsSameIDPending(t *testing.T) {
	pending := events.NewPendingMessage(confirmedEvent("signed-1", "alice", "hi", 100))
	observed := pending.FirstObservedAt
	list := []*events.Message{pending}

	list, matched := Reconcile(confirmedEvent("signed-1", "alice", "hi", 100), list, reconcileWindow)

	if !matched {
		t.Fatal("an echo sharing the pending entry's id should confirm it")
	}
	if len(list) != 1 {
		t.Fatalf("expected list length unchanged, got %d", len(list))
	}
	if list[0].Pending {
		t.Error("the entry should no longer be pending")
	}
	if !list[0].FirstObservedAt.Equal(observed) {
		t.Error("confirmation should preserve FirstObservedAt")
	}
}

func TestReconcileIgnoresDuplicateID(t *testing.T) {
	existing := events.NewMessage(confirmedEvent("dup-1", "alice", "hi", 100))
	list := []*events.Message{existing}

	list, matched := Reconcile(confirmedEvent("dup-1", "alice", "hi", 100), list, reconcileWindow)

	if matched {
		t.Fatal("duplicate id should not be reported as a match")
	}
	if len(list) != 1 {
		t.Fatalf("duplicate id should leave the list unchanged, got length %d", len(list))
	}
}

func TestReconcileFirstMatchWins(t *testing.T) {
	first := events.NewPendingMessage(confirmedEvent("p1", "alice", "hi", 100))
	second := events.NewPendingMessage(confirmedEvent("p2", "alice", "hi", 101))
	list := []*events.Message{first, second}

	confirmed := confirmedEvent("real-4", "alice", "hi", 102)
	list, matched := Reconcile(confirmed, list, reconcileWindow)

	if !matched {
		t.Fatal("expected a match")
	}
	if len(list) != 2 {
		t.Fatalf("expected list length unchanged, got %d", len(list))
	}

	var stillPending []string
	for _, msg := range list {
		if msg.Pending {
			stillPending = append(stillPending, msg.ID())
		}
	}
	if len(stillPending) != 1 || stillPending[0] != "p2" {
		t.Errorf("the earliest pending entry should be replaced first; still pending: %v", stillPending)
	}
}
