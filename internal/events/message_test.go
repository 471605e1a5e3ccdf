package events

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestLessOrdersByCreatedAtThenID(t *testing.T) {
	early := NewMessage(&nostr.Event{ID: "z", CreatedAt: 5})
	late := NewMessage(&nostr.Event{ID: "a", CreatedAt: 10})

	if !Less(early, late) {
		t.Error("earlier timestamp should order first regardless of id")
	}
	if Less(late, early) {
		t.Error("ordering should be asymmetric")
	}

	tieA := NewMessage(&nostr.Event{ID: "a", CreatedAt: 10})
	tieB := NewMessage(&nostr.Event{ID: "b", CreatedAt: 10})
	if !Less(tieA, tieB) || Less(tieB, tieA) {
		t.Error("equal timestamps should tie-break on id")
	}
}

func TestPendingMessageState(t *testing.T) {
	event := &nostr.Event{PubKey: "alice", CreatedAt: 100, Content: "hi"}

	pending := NewPendingMessage(event)
	if !pending.Pending {
		t.Error("NewPendingMessage should mark the entry pending")
	}
	if pending.FirstObservedAt.IsZero() {
		t.Error("pending entry should record when it was first observed")
	}

	confirmed := NewMessage(event)
	if confirmed.Pending {
		t.Error("NewMessage should not mark the entry pending")
	}
}

func TestTagAccessors(t *testing.T) {
	event := &nostr.Event{
		Kind: KindChatMessage,
		Tags: nostr.Tags{
			{"a", "34550:owner:town"},
			{"t", "general"},
			{"p", "bob"},
			{"p", "carol"},
		},
	}

	if ref, ok := CommunityRef(event); !ok || ref != "34550:owner:town" {
		t.Errorf("unexpected community ref: %q, %v", ref, ok)
	}
	if channel, ok := ChannelTag(event); !ok || channel != "general" {
		t.Errorf("unexpected channel: %q, %v", channel, ok)
	}
	if HasReplyTag(event) {
		t.Error("event carries no reply tag")
	}
	if got := TagValues(event, "p"); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Errorf("unexpected recipients: %v", got)
	}

	reply := &nostr.Event{Tags: nostr.Tags{{"e", "parent-id"}}}
	if !HasReplyTag(reply) {
		t.Error("expected reply tag to be detected")
	}
	if target, ok := ReplyTarget(reply); !ok || target != "parent-id" {
		t.Errorf("unexpected reply target: %q, %v", target, ok)
	}
}

func TestChannelTagAbsent(t *testing.T) {
	if channel, ok := ChannelTag(&nostr.Event{}); ok {
		t.Errorf("untagged event should report no channel tag, got %q", channel)
	}
}
