package store

import (
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/events"
)

// Reconcile folds a confirmed network event into a message list that may
// contain pending optimistic entries. A pending entry sharing the
// event's id (a signed send echoing back) is confirmed directly.
// Otherwise a pending entry matches iff the author and content are
// identical and the timestamps differ by at most window; the first match
// by list order wins and is replaced in place, preserving its
// FirstObservedAt. With no match and no existing entry sharing the
// event's id, the event is appended as a new message. The returned list
// is sorted ascending and free of duplicate ids.
func Reconcile(confirmed *nostr.Event, list []*events.Message, window time.Duration) ([]*events.Message, bool) {
	for i, msg := range list {
		if msg.ID() != confirmed.ID {
			continue
		}
		if !msg.Pending {
			// Already merged; nothing to do
			return list, false
		}
		list[i] = &events.Message{
			Event:           confirmed,
			Pending:         false,
			FirstObservedAt: msg.FirstObservedAt,
		}
		return list, true
	}

	for i, msg := range list {
		if !msg.Pending {
			continue
		}
		if msg.Author() != confirmed.PubKey || msg.Content() != confirmed.Content {
			continue
		}
		delta := int64(msg.CreatedAt()) - int64(confirmed.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Second > window {
			continue
		}

		list[i] = &events.Message{
			Event:           confirmed,
			Pending:         false,
			FirstObservedAt: msg.FirstObservedAt,
		}
		sortMessages(list)
		return list, true
	}

	list = append(list, events.NewMessage(confirmed))
	sortMessages(list)
	return list, false
}

func sortMessages(list []*events.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return events.Less(list[i], list[j])
	})
}
