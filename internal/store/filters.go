package store

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/events"
)

// DMCommunity is the synthetic community id under which direct-message
// threads are keyed; the channel part of the key is the peer's pubkey.
const DMCommunity = "dm"

// Key identifies one conversation view
type Key struct {
	Community string
	Channel   string
}

// IsDM reports whether the key addresses a direct-message thread
func (k Key) IsDM() bool {
	return k.Community == DMCommunity
}

// buildHistoryFilters creates the filters for a historical page of the
// conversation. Channel scoping is deliberately coarse (community-wide):
// untagged default-channel messages cannot be expressed as a relay
// filter, so per-channel admission happens in validation after fetch.
func buildHistoryFilters(key Key, selfPubkey string, limit int, until *nostr.Timestamp) nostr.Filters {
	if key.IsDM() {
		peer := key.Channel
		sent := nostr.Filter{
			Kinds:   []int{events.KindDirectMessage},
			Authors: []string{selfPubkey},
			Tags:    nostr.TagMap{"p": []string{peer}},
			Limit:   limit,
		}
		received := nostr.Filter{
			Kinds:   []int{events.KindDirectMessage},
			Authors: []string{peer},
			Tags:    nostr.TagMap{"p": []string{selfPubkey}},
			Limit:   limit,
		}
		if until != nil {
			sent.Until = until
			received.Until = until
		}
		return nostr.Filters{sent, received}
	}

	filter := nostr.Filter{
		Kinds: events.MessageKinds(),
		Tags:  nostr.TagMap{"a": []string{key.Community}},
		Limit: limit,
	}
	if until != nil {
		filter.Until = until
	}
	return nostr.Filters{filter}
}

// LiveFilters creates the filters for the live subscription that
// resumes the conversation from the given lower bound, scoped the same
// way as the historical queries
func LiveFilters(key Key, selfPubkey string, since nostr.Timestamp) nostr.Filters {
	filters := buildHistoryFilters(key, selfPubkey, 0, nil)
	for i := range filters {
		s := since
		filters[i].Since = &s
		filters[i].Limit = 0
	}
	return filters
}
