package events

import (
	"github.com/nbd-wtf/go-nostr"
)

// IsChannelMessage reports whether event belongs in the flat feed of the
// given channel. Reply events are excluded unconditionally; they live in
// thread views. For the default channel, untagged events are accepted
// for backward compatibility; every other channel requires an exact tag
// match.
func IsChannelMessage(event *nostr.Event, channelID string) bool {
	if !IsMessageKind(event.Kind) {
		return false
	}
	if HasReplyTag(event) {
		return false
	}

	channel, tagged := ChannelTag(event)
	if channelID == DefaultChannel {
		return !tagged || channel == channelID
	}
	return tagged && channel == channelID
}

// IsAuthorized reports whether the event's author may post given the
// community's membership set. A nil set disables gating entirely.
func IsAuthorized(event *nostr.Event, members ApprovedMembers) bool {
	if members == nil {
		return true
	}
	return members.Has(event.PubKey)
}

// IsCommunityMessage reports whether event references the given community
func IsCommunityMessage(event *nostr.Event, communityID string) bool {
	ref, ok := CommunityRef(event)
	return ok && ref == communityID
}

// IsDirectMessage reports whether event is part of the DM thread between
// self and peer, in either direction
func IsDirectMessage(event *nostr.Event, self, peer string) bool {
	if event.Kind != KindDirectMessage {
		return false
	}
	recipient, ok := Recipient(event)
	if !ok {
		return false
	}
	if event.PubKey == self && recipient == peer {
		return true
	}
	return event.PubKey == peer && recipient == self
}
