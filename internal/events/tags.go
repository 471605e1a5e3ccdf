package events

import (
	"github.com/nbd-wtf/go-nostr"
)

// Tag names used by the chat protocol. Tags are positional arrays of
// strings on the wire; these accessors keep the lookups in one place.
const (
	tagCommunity = "a" // community address reference
	tagChannel   = "t" // channel name within a community
	tagReply     = "e" // referenced event (reply target or reaction subject)
	tagRecipient = "p" // recipient or mentioned identity
)

// TagValue returns the first value of the named tag, if present
func TagValue(event *nostr.Event, name string) (string, bool) {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns all values of the named tag
func TagValues(event *nostr.Event, name string) []string {
	var values []string
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// CommunityRef returns the community an event belongs to, if tagged
func CommunityRef(event *nostr.Event) (string, bool) {
	return TagValue(event, tagCommunity)
}

// ChannelTag returns the channel an event is tagged for, if any
func ChannelTag(event *nostr.Event) (string, bool) {
	return TagValue(event, tagChannel)
}

// ReplyTarget returns the event id this event replies to or references
func ReplyTarget(event *nostr.Event) (string, bool) {
	return TagValue(event, tagReply)
}

// Recipient returns the identity this event is addressed to, if any
func Recipient(event *nostr.Event) (string, bool) {
	return TagValue(event, tagRecipient)
}

// HasReplyTag reports whether the event carries a reply reference.
// Reply events never appear in the flat channel feed.
func HasReplyTag(event *nostr.Event) bool {
	_, ok := ReplyTarget(event)
	return ok
}

// CommunityTag builds the community reference tag for an outgoing event
func CommunityTag(communityID string) nostr.Tag {
	return nostr.Tag{tagCommunity, communityID}
}

// ChannelNameTag builds the channel tag for an outgoing event
func ChannelNameTag(channelID string) nostr.Tag {
	return nostr.Tag{tagChannel, channelID}
}

// RecipientTag builds the recipient tag for an outgoing event
func RecipientTag(pubkey string) nostr.Tag {
	return nostr.Tag{tagRecipient, pubkey}
}
