package events

import (
	"github.com/nbd-wtf/go-nostr"
)

// ApprovedMembers is the set of identities permitted to post in a
// community. A nil set means membership gating is disabled and no author
// is excluded.
type ApprovedMembers map[string]struct{}

// NewApprovedMembers builds a membership set from pubkeys
func NewApprovedMembers(pubkeys ...string) ApprovedMembers {
	members := make(ApprovedMembers, len(pubkeys))
	for _, pk := range pubkeys {
		members[pk] = struct{}{}
	}
	return members
}

// Has reports whether pubkey is in the set
func (m ApprovedMembers) Has(pubkey string) bool {
	_, ok := m[pubkey]
	return ok
}

// Add inserts a pubkey into the set
func (m ApprovedMembers) Add(pubkey string) {
	m[pubkey] = struct{}{}
}

// MembersFromEvent derives an approved-members set from a member-list
// event: every recipient tag plus the list's author (the community owner
// or a moderator always posts).
func MembersFromEvent(event *nostr.Event) ApprovedMembers {
	members := NewApprovedMembers(event.PubKey)
	for _, pk := range TagValues(event, tagRecipient) {
		members[pk] = struct{}{}
	}
	return members
}
