package events

// Event kinds understood by the engine
const (
	KindTextNote      = 1     // Plain text message
	KindDirectMessage = 4     // Direct message between two identities
	KindReaction      = 7     // Reaction to another event
	KindChatMessage   = 9     // Channel chat message
	KindComment       = 1111  // Comment on another event
	KindCommunity     = 34550 // Community definition
	KindMemberList    = 34551 // Approved-members list for a community
)

// DefaultChannel is the implicit channel for messages carrying no channel tag
const DefaultChannel = "default"

// messageKinds are the kinds surfaced in channel feeds
var messageKinds = map[int]bool{
	KindTextNote:    true,
	KindChatMessage: true,
}

// IsMessageKind reports whether kind is a recognized channel message kind
func IsMessageKind(kind int) bool {
	return messageKinds[kind]
}

// MessageKinds returns the recognized channel message kinds
func MessageKinds() []int {
	return []int{KindTextNote, KindChatMessage}
}

// RelatedKinds returns the kinds fetched by the related-event loader
// (reactions and comments referencing displayed messages)
func RelatedKinds() []int {
	return []int{KindReaction, KindComment}
}
