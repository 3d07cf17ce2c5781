package core

// EventKind names a server-pushed event. The value is sent on the wire.
type EventKind string

// Message events.
const (
	EventMessageReceived   EventKind = "message-received"
	EventMessageEdited     EventKind = "message-edited"
	EventMessageDeleted    EventKind = "message-deleted"
	EventMessagePinned     EventKind = "message-pinned"
	EventMessageUnpinned   EventKind = "message-unpinned"
	EventMessageDestructed EventKind = "message-destructed"
)

// Chat events.
const (
	EventChatJoined          EventKind = "chat-joined"
	EventChatDeleted         EventKind = "chat-deleted"
	EventChatRemoved         EventKind = "chat-removed"
	EventMemberLeft          EventKind = "member-left"
	EventMembersAdded        EventKind = "members-added"
	EventMembersRemoved      EventKind = "members-removed"
	EventAdminPromoted       EventKind = "admin-promoted"
	EventPermissionUpdated   EventKind = "permission-updated"
	EventChatMuted           EventKind = "chat-muted"
	EventChatUnmuted         EventKind = "chat-unmuted"
	EventDestructionEnabled  EventKind = "destruction-enabled"
	EventDestructionDisabled EventKind = "destruction-disabled"
	EventDraftUpdated        EventKind = "draft-updated"
)

// Call events.
const (
	EventCallStarted       EventKind = "call-started"
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
	EventCallEnded         EventKind = "call-ended"
	EventCallSignal        EventKind = "call-signal"
)

// Event is sent to sessions to describe what happened in the system.
// Payload is marshalled as the event data.
type Event struct {
	Kind    EventKind
	Room    string
	Payload any
}

// CallRoom is the signaling room name for a call.
func CallRoom(callID string) string {
	return "call:" + callID
}
