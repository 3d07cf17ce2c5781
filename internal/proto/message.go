package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
// ID is chosen by the client and echoed in the acknowledgement.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	// ErrCodeUnsupportedVersion rejects a hello carrying another protocol version.
	ErrCodeUnsupportedVersion = "unsupported_version"

	InboundTypeHello = "hello"

	InboundTypeSendMessage   = "send-message"
	InboundTypeEditMessage   = "edit-message"
	InboundTypeDeleteMessage = "delete-message"
	InboundTypePinMessage    = "pin-message"
	InboundTypeUnpinMessage  = "unpin-message"

	InboundTypeCreatePrivateChat  = "create-private-chat"
	InboundTypeCreateGroupChat    = "create-group-chat"
	InboundTypeDeleteChat         = "delete-chat"
	InboundTypeLeaveChat          = "leave-chat"
	InboundTypeAddMembers         = "add-members"
	InboundTypeRemoveMembers      = "remove-members"
	InboundTypePromoteAdmins      = "promote-admins"
	InboundTypeSetPermission      = "set-permission"
	InboundTypeMuteChat           = "mute-chat"
	InboundTypeUnmuteChat         = "unmute-chat"
	InboundTypeEnableDestruction  = "enable-destruction"
	InboundTypeDisableDestruction = "disable-destruction"

	InboundTypeUpdateDraft = "update-draft"

	InboundTypeCreateCall  = "create-call"
	InboundTypeJoinCall    = "join-call"
	InboundTypeLeaveCall   = "leave-call"
	InboundTypeRelaySignal = "relay-signal"

	OutboundTypeAck   = "ack"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// HelloData is sent by the client to authenticate the connection.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Ack   *Ack   `json:"ack,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Ack is the single acknowledgement shape for every client-invoked operation.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Res     any    `json:"res,omitempty"`
}

// HelloResult is the acknowledgement payload of a successful hello.
type HelloResult struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Protocol  int    `json:"protocol"`
	Chats     int    `json:"chats"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
