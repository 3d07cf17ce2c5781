package proto

import "encoding/json"

// SendMessageData creates a message, reply or forward.
type SendMessageData struct {
	ChatID         string  `json:"chatId"`
	Content        string  `json:"content,omitempty"`
	Media          string  `json:"media,omitempty"`
	ContentType    string  `json:"contentType,omitempty"`
	ParentID       *string `json:"parentId,omitempty"`
	IsReply        bool    `json:"isReply,omitempty"`
	IsForward      bool    `json:"isForward,omitempty"`
	IsAnnouncement bool    `json:"isAnnouncement,omitempty"`
}

// EditMessageData replaces the content of a message.
type EditMessageData struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
}

// MessageRefData addresses one message (delete, pin, unpin).
type MessageRefData struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// CreatePrivateChatData opens a private chat with another user.
type CreatePrivateChatData struct {
	UserID string `json:"userId"`
}

// CreateGroupChatData creates a group or channel.
type CreateGroupChatData struct {
	Kind            string   `json:"kind"`
	Name            string   `json:"name"`
	MemberIDs       []string `json:"memberIds"`
	ContentFiltered bool     `json:"contentFiltered,omitempty"`
}

// ChatRefData addresses one chat.
type ChatRefData struct {
	ChatID string `json:"chatId"`
}

// MembersData carries a batch of user ids for a chat.
type MembersData struct {
	ChatID  string   `json:"chatId"`
	UserIDs []string `json:"userIds"`
}

// SetPermissionData changes a group/channel permission.
type SetPermissionData struct {
	ChatID string `json:"chatId"`
	Kind   string `json:"kind"`
	Who    string `json:"who"`
}

// MuteChatData mutes a chat; Duration is seconds or -1 for indefinite.
type MuteChatData struct {
	ChatID   string `json:"chatId"`
	Duration int    `json:"duration"`
}

// DestructionData enables self-destruct with Duration seconds.
type DestructionData struct {
	ChatID   string `json:"chatId"`
	Duration int    `json:"duration"`
}

// DraftData overwrites the caller's draft for a chat.
type DraftData struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// CreateCallData starts a call in a chat, or with a user.
type CreateCallData struct {
	ChatID   string `json:"chatId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// CallRefData addresses one call.
type CallRefData struct {
	CallID string `json:"callId"`
}

// RelaySignalData carries an opaque WebRTC signaling payload.
type RelaySignalData struct {
	CallID   string          `json:"callId"`
	ToUserID string          `json:"toUserId"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}
