package proto

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/parley/internal/store"
)

// MemberView is a chat member on the wire.
type MemberView struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}

// ChatView is a chat on the wire. Group and private fields are flattened and
// only the ones matching Kind are populated.
type ChatView struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Members   []MemberView `json:"members"`
	CreatedBy string       `json:"createdBy,omitempty"`
	CreatedAt int64        `json:"createdAt"`

	Name               string `json:"name,omitempty"`
	PostingPermission  string `json:"postingPermission,omitempty"`
	DownloadPermission string `json:"downloadPermission,omitempty"`
	ContentFiltered    bool   `json:"contentFiltered,omitempty"`

	DestructSeconds   *int   `json:"destructSeconds,omitempty"`
	DestructEnabledAt *int64 `json:"destructEnabledAt,omitempty"`
}

// NewChatView maps a stored chat.
func NewChatView(c *store.Chat) ChatView {
	v := ChatView{
		ID:        c.ID,
		Kind:      string(c.Kind),
		Members:   make([]MemberView, 0, len(c.Members)),
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt.Unix(),
	}
	for _, m := range c.Members {
		v.Members = append(v.Members, MemberView{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt.Unix()})
	}
	if g := c.Group; g != nil {
		v.Name = g.Name
		v.PostingPermission = string(g.PostingPermission)
		v.DownloadPermission = string(g.DownloadPermission)
		v.ContentFiltered = g.ContentFiltered
	}
	if p := c.Private; p != nil {
		v.DestructSeconds = p.DestructSeconds
		v.DestructEnabledAt = unixPtr(p.DestructEnabledAt)
	}
	return v
}

// MessageView is a message on the wire.
type MessageView struct {
	ID             string   `json:"id"`
	ChatID         string   `json:"chatId"`
	SenderID       string   `json:"senderId"`
	Content        string   `json:"content"`
	ContentType    string   `json:"contentType"`
	Media          string   `json:"media,omitempty"`
	ParentID       *string  `json:"parentId,omitempty"`
	ThreadIDs      []string `json:"threadIds,omitempty"`
	IsPinned       bool     `json:"isPinned"`
	IsForward      bool     `json:"isForward"`
	IsAnnouncement bool     `json:"isAnnouncement"`
	IsEdited       bool     `json:"isEdited"`
	IsAppropriate  *bool    `json:"isAppropriate,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
}

// NewMessageView maps a stored message.
func NewMessageView(m *store.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ChatID:         m.ChatID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ContentType:    m.ContentType,
		Media:          m.Media,
		ParentID:       m.ParentID,
		ThreadIDs:      m.ThreadIDs,
		IsPinned:       m.IsPinned,
		IsForward:      m.IsForward,
		IsAnnouncement: m.IsAnnouncement,
		IsEdited:       m.IsEdited,
		IsAppropriate:  m.IsAppropriate,
		CreatedAt:      m.CreatedAt.Unix(),
		UpdatedAt:      m.UpdatedAt.Unix(),
	}
}

// NewMessageViews maps a page of messages.
func NewMessageViews(msgs []*store.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageView(m))
	}
	return out
}

// CallView is a voice call on the wire.
type CallView struct {
	ID           string   `json:"id"`
	ChatID       string   `json:"chatId"`
	InitiatorID  string   `json:"initiatorId"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
	EndedAt      *int64   `json:"endedAt,omitempty"`
}

// NewCallView maps a stored call.
func NewCallView(c *store.VoiceCall) CallView {
	return CallView{
		ID:           c.ID,
		ChatID:       c.ChatID,
		InitiatorID:  c.InitiatorID,
		Kind:         string(c.Kind),
		Status:       string(c.Status),
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt.Unix(),
		EndedAt:      unixPtr(c.EndedAt),
	}
}

// ChatRefView is a chat list entry on the wire.
type ChatRefView struct {
	ChatID     string `json:"chatId"`
	Muted      bool   `json:"muted"`
	MutedUntil *int64 `json:"mutedUntil,omitempty"`
	AddedAt    int64  `json:"addedAt"`
}

// NewChatRefView maps a chat list entry.
func NewChatRefView(r *store.ChatRef) ChatRefView {
	return ChatRefView{
		ChatID:     r.ChatID,
		Muted:      r.Muted,
		MutedUntil: unixPtr(r.MutedUntil),
		AddedAt:    r.AddedAt.Unix(),
	}
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

// Pushed event payloads.

// MessageRefEvent identifies a message in a chat.
type MessageRefEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ChatEvent identifies a chat.
type ChatEvent struct {
	ChatID string `json:"chatId"`
}

// MemberEvent names one member of a chat.
type MemberEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// MembersEvent names several members of a chat.
type MembersEvent struct {
	ChatID  string   `json:"chatId"`
	UserIDs []string `json:"userIds"`
}

// PermissionEvent reports a permission change.
type PermissionEvent struct {
	ChatID string `json:"chatId"`
	Kind   string `json:"kind"`
	Who    string `json:"who"`
}

// MuteEvent reports a mute change on the caller's chat list.
type MuteEvent struct {
	ChatID     string `json:"chatId"`
	Muted      bool   `json:"muted"`
	MutedUntil *int64 `json:"mutedUntil,omitempty"`
}

// DestructionEvent reports a self-destruct toggle.
type DestructionEvent struct {
	ChatID   string `json:"chatId"`
	Duration *int   `json:"duration,omitempty"`
}

// DraftEvent syncs a draft across the owner's devices.
type DraftEvent struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// CallEvent reports a call lifecycle change.
type CallEvent struct {
	CallID string `json:"callId"`
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

// SignalEvent delivers a signaling payload verbatim.
type SignalEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}
