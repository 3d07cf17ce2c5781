package store

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned (wrapped) when a row is absent or soft-deleted.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint rejects an insert.
var ErrConflict = errors.New("conflict")

// User represents a user in the system.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ChatKind tags the Chat variant.
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
)

// Valid reports whether k is a known chat kind.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindPrivate, ChatKindGroup, ChatKindChannel:
		return true
	}
	return false
}

// Role is a member's role inside a group or channel.
type Role string

const (
	RoleMember  Role = "member"
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
)

// IsAdmin is true for admins and creators.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleCreator
}

// Permission says who may perform a group/channel action.
type Permission string

const (
	PermissionEveryone   Permission = "everyone"
	PermissionAdminsOnly Permission = "adminsOnly"
)

// PermissionKind selects which group/channel permission is changed.
type PermissionKind string

const (
	PermissionPost     PermissionKind = "post"
	PermissionDownload PermissionKind = "download"
)

// Member is a user with a role inside a chat.
type Member struct {
	UserID   string
	Role     Role
	JoinedAt time.Time
}

// GroupSettings is the group/channel specialization of a chat.
type GroupSettings struct {
	Name               string
	PostingPermission  Permission
	DownloadPermission Permission
	ContentFiltered    bool
}

// PrivateSettings is the private-chat specialization.
type PrivateSettings struct {
	DestructSeconds   *int
	DestructEnabledAt *time.Time
}

// Chat is a conversation. Exactly one of Group or Private is set, matching Kind.
type Chat struct {
	ID        string
	Kind      ChatKind
	Members   []Member // ordered by join
	Deleted   bool
	CreatedBy string
	CreatedAt time.Time

	Group   *GroupSettings
	Private *PrivateSettings
}

// Member looks up a current member.
func (c *Chat) Member(userID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// MemberIDs returns member user ids in join order.
func (c *Chat) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// ContentFiltered reports whether messages must pass moderation.
func (c *Chat) ContentFiltered() bool {
	return c.Group != nil && c.Group.ContentFiltered
}

// MaxDurationSeconds is the longest delay, in seconds, a time.Duration holds.
const MaxDurationSeconds = math.MaxInt64 / int64(time.Second)

// DestructAfter returns the self-destruct delay, if enabled. Stored values
// beyond MaxDurationSeconds are clamped.
func (c *Chat) DestructAfter() (time.Duration, bool) {
	if c.Private == nil || c.Private.DestructSeconds == nil {
		return 0, false
	}
	secs := int64(*c.Private.DestructSeconds)
	if secs > MaxDurationSeconds {
		secs = MaxDurationSeconds
	}
	return time.Duration(secs) * time.Second, true
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ChatID         string
	SenderID       string
	Content        string
	ContentType    string
	Media          string
	ParentID       *string
	ThreadIDs      []string
	IsPinned       bool
	IsForward      bool
	IsAnnouncement bool
	IsEdited       bool
	IsAppropriate  *bool // set only for content-filtered chats
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CallKind tags a voice call by the chat it belongs to.
type CallKind string

const (
	CallKindPrivate CallKind = "private"
	CallKindGroup   CallKind = "group"
)

// CallStatus is the voice call lifecycle state.
type CallStatus string

const (
	CallStatusOngoing  CallStatus = "ongoing"
	CallStatusFinished CallStatus = "finished"
)

// VoiceCall represents a voice call in a chat.
type VoiceCall struct {
	ID           string
	ChatID       string
	InitiatorID  string
	Kind         CallKind
	Status       CallStatus
	Participants []string
	ExternalRoom string // media backend room, empty when none
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// ChatRef is an entry in a user's chat list.
type ChatRef struct {
	UserID     string
	ChatID     string
	Muted      bool
	MutedUntil *time.Time
	AddedAt    time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	// Returns ErrConflict when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UserExists reports whether id resolves to a real user.
	UserExists(ctx context.Context, id string) (bool, error)
}

// ChatStore handles chat and membership persistence.
// Membership mutations are single conditional statements so concurrent
// callers never lose updates.
type ChatStore interface {
	// CreateChat persists chat with its members and adds the chat to every
	// member's chat list. A non-empty directKey deduplicates private chats
	// and yields ErrConflict when already taken.
	CreateChat(ctx context.Context, chat *Chat, directKey string) error

	// GetChat retrieves a chat by ID, including deleted ones.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// GetChatByDirectKey retrieves the live private chat for a direct key.
	GetChatByDirectKey(ctx context.Context, directKey string) (*Chat, error)

	// AddMember adds a user if absent and the chat is live. Returns false if
	// nothing changed.
	AddMember(ctx context.Context, chatID string, member Member) (bool, error)

	// RemoveMember removes a user if present. Returns false if nothing changed.
	RemoveMember(ctx context.Context, chatID, userID string) (bool, error)

	// SetMemberRole changes the role of a current member.
	SetMemberRole(ctx context.Context, chatID, userID string, role Role) (bool, error)

	// CountMembers returns the current member count.
	CountMembers(ctx context.Context, chatID string) (int, error)

	// SetPermission updates a group/channel permission.
	SetPermission(ctx context.Context, chatID string, kind PermissionKind, who Permission) error

	// SetDestruct sets or clears (nil seconds) the private chat destruct duration.
	SetDestruct(ctx context.Context, chatID string, seconds *int, enabledAt *time.Time) error

	// MarkChatDeleted clears members and chat lists and sets the terminal
	// deleted flag. Returns the former member ids, or ErrNotFound if the chat
	// was already deleted.
	MarkChatDeleted(ctx context.Context, chatID string) ([]string, error)

	// ListChatRefs lists a user's chat list.
	ListChatRefs(ctx context.Context, userID string) ([]*ChatRef, error)

	// GetChatRef retrieves one chat list entry.
	GetChatRef(ctx context.Context, userID, chatID string) (*ChatRef, error)

	// SetMuted updates the mute flag of a chat list entry.
	SetMuted(ctx context.Context, userID, chatID string, muted bool, until *time.Time) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message. Returns ErrNotFound if the chat is
	// missing or deleted.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message with its thread.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessageContent replaces content and marks the message edited.
	UpdateMessageContent(ctx context.Context, id, content string, appropriate *bool) error

	// DeleteMessage removes a message. Returns false if it was already gone.
	DeleteMessage(ctx context.Context, id string) (bool, error)

	// SetPinned sets or clears the pin flag.
	SetPinned(ctx context.Context, id string, pinned bool) error

	// AppendThread appends a reply id to the parent's thread.
	AppendThread(ctx context.Context, parentID, messageID string) error

	// ListMessages retrieves messages of a chat in chronological order.
	// If beforeID is provided, returns messages older than that message.
	ListMessages(ctx context.Context, chatID string, limit int, beforeID *string) ([]*Message, error)
}

// CallStore handles voice call persistence.
type CallStore interface {
	// CreateCall creates a new call with its initial participants.
	CreateCall(ctx context.Context, call *VoiceCall) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*VoiceCall, error)

	// AddParticipant adds a user to an ongoing call. Returns false if the user
	// already participates.
	AddParticipant(ctx context.Context, callID, userID string) (bool, error)

	// RemoveParticipant removes a user and reports how many remain.
	RemoveParticipant(ctx context.Context, callID, userID string) (removed bool, remaining int, err error)

	// FinishCall moves an ongoing call to finished. Returns false if it was
	// already finished.
	FinishCall(ctx context.Context, callID string) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	CallStore

	// Close closes the underlying database connection.
	Close() error
}
