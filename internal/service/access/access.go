// Package access enforces chat membership, roles and posting rules.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/store"
)

// Denial reasons. Clients display them verbatim.
const (
	ReasonChatMissing       = "chat does not exist"
	ReasonWrongChatType     = "wrong chat type"
	ReasonNotMember         = "not a member"
	ReasonInsufficientRole  = "insufficient role"
	ReasonChannelAdminsOnly = "only admins can post to this channel"
	ReasonGroupPostingOff   = "group posting is restricted to admins"
)

// Requirement describes what a caller must satisfy on a chat.
// The zero value requires membership only.
type Requirement struct {
	// Kinds restricts the chat kinds the operation is valid on. Empty allows all.
	Kinds []store.ChatKind
	// Admin requires role admin or creator. Private chat members are equals
	// and always satisfy it.
	Admin bool
	// Post applies the posting permission of the chat.
	Post bool
	// Reply marks the post as a reply, which channels may allow for members.
	Reply bool
}

// GroupOrChannel is the kind restriction for group/channel-only operations.
var GroupOrChannel = []store.ChatKind{store.ChatKindGroup, store.ChatKindChannel}

// PrivateOnly is the kind restriction for private-chat-only operations.
var PrivateOnly = []store.ChatKind{store.ChatKindPrivate}

// Service authorizes callers against chats.
type Service struct {
	chats store.ChatStore
}

// NewService creates an access service.
func NewService(chats store.ChatStore) *Service {
	return &Service{chats: chats}
}

// Authorize loads a chat and checks req for userID. It returns the chat and
// the caller's membership, a *core.CoreError on denial, or a wrapped store
// error on infrastructure failure. It never mutates anything.
func (s *Service) Authorize(ctx context.Context, chatID, userID string, req Requirement) (*store.Chat, store.Member, error) {
	if chatID == "" {
		return nil, store.Member{}, core.Validation("chatId is required")
	}

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.Member{}, core.NotFound(ReasonChatMissing)
		}
		return nil, store.Member{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	if chat.Deleted {
		return nil, store.Member{}, core.NotFound(ReasonChatMissing)
	}

	if len(req.Kinds) > 0 && !slices.Contains(req.Kinds, chat.Kind) {
		return nil, store.Member{}, core.NewError(core.ErrCodeWrongChatType, ReasonWrongChatType)
	}

	member, ok := chat.Member(userID)
	if !ok {
		return nil, store.Member{}, core.Forbidden(ReasonNotMember)
	}

	if req.Admin && chat.Kind != store.ChatKindPrivate && !member.Role.IsAdmin() {
		return nil, store.Member{}, core.Forbidden(ReasonInsufficientRole)
	}

	if req.Post {
		if reason := postingDenial(chat, member, req.Reply); reason != "" {
			return nil, store.Member{}, core.Forbidden(reason)
		}
	}

	return chat, member, nil
}

// postingDenial returns the reason a member may not post, or "".
func postingDenial(chat *store.Chat, member store.Member, reply bool) string {
	if chat.Kind == store.ChatKindPrivate || member.Role.IsAdmin() {
		return ""
	}
	open := chat.Group != nil && chat.Group.PostingPermission == store.PermissionEveryone
	switch chat.Kind {
	case store.ChatKindGroup:
		if !open {
			return ReasonGroupPostingOff
		}
	case store.ChatKindChannel:
		// Members never start threads in a channel; they may reply when
		// the channel is open.
		if !reply || !open {
			return ReasonChannelAdminsOnly
		}
	}
	return ""
}
