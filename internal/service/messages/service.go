// Package messages implements the message lifecycle: send, reply, forward,
// edit, delete and pin.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/moderation"
	"github.com/vovakirdan/parley/internal/notify"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/store"
)

// Client-facing reasons.
const (
	ReasonMessageMissing = "message does not exist"
	ReasonParentMissing  = "parent message does not exist"
	ReasonForwardEdit    = "cannot edit a forwarded message"
	ReasonNotSender      = "only the sender can edit a message"
	ReasonCannotDelete   = "only the sender or an admin can delete a message"
)

// Drafts is the draft collaborator cleared on send.
type Drafts interface {
	Clear(userID, chatID string)
}

// Destructor arms self-destruct timers.
type Destructor interface {
	Arm(messageID, chatID string, delay time.Duration) bool
	Disarm(messageID string)
}

// Service implements the message lifecycle.
type Service struct {
	store      store.Store
	access     *access.Service
	hub        *core.Hub
	drafts     Drafts
	destruct   Destructor
	moderation moderation.Classifier
	notifier   notify.Publisher
	log        *zerolog.Logger
}

// Deps groups the collaborators of the service.
type Deps struct {
	Store      store.Store
	Access     *access.Service
	Hub        *core.Hub
	Drafts     Drafts
	Destruct   Destructor
	Moderation moderation.Classifier
	Notifier   notify.Publisher
	Log        *zerolog.Logger
}

// NewService creates a message service. Moderation and Notifier default to
// permissive and no-op implementations.
func NewService(d Deps) *Service {
	if d.Moderation == nil {
		d.Moderation = moderation.NewWordList(nil)
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Log == nil {
		nop := zerolog.Nop()
		d.Log = &nop
	}
	return &Service{
		store:      d.Store,
		access:     d.Access,
		hub:        d.Hub,
		drafts:     d.Drafts,
		destruct:   d.Destruct,
		moderation: d.Moderation,
		notifier:   d.Notifier,
		log:        d.Log,
	}
}

// SendInput describes a new message, reply or forward.
type SendInput struct {
	ChatID         string
	SenderID       string
	Content        string
	Media          string
	ContentType    string
	ParentID       *string
	IsReply        bool
	IsForward      bool
	IsAnnouncement bool
}

func (in SendInput) hasBody() bool {
	return in.Content != "" || in.Media != "" || in.ContentType != ""
}

func (in SendInput) parent() string {
	if in.ParentID == nil {
		return ""
	}
	return strings.TrimSpace(*in.ParentID)
}

func (in SendInput) validate() error {
	if in.ChatID == "" {
		return core.Validation("chatId is required")
	}
	if !in.IsForward && ((in.Content == "" && in.Media == "") || in.ContentType == "") {
		return core.Validation("content or media and contentType are required")
	}
	if (in.IsReply || in.IsForward) && in.parent() == "" {
		return core.Validation("parent message is required for replies and forwards")
	}
	if in.IsForward && in.hasBody() {
		return core.Validation("a forward cannot carry its own content")
	}
	if in.IsReply && in.IsForward {
		return core.Validation("a message cannot be both a reply and a forward")
	}
	return nil
}

// Send validates, persists and broadcasts a message.
func (s *Service) Send(ctx context.Context, in SendInput) (*store.Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	chat, _, err := s.access.Authorize(ctx, in.ChatID, in.SenderID, access.Requirement{Post: true, Reply: in.IsReply})
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ChatID:         chat.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ContentType:    in.ContentType,
		Media:          in.Media,
		IsForward:      in.IsForward,
		IsAnnouncement: in.IsAnnouncement,
	}

	var parent *store.Message
	if in.IsReply || in.IsForward {
		parent, err = s.loadParent(ctx, in)
		if err != nil {
			return nil, err
		}
		if in.IsForward {
			msg.Content = parent.Content
			msg.ContentType = parent.ContentType
			msg.Media = parent.Media
		} else {
			pid := parent.ID
			msg.ParentID = &pid
		}
	}

	if chat.ContentFiltered() {
		msg.IsAppropriate = s.classify(ctx, msg.Content)
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(access.ReasonChatMissing)
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	if in.IsReply && chat.Kind == store.ChatKindChannel {
		if err := s.store.AppendThread(ctx, parent.ID, msg.ID); err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Str("parent_id", parent.ID).Msg("append thread failed")
		}
	}

	s.drafts.Clear(in.SenderID, chat.ID)

	s.hub.Broadcast(chat.ID, &core.Event{
		Kind:    core.EventMessageReceived,
		Payload: proto.NewMessageView(msg),
	})

	if delay, ok := chat.DestructAfter(); ok && s.destruct != nil {
		s.destruct.Arm(msg.ID, chat.ID, delay)
	}

	s.notifyOffline(ctx, chat, msg)

	s.log.Debug().Str("chat_id", chat.ID).Str("message_id", msg.ID).Str("user_id", in.SenderID).Msg("message sent")
	return msg, nil
}

func (s *Service) loadParent(ctx context.Context, in SendInput) (*store.Message, error) {
	parent, err := s.store.GetMessage(ctx, in.parent())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(ReasonParentMissing)
		}
		return nil, fmt.Errorf("load parent: %w", err)
	}
	if in.IsReply && parent.ChatID != in.ChatID {
		return nil, core.NotFound(ReasonParentMissing)
	}
	if in.IsForward && parent.ChatID != in.ChatID {
		// Forwarding requires read access to the source chat.
		if _, _, err := s.access.Authorize(ctx, parent.ChatID, in.SenderID, access.Requirement{}); err != nil {
			return nil, core.NotFound(ReasonParentMissing)
		}
	}
	return parent, nil
}

// classify returns nil when the classifier fails; the flag is informational.
func (s *Service) classify(ctx context.Context, text string) *bool {
	ok, err := s.moderation.Classify(ctx, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("moderation failed")
		return nil
	}
	return &ok
}

func (s *Service) notifyOffline(ctx context.Context, chat *store.Chat, msg *store.Message) {
	now := time.Now()
	for _, m := range chat.Members {
		if m.UserID == msg.SenderID || s.hub.Online(m.UserID) {
			continue
		}
		ref, err := s.store.GetChatRef(ctx, m.UserID, chat.ID)
		if err == nil && ref.Muted && (ref.MutedUntil == nil || ref.MutedUntil.After(now)) {
			continue
		}
		n := notify.Notification{
			UserID:    m.UserID,
			ChatID:    chat.ID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Preview:   notify.Preview(msg.Content),
			CreatedAt: msg.CreatedAt,
		}
		if err := s.notifier.Publish(ctx, n); err != nil {
			s.log.Warn().Err(err).Str("user_id", m.UserID).Str("message_id", msg.ID).Msg("offline notification failed")
		}
	}
}

// EditInput replaces the content of a message.
type EditInput struct {
	MessageID string
	ChatID    string
	UserID    string
	Content   string
}

// Edit updates content of a non-forwarded message and broadcasts it.
func (s *Service) Edit(ctx context.Context, in EditInput) (*store.Message, error) {
	if in.MessageID == "" || in.ChatID == "" {
		return nil, core.Validation("messageId and chatId are required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, core.Validation("content is required")
	}

	msg, err := s.getInChat(ctx, in.MessageID, in.ChatID)
	if err != nil {
		return nil, err
	}
	if msg.IsForward {
		return nil, core.Forbidden(ReasonForwardEdit)
	}

	chat, _, err := s.access.Authorize(ctx, in.ChatID, in.UserID, access.Requirement{})
	if err != nil {
		return nil, err
	}
	if msg.SenderID != in.UserID {
		return nil, core.Forbidden(ReasonNotSender)
	}

	var appropriate *bool
	if chat.ContentFiltered() {
		appropriate = s.classify(ctx, in.Content)
	}

	if err := s.store.UpdateMessageContent(ctx, msg.ID, in.Content, appropriate); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(ReasonMessageMissing)
		}
		return nil, fmt.Errorf("update message: %w", err)
	}

	updated, err := s.getInChat(ctx, msg.ID, in.ChatID)
	if err != nil {
		return nil, err
	}

	s.hub.Broadcast(in.ChatID, &core.Event{
		Kind:    core.EventMessageEdited,
		Payload: proto.NewMessageView(updated),
	})
	return updated, nil
}

// Delete removes a message. The sender or a chat admin may delete it.
func (s *Service) Delete(ctx context.Context, messageID, chatID, userID string) error {
	if messageID == "" || chatID == "" {
		return core.Validation("messageId and chatId are required")
	}

	msg, err := s.getInChat(ctx, messageID, chatID)
	if err != nil {
		return err
	}
	_, member, err := s.access.Authorize(ctx, chatID, userID, access.Requirement{})
	if err != nil {
		return err
	}
	if msg.SenderID != userID && !member.Role.IsAdmin() {
		return core.Forbidden(ReasonCannotDelete)
	}

	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		return core.NotFound(ReasonMessageMissing)
	}
	if s.destruct != nil {
		s.destruct.Disarm(messageID)
	}

	s.hub.Broadcast(chatID, &core.Event{
		Kind:    core.EventMessageDeleted,
		Payload: proto.MessageRefEvent{ChatID: chatID, MessageID: messageID},
	})
	return nil
}

// Pin sets the pinned flag and broadcasts it. Callers do not acknowledge pins.
func (s *Service) Pin(ctx context.Context, messageID, chatID, userID string) error {
	return s.setPinned(ctx, messageID, chatID, userID, true)
}

// Unpin clears the pinned flag and broadcasts it.
func (s *Service) Unpin(ctx context.Context, messageID, chatID, userID string) error {
	return s.setPinned(ctx, messageID, chatID, userID, false)
}

func (s *Service) setPinned(ctx context.Context, messageID, chatID, userID string, pinned bool) error {
	if _, err := s.getInChat(ctx, messageID, chatID); err != nil {
		return err
	}
	if _, _, err := s.access.Authorize(ctx, chatID, userID, access.Requirement{}); err != nil {
		return err
	}
	if err := s.store.SetPinned(ctx, messageID, pinned); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(ReasonMessageMissing)
		}
		return fmt.Errorf("set pinned: %w", err)
	}

	kind := core.EventMessageUnpinned
	if pinned {
		kind = core.EventMessagePinned
	}
	s.hub.Broadcast(chatID, &core.Event{
		Kind:    kind,
		Payload: proto.MessageRefEvent{ChatID: chatID, MessageID: messageID},
	})
	return nil
}

// History returns a page of messages for a chat member.
func (s *Service) History(ctx context.Context, chatID, userID string, limit int, beforeID *string) ([]*store.Message, error) {
	if _, _, err := s.access.Authorize(ctx, chatID, userID, access.Requirement{}); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.store.ListMessages(ctx, chatID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Service) getInChat(ctx context.Context, messageID, chatID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(ReasonMessageMissing)
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg.ChatID != chatID {
		return nil, core.NotFound(ReasonMessageMissing)
	}
	return msg, nil
}
