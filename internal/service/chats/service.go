// Package chats implements the chat lifecycle: private and group/channel
// creation, deletion, membership, roles, permissions, mute and self-destruct
// settings.
package chats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/timers"
)

// Client-facing reasons.
const (
	ReasonSelfChat     = "cannot start a private chat with yourself"
	ReasonUserMissing  = "user does not exist"
	ReasonNotInList    = "chat is not in your chat list"
	ReasonBadKind      = "kind must be group or channel"
	ReasonNameRequired = "name is required"
)

const timerTimeout = 10 * time.Second

// BatchResult reports a partially successful batch. Failed ids never abort
// the valid subset.
type BatchResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Partial reports whether any id failed.
func (b BatchResult) Partial() bool {
	return len(b.Failed) > 0
}

// FailedIDs returns the ids that could not be processed.
func (b BatchResult) FailedIDs() []string {
	return b.Failed
}

// Config holds chat limits.
type Config struct {
	MaxGroupSize int
}

// Service implements the chat lifecycle.
type Service struct {
	store  store.Store
	access *access.Service
	hub    *core.Hub
	timers *timers.Set
	cfg    Config
	log    *zerolog.Logger
	now    func() time.Time
}

// NewService creates a chat service.
func NewService(st store.Store, acc *access.Service, hub *core.Hub, set *timers.Set, cfg Config, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.MaxGroupSize <= 0 {
		cfg.MaxGroupSize = 200
	}
	return &Service{
		store:  st,
		access: acc,
		hub:    hub,
		timers: set,
		cfg:    cfg,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DirectKey is the dedup key of the private chat between two users.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// CreatePrivate opens the private chat between the actor and otherID, or
// returns the live one that already exists. created is false for the latter.
func (s *Service) CreatePrivate(ctx context.Context, actor core.Actor, otherID string) (chat *store.Chat, created bool, err error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, false, core.Validation("userId is required")
	}
	if otherID == actor.UserID {
		return nil, false, core.Validation(ReasonSelfChat)
	}
	if err := s.requireUser(ctx, otherID); err != nil {
		return nil, false, err
	}

	key := DirectKey(actor.UserID, otherID)
	if existing, err := s.store.GetChatByDirectKey(ctx, key); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup private chat: %w", err)
	}

	chat = &store.Chat{
		Kind:      store.ChatKindPrivate,
		CreatedBy: actor.UserID,
		Private:   &store.PrivateSettings{},
		Members: []store.Member{
			{UserID: actor.UserID, Role: store.RoleMember},
			{UserID: otherID, Role: store.RoleMember},
		},
	}
	if err := s.store.CreateChat(ctx, chat, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with the other user; theirs wins.
			existing, getErr := s.store.GetChatByDirectKey(ctx, key)
			if getErr != nil {
				return nil, false, fmt.Errorf("lookup private chat: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create private chat: %w", err)
	}

	s.joinAndAnnounce(actor, chat, chat.MemberIDs())
	s.log.Info().Str("chat_id", chat.ID).Str("user_id", actor.UserID).Msg("private chat created")
	return chat, true, nil
}

// GroupInput describes a new group or channel.
type GroupInput struct {
	Kind            store.ChatKind
	Name            string
	MemberIDs       []string
	ContentFiltered bool
}

// CreateGroup creates a group or channel with the actor as admin. Member ids
// that do not resolve to users are reported in the batch result.
func (s *Service) CreateGroup(ctx context.Context, actor core.Actor, in GroupInput) (*store.Chat, BatchResult, error) {
	var res BatchResult
	if in.Kind != store.ChatKindGroup && in.Kind != store.ChatKindChannel {
		return nil, res, core.Validation(ReasonBadKind)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, res, core.Validation(ReasonNameRequired)
	}

	ids := dedupe(in.MemberIDs, actor.UserID)
	if in.Kind == store.ChatKindGroup && len(ids)+1 > s.cfg.MaxGroupSize {
		return nil, res, s.sizeError()
	}

	chat := &store.Chat{
		Kind:      in.Kind,
		CreatedBy: actor.UserID,
		Group: &store.GroupSettings{
			Name:               name,
			PostingPermission:  store.PermissionEveryone,
			DownloadPermission: store.PermissionEveryone,
			ContentFiltered:    in.ContentFiltered,
		},
		Members: []store.Member{{UserID: actor.UserID, Role: store.RoleAdmin}},
	}
	for _, id := range ids {
		ok, err := s.store.UserExists(ctx, id)
		if err != nil {
			return nil, res, fmt.Errorf("check user %s: %w", id, err)
		}
		if !ok {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
		chat.Members = append(chat.Members, store.Member{UserID: id, Role: store.RoleMember})
	}

	if err := s.store.CreateChat(ctx, chat, ""); err != nil {
		return nil, res, fmt.Errorf("create chat: %w", err)
	}

	s.joinAndAnnounce(actor, chat, chat.MemberIDs())
	s.log.Info().Str("chat_id", chat.ID).Str("kind", string(chat.Kind)).Int("members", len(chat.Members)).Msg("chat created")
	return chat, res, nil
}

// joinAndAnnounce subscribes every session of userIDs to the chat room and
// pushes chat-joined. The acting session learns from its ack instead.
func (s *Service) joinAndAnnounce(actor core.Actor, chat *store.Chat, userIDs []string) {
	view := proto.NewChatView(chat)
	for _, id := range userIDs {
		s.hub.JoinUser(id, chat.ID)
		ev := &core.Event{Kind: core.EventChatJoined, Room: chat.ID, Payload: view}
		if id == actor.UserID {
			s.hub.NotifyOthers(id, actor.SessionID, ev)
		} else {
			s.hub.Notify(id, ev)
		}
	}
}

// Delete deletes a chat. Group and channel chats require an admin; private
// chat members may delete their chat.
func (s *Service) Delete(ctx context.Context, actor core.Actor, chatID string) error {
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Admin: true}); err != nil {
		return err
	}

	former, err := s.store.MarkChatDeleted(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(access.ReasonChatMissing)
		}
		return fmt.Errorf("delete chat: %w", err)
	}

	// Every former member is told directly; the room alone would miss
	// sessions that never joined it.
	payload := proto.ChatEvent{ChatID: chatID}
	for _, id := range former {
		s.hub.Notify(id, &core.Event{Kind: core.EventChatDeleted, Room: chatID, Payload: payload})
		s.timers.Cancel(muteKey(id, chatID))
	}
	s.hub.CloseRoom(chatID)

	s.log.Info().Str("chat_id", chatID).Str("user_id", actor.UserID).Int("members", len(former)).Msg("chat deleted")
	return nil
}

// Leave removes the actor from a group or channel. The chat is deleted when
// its last member leaves.
func (s *Service) Leave(ctx context.Context, actor core.Actor, chatID string) error {
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.GroupOrChannel}); err != nil {
		return err
	}

	removed, err := s.store.RemoveMember(ctx, chatID, actor.UserID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return core.Forbidden(access.ReasonNotMember)
	}
	s.timers.Cancel(muteKey(actor.UserID, chatID))

	s.hub.LeaveUser(actor.UserID, chatID)
	s.hub.NotifyOthers(actor.UserID, actor.SessionID, &core.Event{
		Kind:    core.EventChatRemoved,
		Room:    chatID,
		Payload: proto.ChatEvent{ChatID: chatID},
	})
	s.hub.Broadcast(chatID, &core.Event{
		Kind:    core.EventMemberLeft,
		Payload: proto.MemberEvent{ChatID: chatID, UserID: actor.UserID},
	})

	s.deleteIfEmpty(ctx, chatID)
	return nil
}

func (s *Service) deleteIfEmpty(ctx context.Context, chatID string) {
	n, err := s.store.CountMembers(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("count members failed")
		return
	}
	if n > 0 {
		return
	}
	if _, err := s.store.MarkChatDeleted(ctx, chatID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("delete empty chat failed")
		return
	}
	s.hub.CloseRoom(chatID)
	s.log.Info().Str("chat_id", chatID).Msg("empty chat deleted")
}

// AddMembers adds users to a group or channel. Ids already present, repeated
// in the batch or not resolving to users are reported as failed. The group size cap is checked
// before any insert and may be exceeded by concurrent batches.
func (s *Service) AddMembers(ctx context.Context, actor core.Actor, chatID string, userIDs []string) (BatchResult, error) {
	var res BatchResult
	chat, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.GroupOrChannel, Admin: true})
	if err != nil {
		return res, err
	}

	ids, repeats := splitRepeats(userIDs)
	res.Failed = append(res.Failed, repeats...)

	var candidates []string
	for _, id := range ids {
		if _, member := chat.Member(id); member {
			res.Failed = append(res.Failed, id)
			continue
		}
		ok, err := s.store.UserExists(ctx, id)
		if err != nil {
			return res, fmt.Errorf("check user %s: %w", id, err)
		}
		if !ok {
			res.Failed = append(res.Failed, id)
			continue
		}
		candidates = append(candidates, id)
	}

	if chat.Kind == store.ChatKindGroup && len(chat.Members)+len(candidates) > s.cfg.MaxGroupSize {
		return BatchResult{}, s.sizeError()
	}

	for _, id := range candidates {
		added, err := s.store.AddMember(ctx, chatID, store.Member{UserID: id, Role: store.RoleMember})
		if err != nil {
			return res, fmt.Errorf("add member %s: %w", id, err)
		}
		if !added {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	if len(res.Succeeded) == 0 {
		return res, nil
	}

	if fresh, err := s.store.GetChat(ctx, chatID); err == nil {
		chat = fresh
	}
	s.joinAndAnnounce(actor, chat, res.Succeeded)
	s.hub.Broadcast(chatID, &core.Event{
		Kind:    core.EventMembersAdded,
		Payload: proto.MembersEvent{ChatID: chatID, UserIDs: res.Succeeded},
	})
	return res, nil
}

// RemoveMembers removes users from a group or channel. Non-members, repeats
// and the actor itself are reported as failed.
func (s *Service) RemoveMembers(ctx context.Context, actor core.Actor, chatID string, userIDs []string) (BatchResult, error) {
	var res BatchResult
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.GroupOrChannel, Admin: true}); err != nil {
		return res, err
	}

	ids, repeats := splitRepeats(userIDs)
	res.Failed = append(res.Failed, repeats...)
	for _, id := range ids {
		if id == actor.UserID {
			res.Failed = append(res.Failed, id)
			continue
		}
		removed, err := s.store.RemoveMember(ctx, chatID, id)
		if err != nil {
			return res, fmt.Errorf("remove member %s: %w", id, err)
		}
		if !removed {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
		s.timers.Cancel(muteKey(id, chatID))
		s.hub.LeaveUser(id, chatID)
		s.hub.Notify(id, &core.Event{
			Kind:    core.EventChatRemoved,
			Room:    chatID,
			Payload: proto.ChatEvent{ChatID: chatID},
		})
	}

	if len(res.Succeeded) > 0 {
		s.hub.Broadcast(chatID, &core.Event{
			Kind:    core.EventMembersRemoved,
			Payload: proto.MembersEvent{ChatID: chatID, UserIDs: res.Succeeded},
		})
	}
	return res, nil
}

// PromoteAdmins grants the admin role. Non-members are reported as failed;
// existing admins and creators count as promoted.
func (s *Service) PromoteAdmins(ctx context.Context, actor core.Actor, chatID string, userIDs []string) (BatchResult, error) {
	var res BatchResult
	chat, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.GroupOrChannel, Admin: true})
	if err != nil {
		return res, err
	}

	for _, id := range dedupe(userIDs, "") {
		m, ok := chat.Member(id)
		if !ok {
			res.Failed = append(res.Failed, id)
			continue
		}
		if !m.Role.IsAdmin() {
			changed, err := s.store.SetMemberRole(ctx, chatID, id, store.RoleAdmin)
			if err != nil {
				return res, fmt.Errorf("promote %s: %w", id, err)
			}
			if !changed {
				// Left between the read and the update.
				res.Failed = append(res.Failed, id)
				continue
			}
		}
		res.Succeeded = append(res.Succeeded, id)
		s.hub.Notify(id, &core.Event{
			Kind:    core.EventAdminPromoted,
			Room:    chatID,
			Payload: proto.MemberEvent{ChatID: chatID, UserID: id},
		})
	}
	return res, nil
}

// SetPermission changes who may post or download in a group or channel.
func (s *Service) SetPermission(ctx context.Context, actor core.Actor, chatID string, kind store.PermissionKind, who store.Permission) error {
	if kind != store.PermissionPost && kind != store.PermissionDownload {
		return core.Validation("kind must be post or download")
	}
	if who != store.PermissionEveryone && who != store.PermissionAdminsOnly {
		return core.Validation("who must be everyone or adminsOnly")
	}
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.GroupOrChannel, Admin: true}); err != nil {
		return err
	}

	if err := s.store.SetPermission(ctx, chatID, kind, who); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(access.ReasonChatMissing)
		}
		return fmt.Errorf("set permission: %w", err)
	}

	s.hub.Broadcast(chatID, &core.Event{
		Kind:    core.EventPermissionUpdated,
		Payload: proto.PermissionEvent{ChatID: chatID, Kind: string(kind), Who: string(who)},
	})
	return nil
}

var durationTooLong = fmt.Sprintf("duration cannot exceed %d seconds", store.MaxDurationSeconds)

func muteKey(userID, chatID string) string {
	return "mute:" + userID + ":" + chatID
}

// Mute mutes a chat in the actor's chat list. durationSeconds is -1 for an
// indefinite mute; a positive value unmutes automatically when it elapses.
func (s *Service) Mute(ctx context.Context, actor core.Actor, chatID string, durationSeconds int) (*store.ChatRef, error) {
	if durationSeconds != -1 && durationSeconds <= 0 {
		return nil, core.Validation("duration must be positive or -1")
	}
	if int64(durationSeconds) > store.MaxDurationSeconds {
		return nil, core.Validation(durationTooLong)
	}
	if chatID == "" {
		return nil, core.Validation("chatId is required")
	}

	var until *time.Time
	if durationSeconds > 0 {
		t := s.now().Add(time.Duration(durationSeconds) * time.Second)
		until = &t
	}

	changed, err := s.store.SetMuted(ctx, actor.UserID, chatID, true, until)
	if err != nil {
		return nil, fmt.Errorf("mute chat: %w", err)
	}
	if !changed {
		return nil, core.NotFound(ReasonNotInList)
	}

	key := muteKey(actor.UserID, chatID)
	if until != nil {
		userID := actor.UserID
		s.timers.Schedule(key, time.Until(*until), func() { s.expireMute(userID, chatID) })
	} else {
		s.timers.Cancel(key)
	}

	ref := &store.ChatRef{UserID: actor.UserID, ChatID: chatID, Muted: true, MutedUntil: until}
	s.hub.NotifyOthers(actor.UserID, actor.SessionID, &core.Event{
		Kind:    core.EventChatMuted,
		Room:    chatID,
		Payload: muteEvent(ref),
	})
	return ref, nil
}

// Unmute clears the mute flag and any pending auto-unmute.
func (s *Service) Unmute(ctx context.Context, actor core.Actor, chatID string) error {
	if chatID == "" {
		return core.Validation("chatId is required")
	}
	s.timers.Cancel(muteKey(actor.UserID, chatID))

	changed, err := s.store.SetMuted(ctx, actor.UserID, chatID, false, nil)
	if err != nil {
		return fmt.Errorf("unmute chat: %w", err)
	}
	if !changed {
		return core.NotFound(ReasonNotInList)
	}

	s.hub.NotifyOthers(actor.UserID, actor.SessionID, &core.Event{
		Kind:    core.EventChatUnmuted,
		Room:    chatID,
		Payload: proto.MuteEvent{ChatID: chatID},
	})
	return nil
}

func (s *Service) expireMute(userID, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	defer cancel()
	if err := s.Unmute(ctx, core.Actor{UserID: userID}, chatID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("auto-unmute failed")
	}
}

func muteEvent(ref *store.ChatRef) proto.MuteEvent {
	ev := proto.MuteEvent{ChatID: ref.ChatID, Muted: ref.Muted}
	if ref.MutedUntil != nil {
		u := ref.MutedUntil.Unix()
		ev.MutedUntil = &u
	}
	return ev
}

// EnableDestruction turns on self-destruct for messages sent afterwards in a
// private chat.
func (s *Service) EnableDestruction(ctx context.Context, actor core.Actor, chatID string, durationSeconds int) error {
	if durationSeconds <= 0 {
		return core.Validation("duration must be positive")
	}
	if int64(durationSeconds) > store.MaxDurationSeconds {
		return core.Validation(durationTooLong)
	}
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.PrivateOnly}); err != nil {
		return err
	}

	now := s.now()
	if err := s.store.SetDestruct(ctx, chatID, &durationSeconds, &now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(access.ReasonChatMissing)
		}
		return fmt.Errorf("enable destruction: %w", err)
	}

	s.hub.NotifyOthers(actor.UserID, actor.SessionID, &core.Event{
		Kind:    core.EventDestructionEnabled,
		Room:    chatID,
		Payload: proto.DestructionEvent{ChatID: chatID, Duration: &durationSeconds},
	})
	return nil
}

// DisableDestruction turns self-destruct off. Timers already armed for
// earlier messages still fire.
func (s *Service) DisableDestruction(ctx context.Context, actor core.Actor, chatID string) error {
	if _, _, err := s.access.Authorize(ctx, chatID, actor.UserID, access.Requirement{Kinds: access.PrivateOnly}); err != nil {
		return err
	}

	if err := s.store.SetDestruct(ctx, chatID, nil, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(access.ReasonChatMissing)
		}
		return fmt.Errorf("disable destruction: %w", err)
	}

	s.hub.NotifyOthers(actor.UserID, actor.SessionID, &core.Event{
		Kind:    core.EventDestructionDisabled,
		Room:    chatID,
		Payload: proto.DestructionEvent{ChatID: chatID},
	})
	return nil
}

// List returns the user's chat list.
func (s *Service) List(ctx context.Context, userID string) ([]*store.ChatRef, error) {
	refs, err := s.store.ListChatRefs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return refs, nil
}

// Get returns a chat visible to a member.
func (s *Service) Get(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	chat, _, err := s.access.Authorize(ctx, chatID, userID, access.Requirement{})
	return chat, err
}

func (s *Service) requireUser(ctx context.Context, id string) error {
	ok, err := s.store.UserExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check user %s: %w", id, err)
	}
	if !ok {
		return core.NotFound(ReasonUserMissing)
	}
	return nil
}

func (s *Service) sizeError() error {
	return core.Validation(fmt.Sprintf("group size cannot exceed %d members", s.cfg.MaxGroupSize))
}

// splitRepeats trims and drops empties, returning first occurrences and the
// ids seen again.
func splitRepeats(ids []string) (unique, repeats []string) {
	unique = make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		switch {
		case id == "":
		case slices.Contains(unique, id):
			if !slices.Contains(repeats, id) {
				repeats = append(repeats, id)
			}
		default:
			unique = append(unique, id)
		}
	}
	return unique, repeats
}

// dedupe trims, drops empties and skip, and keeps first occurrences.
func dedupe(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == skip || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
