// Package calls implements voice-call signaling: call lifecycle, the
// per-call signaling room and verbatim relay of peer signaling payloads.
package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/parley/internal/callengine"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/store"
)

// Client-facing reasons.
const (
	ReasonCallMissing    = "call does not exist"
	ReasonCallEnded      = "call has ended"
	ReasonNotParticipant = "not a participant in this call"
	ReasonTargetAbsent   = "target is not a participant in this call"
	ReasonBadSignal      = "kind must be ICE, OFFER or ANSWER"
)

// Signal kinds relayed between peers.
const (
	SignalICE    = "ICE"
	SignalOffer  = "OFFER"
	SignalAnswer = "ANSWER"
)

// Service manages voice calls.
type Service struct {
	store  store.Store
	access *access.Service
	chats  *chats.Service
	hub    *core.Hub
	engine callengine.Engine
	log    *zerolog.Logger
}

// NewService creates a call service. engine may be nil, in which case calls
// carry signaling only.
func NewService(st store.Store, acc *access.Service, chatSvc *chats.Service, hub *core.Hub, engine callengine.Engine, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:  st,
		access: acc,
		chats:  chatSvc,
		hub:    hub,
		engine: engine,
		log:    logger,
	}
}

// JoinResult is returned to a user entering a call.
type JoinResult struct {
	Call  proto.CallView       `json:"call"`
	Media *callengine.JoinInfo `json:"media,omitempty"`
}

// CreateInput selects where a call starts: an existing chat, or the private
// chat with TargetID, which is created when missing.
type CreateInput struct {
	ChatID   string
	TargetID string
}

// CreateCall starts a call with the actor as its only participant.
func (s *Service) CreateCall(ctx context.Context, actor core.Actor, in CreateInput) (*JoinResult, error) {
	var chat *store.Chat
	switch {
	case in.ChatID != "":
		c, _, err := s.access.Authorize(ctx, in.ChatID, actor.UserID, access.Requirement{})
		if err != nil {
			return nil, err
		}
		chat = c
	case in.TargetID != "":
		c, _, err := s.chats.CreatePrivate(ctx, actor, in.TargetID)
		if err != nil {
			return nil, err
		}
		chat = c
	default:
		return nil, core.Validation("chatId or targetId is required")
	}

	call := &store.VoiceCall{
		ID:           uuid.NewString(),
		ChatID:       chat.ID,
		InitiatorID:  actor.UserID,
		Kind:         store.CallKindGroup,
		Status:       store.CallStatusOngoing,
		Participants: []string{actor.UserID},
	}
	if chat.Kind == store.ChatKindPrivate {
		call.Kind = store.CallKindPrivate
	}

	if s.engine != nil {
		room, err := s.engine.AllocateRoom(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("allocate media room: %w", err)
		}
		call.ExternalRoom = room
	}

	if err := s.store.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	s.hub.JoinRoom(actor.SessionID, core.CallRoom(call.ID))
	s.hub.Broadcast(chat.ID, &core.Event{
		Kind:    core.EventCallStarted,
		Payload: proto.CallEvent{CallID: call.ID, ChatID: chat.ID, UserID: actor.UserID},
	})

	s.log.Info().Str("call_id", call.ID).Str("chat_id", chat.ID).Str("user_id", actor.UserID).Msg("call started")
	return s.joinResult(ctx, call, actor.UserID)
}

// JoinCall adds the actor to an ongoing call. Joining twice is a no-op.
func (s *Service) JoinCall(ctx context.Context, actor core.Actor, callID string) (*JoinResult, error) {
	call, err := s.ongoing(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.access.Authorize(ctx, call.ChatID, actor.UserID, access.Requirement{}); err != nil {
		return nil, err
	}

	added, err := s.store.AddParticipant(ctx, callID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	if !added {
		// Either already in, or the call finished meanwhile.
		if call, err = s.ongoing(ctx, callID); err != nil {
			return nil, err
		}
	}

	room := core.CallRoom(callID)
	s.hub.JoinRoom(actor.SessionID, room)
	if added {
		call.Participants = append(call.Participants, actor.UserID)
		s.hub.Broadcast(room, &core.Event{
			Kind:    core.EventParticipantJoined,
			Payload: proto.CallEvent{CallID: callID, ChatID: call.ChatID, UserID: actor.UserID},
		})
	}
	return s.joinResult(ctx, call, actor.UserID)
}

func (s *Service) joinResult(ctx context.Context, call *store.VoiceCall, userID string) (*JoinResult, error) {
	res := &JoinResult{Call: proto.NewCallView(call)}
	if s.engine == nil || call.ExternalRoom == "" {
		return res, nil
	}
	name := userID
	if u, err := s.store.GetUserByID(ctx, userID); err == nil {
		name = u.Username
	}
	info, err := s.engine.JoinInfo(ctx, call, userID, name)
	if err != nil {
		return nil, fmt.Errorf("media join info: %w", err)
	}
	res.Media = info
	return res, nil
}

// SignalInput is one peer signaling message.
type SignalInput struct {
	CallID   string
	ToUserID string
	Kind     string
	Payload  json.RawMessage
}

// RelaySignal forwards a signaling payload to another participant. The
// payload is delivered verbatim.
func (s *Service) RelaySignal(ctx context.Context, actor core.Actor, in SignalInput) error {
	kind := strings.ToUpper(strings.TrimSpace(in.Kind))
	switch kind {
	case SignalICE, SignalOffer, SignalAnswer:
	default:
		return core.Validation(ReasonBadSignal)
	}
	if in.ToUserID == "" {
		return core.Validation("toUserId is required")
	}

	call, err := s.ongoing(ctx, in.CallID)
	if err != nil {
		return err
	}
	if !slices.Contains(call.Participants, actor.UserID) {
		return core.Forbidden(ReasonNotParticipant)
	}
	if !slices.Contains(call.Participants, in.ToUserID) {
		return core.NotFound(ReasonTargetAbsent)
	}

	s.hub.Notify(in.ToUserID, &core.Event{
		Kind: core.EventCallSignal,
		Room: core.CallRoom(call.ID),
		Payload: proto.SignalEvent{
			CallID:     call.ID,
			FromUserID: actor.UserID,
			Kind:       kind,
			Payload:    in.Payload,
		},
	})
	return nil
}

// LeaveCall removes the user from a call. The call finishes when its last
// participant leaves.
func (s *Service) LeaveCall(ctx context.Context, userID, callID string) error {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound(ReasonCallMissing)
		}
		return fmt.Errorf("get call: %w", err)
	}

	removed, remaining, err := s.store.RemoveParticipant(ctx, callID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if !removed {
		return core.Forbidden(ReasonNotParticipant)
	}

	room := core.CallRoom(callID)
	s.hub.LeaveUser(userID, room)
	s.hub.Broadcast(room, &core.Event{
		Kind:    core.EventParticipantLeft,
		Payload: proto.CallEvent{CallID: callID, ChatID: call.ChatID, UserID: userID},
	})

	if remaining > 0 {
		return nil
	}
	finished, err := s.store.FinishCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("finish call: %w", err)
	}
	if !finished {
		return nil
	}

	if s.engine != nil && call.ExternalRoom != "" {
		if err := s.engine.ReleaseRoom(ctx, call); err != nil {
			s.log.Warn().Err(err).Str("call_id", callID).Msg("release media room failed")
		}
	}
	s.hub.Broadcast(call.ChatID, &core.Event{
		Kind:    core.EventCallEnded,
		Payload: proto.CallEvent{CallID: callID, ChatID: call.ChatID},
	})
	s.hub.CloseRoom(room)
	s.log.Info().Str("call_id", callID).Str("chat_id", call.ChatID).Msg("call finished")
	return nil
}

// HandleDisconnect leaves every call whose room the user no longer occupies
// from any session. rooms are the rooms the closed session was in.
func (s *Service) HandleDisconnect(ctx context.Context, userID string, rooms []string) {
	for _, room := range rooms {
		callID, ok := strings.CutPrefix(room, core.CallRoom(""))
		if !ok || s.hub.UserInRoom(userID, room) {
			continue
		}
		if err := s.LeaveCall(ctx, userID, callID); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Str("call_id", callID).Msg("leave call on disconnect failed")
		}
	}
}

// Get returns a call visible to a member of its chat.
func (s *Service) Get(ctx context.Context, userID, callID string) (*store.VoiceCall, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(ReasonCallMissing)
		}
		return nil, fmt.Errorf("get call: %w", err)
	}
	if _, _, err := s.access.Authorize(ctx, call.ChatID, userID, access.Requirement{}); err != nil {
		return nil, err
	}
	return call, nil
}

func (s *Service) ongoing(ctx context.Context, callID string) (*store.VoiceCall, error) {
	if callID == "" {
		return nil, core.Validation("callId is required")
	}
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound(ReasonCallMissing)
		}
		return nil, fmt.Errorf("get call: %w", err)
	}
	if call.Status != store.CallStatusOngoing {
		return nil, core.NotFound(ReasonCallEnded)
	}
	return call, nil
}
