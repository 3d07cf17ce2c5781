package http

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/calls"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/service/messages"
	"github.com/vovakirdan/parley/internal/store"
)

// handlerFunc runs one client-invoked operation and returns the ack payload.
type handlerFunc func(ctx context.Context, actor core.Actor, data json.RawMessage) (any, error)

type route struct {
	handle  handlerFunc
	message string // ack message on success
	silent  bool   // fire-and-forget, never acknowledged
}

// batch is implemented by results that may carry failed ids.
type batch interface {
	Partial() bool
	FailedIDs() []string
}

type dispatcher struct {
	routes map[string]route
	log    *zerolog.Logger
}

func newDispatcher(svc Services, logger *zerolog.Logger) *dispatcher {
	d := &dispatcher{routes: make(map[string]route), log: logger}

	// Messages.
	d.add(proto.InboundTypeSendMessage, "message sent", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.SendMessageData](raw)
		if err != nil {
			return nil, err
		}
		msg, err := svc.Messages.Send(ctx, messages.SendInput{
			ChatID:         in.ChatID,
			SenderID:       a.UserID,
			Content:        in.Content,
			Media:          in.Media,
			ContentType:    in.ContentType,
			ParentID:       in.ParentID,
			IsReply:        in.IsReply,
			IsForward:      in.IsForward,
			IsAnnouncement: in.IsAnnouncement,
		})
		if err != nil {
			return nil, err
		}
		return proto.NewMessageView(msg), nil
	})
	d.add(proto.InboundTypeEditMessage, "message edited", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.EditMessageData](raw)
		if err != nil {
			return nil, err
		}
		msg, err := svc.Messages.Edit(ctx, messages.EditInput{
			MessageID: in.MessageID,
			ChatID:    in.ChatID,
			UserID:    a.UserID,
			Content:   in.Content,
		})
		if err != nil {
			return nil, err
		}
		return proto.NewMessageView(msg), nil
	})
	d.add(proto.InboundTypeDeleteMessage, "message deleted", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.MessageRefData](raw)
		if err != nil {
			return nil, err
		}
		if err := svc.Messages.Delete(ctx, in.MessageID, in.ChatID, a.UserID); err != nil {
			return nil, err
		}
		return proto.MessageRefEvent{ChatID: in.ChatID, MessageID: in.MessageID}, nil
	})
	d.addSilent(proto.InboundTypePinMessage, func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.MessageRefData](raw)
		if err != nil {
			return nil, err
		}
		return nil, svc.Messages.Pin(ctx, in.MessageID, in.ChatID, a.UserID)
	})
	d.addSilent(proto.InboundTypeUnpinMessage, func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.MessageRefData](raw)
		if err != nil {
			return nil, err
		}
		return nil, svc.Messages.Unpin(ctx, in.MessageID, in.ChatID, a.UserID)
	})

	// Chats.
	d.add(proto.InboundTypeCreatePrivateChat, "chat ready", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.CreatePrivateChatData](raw)
		if err != nil {
			return nil, err
		}
		chat, created, err := svc.Chats.CreatePrivate(ctx, a, in.UserID)
		if err != nil {
			return nil, err
		}
		return privateChatResult{Chat: proto.NewChatView(chat), Created: created}, nil
	})
	d.add(proto.InboundTypeCreateGroupChat, "chat created", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.CreateGroupChatData](raw)
		if err != nil {
			return nil, err
		}
		chat, res, err := svc.Chats.CreateGroup(ctx, a, chats.GroupInput{
			Kind:            store.ChatKind(in.Kind),
			Name:            in.Name,
			MemberIDs:       in.MemberIDs,
			ContentFiltered: in.ContentFiltered,
		})
		if err != nil {
			return nil, err
		}
		return groupChatResult{Chat: proto.NewChatView(chat), BatchResult: res}, nil
	})
	d.add(proto.InboundTypeDeleteChat, "chat deleted", d.chatRef(svc.Chats.Delete))
	d.add(proto.InboundTypeLeaveChat, "left chat", d.chatRef(svc.Chats.Leave))
	d.add(proto.InboundTypeAddMembers, "members added", d.members(svc.Chats.AddMembers))
	d.add(proto.InboundTypeRemoveMembers, "members removed", d.members(svc.Chats.RemoveMembers))
	d.add(proto.InboundTypePromoteAdmins, "admins promoted", d.members(svc.Chats.PromoteAdmins))
	d.add(proto.InboundTypeSetPermission, "permission updated", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.SetPermissionData](raw)
		if err != nil {
			return nil, err
		}
		err = svc.Chats.SetPermission(ctx, a, in.ChatID, store.PermissionKind(in.Kind), store.Permission(in.Who))
		if err != nil {
			return nil, err
		}
		return proto.PermissionEvent{ChatID: in.ChatID, Kind: in.Kind, Who: in.Who}, nil
	})
	d.add(proto.InboundTypeMuteChat, "chat muted", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.MuteChatData](raw)
		if err != nil {
			return nil, err
		}
		ref, err := svc.Chats.Mute(ctx, a, in.ChatID, in.Duration)
		if err != nil {
			return nil, err
		}
		return proto.NewChatRefView(ref), nil
	})
	d.add(proto.InboundTypeUnmuteChat, "chat unmuted", d.chatRef(svc.Chats.Unmute))
	d.add(proto.InboundTypeEnableDestruction, "destruction enabled", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.DestructionData](raw)
		if err != nil {
			return nil, err
		}
		if err := svc.Chats.EnableDestruction(ctx, a, in.ChatID, in.Duration); err != nil {
			return nil, err
		}
		return proto.DestructionEvent{ChatID: in.ChatID, Duration: &in.Duration}, nil
	})
	d.add(proto.InboundTypeDisableDestruction, "destruction disabled", d.chatRef(svc.Chats.DisableDestruction))

	// Drafts.
	d.add(proto.InboundTypeUpdateDraft, "draft updated", func(_ context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.DraftData](raw)
		if err != nil {
			return nil, err
		}
		if err := svc.Drafts.Update(a.UserID, in.ChatID, in.Text); err != nil {
			return nil, err
		}
		return proto.DraftEvent{ChatID: in.ChatID, Text: in.Text}, nil
	})

	// Calls.
	d.add(proto.InboundTypeCreateCall, "call started", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.CreateCallData](raw)
		if err != nil {
			return nil, err
		}
		return svc.Calls.CreateCall(ctx, a, calls.CreateInput{ChatID: in.ChatID, TargetID: in.TargetID})
	})
	d.add(proto.InboundTypeJoinCall, "joined call", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.CallRefData](raw)
		if err != nil {
			return nil, err
		}
		return svc.Calls.JoinCall(ctx, a, in.CallID)
	})
	d.add(proto.InboundTypeLeaveCall, "left call", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.CallRefData](raw)
		if err != nil {
			return nil, err
		}
		if err := svc.Calls.LeaveCall(ctx, a.UserID, in.CallID); err != nil {
			return nil, err
		}
		return proto.CallEvent{CallID: in.CallID, UserID: a.UserID}, nil
	})
	d.add(proto.InboundTypeRelaySignal, "signal relayed", func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.RelaySignalData](raw)
		if err != nil {
			return nil, err
		}
		return nil, svc.Calls.RelaySignal(ctx, a, calls.SignalInput{
			CallID:   in.CallID,
			ToUserID: in.ToUserID,
			Kind:     in.Kind,
			Payload:  in.Payload,
		})
	})

	return d
}

type privateChatResult struct {
	Chat    proto.ChatView `json:"chat"`
	Created bool           `json:"created"`
}

type groupChatResult struct {
	Chat proto.ChatView `json:"chat"`
	chats.BatchResult
}

func (d *dispatcher) add(typ, message string, h handlerFunc) {
	d.routes[typ] = route{handle: h, message: message}
}

func (d *dispatcher) addSilent(typ string, h handlerFunc) {
	d.routes[typ] = route{handle: h, silent: true}
}

func (d *dispatcher) chatRef(fn func(context.Context, core.Actor, string) error) handlerFunc {
	return func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.ChatRefData](raw)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, a, in.ChatID); err != nil {
			return nil, err
		}
		return proto.ChatEvent{ChatID: in.ChatID}, nil
	}
}

func (d *dispatcher) members(fn func(context.Context, core.Actor, string, []string) (chats.BatchResult, error)) handlerFunc {
	return func(ctx context.Context, a core.Actor, raw json.RawMessage) (any, error) {
		in, err := decode[proto.MembersData](raw)
		if err != nil {
			return nil, err
		}
		if len(in.UserIDs) == 0 {
			return nil, core.Validation("userIds is required")
		}
		return fn(ctx, a, in.ChatID, in.UserIDs)
	}
}

// lookup reports the route for an inbound type.
func (d *dispatcher) lookup(typ string) (route, bool) {
	r, ok := d.routes[typ]
	return r, ok
}

// run executes a route and builds its acknowledgement. Silent routes return
// nil and only log failures.
func (d *dispatcher) run(ctx context.Context, actor core.Actor, r route, in proto.Inbound) *proto.Ack {
	res, err := r.handle(ctx, actor, in.Data)
	if r.silent {
		if err != nil {
			d.log.Warn().Err(err).Str("event", in.Type).Str("user_id", actor.UserID).Msg("fire-and-forget event failed")
		}
		return nil
	}
	if err != nil {
		return d.failure(actor, in.Type, err)
	}

	ack := &proto.Ack{Success: true, Message: r.message, Res: res}
	if b, ok := res.(batch); ok && b.Partial() {
		ack.Error = "failed ids: " + strings.Join(b.FailedIDs(), ", ")
	}
	return ack
}

func (d *dispatcher) failure(actor core.Actor, event string, err error) *proto.Ack {
	ce, ok := core.AsCoreError(err)
	if !ok {
		d.log.Error().Err(err).Str("event", event).Str("user_id", actor.UserID).Msg("event handler failed")
	}
	return &proto.Ack{Success: false, Message: ce.Code, Error: ce.Message}
}

// decode unmarshals an event payload. An empty payload decodes to the zero
// value so handlers report their own missing-field errors.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, core.Validation("invalid payload")
	}
	return v, nil
}
