package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/config"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
)

const (
	handshakeTimeout  = 10 * time.Second
	disconnectTimeout = 10 * time.Second
)

var errHandshake = errors.New("handshake rejected")

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	hub      *core.Hub
	svc      Services
	dispatch *dispatcher
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, svc Services, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      hub,
		svc:      svc,
		dispatch: newDispatcher(svc, logger),
		cfg:      cfg,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.handshake(ctx, conn)
	if err != nil {
		if !errors.Is(err, errHandshake) {
			h.log.Debug().Err(err).Msg("ws handshake failed")
		}
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	defer h.disconnect(session)

	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	stop := make(chan struct{})
	limiter.startReset(stop)
	defer close(stop)

	out := make(chan proto.Outbound, max(h.cfg.SessionBuffer, 1))
	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, limiter, out)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session, out)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("session_id", session.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.cfg.AllowedOrigins))
	for _, o := range h.cfg.AllowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// handshake expects a hello frame, authenticates it and registers the
// session with the rooms of every chat in the user's chat list.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*core.Session, error) {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(hctx, conn, &in); err != nil {
		return nil, err
	}
	if in.Type != proto.InboundTypeHello {
		return nil, h.reject(hctx, conn, in.ID, core.ErrCodeUnauthorized, "hello required")
	}
	hello, err := decode[proto.HelloData](in.Data)
	if err != nil {
		return nil, h.reject(hctx, conn, in.ID, core.ErrCodeValidation, "invalid hello payload")
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		msg := fmt.Sprintf("protocol %d not supported, server speaks %d", hello.Protocol, proto.ProtocolVersion)
		return nil, h.reject(hctx, conn, in.ID, proto.ErrCodeUnsupportedVersion, msg)
	}
	identity, err := h.svc.Auth.Authenticate(hello.Token)
	if err != nil {
		return nil, h.reject(hctx, conn, in.ID, core.ErrCodeUnauthorized, "invalid token")
	}

	session := core.NewSession(uuid.NewString(), identity.UserID, h.cfg.SessionBuffer)
	if err := h.hub.Register(session); err != nil {
		return nil, h.reject(hctx, conn, in.ID, core.ErrCodeInternal, "server is shutting down")
	}

	refs, err := h.svc.Chats.List(hctx, identity.UserID)
	if err != nil {
		h.hub.Unregister(session)
		h.log.Error().Err(err).Str("user_id", identity.UserID).Msg("load chat list failed")
		return nil, h.reject(hctx, conn, in.ID, core.ErrCodeInternal, "internal server error")
	}
	for _, ref := range refs {
		h.hub.JoinRoom(session.ID, ref.ChatID)
	}

	ack := proto.Outbound{
		Type: proto.OutboundTypeAck,
		ID:   in.ID,
		Ack: &proto.Ack{
			Success: true,
			Message: "connected",
			Res: proto.HelloResult{
				UserID:    identity.UserID,
				SessionID: session.ID,
				Protocol:  proto.ProtocolVersion,
				Chats:     len(refs),
			},
		},
	}
	if err := wsjson.Write(hctx, conn, ack); err != nil {
		h.hub.Unregister(session)
		return nil, err
	}

	h.log.Info().Str("user_id", identity.UserID).Str("session_id", session.ID).Int("chats", len(refs)).Msg("session connected")
	return session, nil
}

func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, id, code, msg string) error {
	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		ID:    id,
		Error: &proto.Error{Code: code, Msg: msg},
	}); err != nil {
		return err
	}
	return errHandshake
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, limiter *rateLimiter, out chan<- proto.Outbound) error {
	actor := core.ActorOf(session)
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		if in.Type == proto.InboundTypeHello {
			h.send(ctx, out, ackFrame(in.ID, &proto.Ack{Success: false, Message: core.ErrCodeValidation, Error: "already connected"}))
			continue
		}
		r, ok := h.dispatch.lookup(in.Type)
		if !ok {
			h.send(ctx, out, proto.Outbound{
				Type:  proto.OutboundTypeError,
				ID:    in.ID,
				Error: &proto.Error{Code: core.ErrCodeUnknownEvent, Msg: "unknown event type"},
			})
			continue
		}
		if !limiter.allow() {
			h.log.Debug().Str("session_id", session.ID).Str("event", in.Type).Msg("rate limited")
			h.send(ctx, out, ackFrame(in.ID, &proto.Ack{Success: false, Message: core.ErrCodeRateLimited, Error: "rate limit exceeded"}))
			continue
		}

		go h.handle(ctx, actor, r, in, out)
	}
}

// handle runs one event detached from the connection: a disconnect does not
// abort it, its ack is simply dropped.
func (h *WSHandler) handle(connCtx context.Context, actor core.Actor, r route, in proto.Inbound, out chan<- proto.Outbound) {
	ctx := context.WithoutCancel(connCtx)
	if h.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.HandlerTimeout)
		defer cancel()
	}

	ack := h.dispatch.run(ctx, actor, r, in)
	if ack == nil {
		return
	}
	h.send(connCtx, out, ackFrame(in.ID, ack))
}

func (h *WSHandler) send(ctx context.Context, out chan<- proto.Outbound, o proto.Outbound) {
	select {
	case out <- o:
	case <-ctx.Done():
		h.log.Debug().Str("id", o.ID).Msg("dropping reply for closed connection")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, out <-chan proto.Outbound) error {
	for {
		select {
		case event, ok := <-session.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, eventFrame(event)); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws event")
				return err
			}
		case o := <-out:
			if err := wsjson.Write(ctx, conn, o); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws ack")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// disconnect unregisters the session and leaves calls no other session of
// the user still occupies.
func (h *WSHandler) disconnect(session *core.Session) {
	rooms := h.hub.RoomsOf(session.ID)
	h.hub.Unregister(session)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.svc.Calls.HandleDisconnect(ctx, session.UserID, rooms)

	h.log.Info().Str("user_id", session.UserID).Str("session_id", session.ID).Msg("session disconnected")
}

func ackFrame(id string, ack *proto.Ack) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeAck, ID: id, Ack: ack}
}

func eventFrame(ev *core.Event) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: string(ev.Kind), Data: ev.Payload}
}
