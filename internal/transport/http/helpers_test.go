package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/auth"
	"github.com/vovakirdan/parley/internal/config"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/service/calls"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/service/destruct"
	"github.com/vovakirdan/parley/internal/service/drafts"
	"github.com/vovakirdan/parley/internal/service/messages"
	"github.com/vovakirdan/parley/internal/service/servicetest"
	"github.com/vovakirdan/parley/internal/timers"
)

type testEnv struct {
	ts   *httptest.Server
	hub  *core.Hub
	auth *auth.Service
}

// newTestEnv starts a server over an in-memory store. tweak may adjust the
// config before the handler is built.
func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	st := servicetest.NewStore(t)
	hub := core.NewHub(nil, nil)
	set := timers.New()
	t.Cleanup(set.Stop)

	acc := access.NewService(st)
	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	draftSvc := drafts.NewService(hub)
	chatSvc := chats.NewService(st, acc, hub, set, chats.Config{MaxGroupSize: 10}, nil)
	svc := Services{
		Auth: authSvc,
		Messages: messages.NewService(messages.Deps{
			Store:    st,
			Access:   acc,
			Hub:      hub,
			Drafts:   draftSvc,
			Destruct: destruct.NewScheduler(st, hub, set, nil),
		}),
		Chats:  chatSvc,
		Drafts: draftSvc,
		Calls:  calls.NewService(st, acc, chatSvc, hub, nil, nil),
	}

	cfg := config.Default()
	cfg.RateLimitPerMinute = 0
	if tweak != nil {
		tweak(&cfg)
	}
	logger := zerolog.Nop()

	ts := httptest.NewServer(NewHandler(hub, svc, &cfg, &logger))
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)

	return &testEnv{ts: ts, hub: hub, auth: authSvc}
}

// register creates a user and returns its session.
func (e *testEnv) register(t *testing.T, username string) *auth.Session {
	t.Helper()
	s, err := e.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return s
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// frame is the client-side view of an outbound message.
type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Res     json.RawMessage `json:"res"`
	} `json:"ack"`
	Error *proto.Error `json:"error"`
}

// dial connects and completes the hello handshake.
func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	send(ctx, t, conn, "hello", proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeAck || f.Ack == nil || !f.Ack.Success {
		t.Fatalf("hello rejected: %+v", f)
	}
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, id, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// readAck skips frames until the ack for id arrives.
func readAck(ctx context.Context, t *testing.T, conn *websocket.Conn, id string) frame {
	t.Helper()
	for {
		f := readFrame(ctx, t, conn)
		if f.Type == proto.OutboundTypeAck && f.ID == id {
			return f
		}
	}
}

// readEvent skips frames until an event named event arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	for {
		f := readFrame(ctx, t, conn)
		if f.Type == proto.OutboundTypeEvent && f.Event == event {
			return f
		}
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
