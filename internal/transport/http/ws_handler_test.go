package http

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/parley/internal/config"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
)

func TestHelloRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	send(ctx, t, conn, "1", proto.InboundTypeHello, proto.HelloData{Token: "garbage"})
	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", f)
	}
	if f.ID != "1" {
		t.Fatalf("error should echo request id, got %q", f.ID)
	}
}

func TestHelloRequiredFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	send(ctx, t, conn, "1", proto.InboundTypeUpdateDraft, proto.DraftData{ChatID: "c", Text: "x"})
	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected hello required error, got %+v", f)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	send(ctx, t, conn, "1", proto.InboundTypeHello, proto.HelloData{Token: alice.Token, Protocol: proto.ProtocolVersion + 1})
	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != proto.ErrCodeUnsupportedVersion {
		t.Fatalf("expected unsupported_version error, got %+v", f)
	}
}

func TestPrivateChatAndMessageAcrossDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	phone := env.dial(ctx, t, alice.Token)
	laptop := env.dial(ctx, t, alice.Token)
	bobConn := env.dial(ctx, t, bob.Token)

	send(ctx, t, phone, "c1", proto.InboundTypeCreatePrivateChat, proto.CreatePrivateChatData{UserID: bob.UserID})
	ack := readAck(ctx, t, phone, "c1")
	if !ack.Ack.Success {
		t.Fatalf("create chat failed: %+v", ack.Ack)
	}
	var created struct {
		Chat    proto.ChatView `json:"chat"`
		Created bool           `json:"created"`
	}
	if err := json.Unmarshal(ack.Ack.Res, &created); err != nil {
		t.Fatalf("decode res: %v", err)
	}
	if !created.Created || created.Chat.ID == "" {
		t.Fatalf("unexpected result %+v", created)
	}
	readEvent(ctx, t, bobConn, string(core.EventChatJoined))
	readEvent(ctx, t, laptop, string(core.EventChatJoined))

	send(ctx, t, phone, "m1", proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:      created.Chat.ID,
		Content:     "hi bob",
		ContentType: "text",
	})
	ack = readAck(ctx, t, phone, "m1")
	if !ack.Ack.Success || ack.Ack.Message != "message sent" {
		t.Fatalf("send failed: %+v", ack.Ack)
	}

	for _, conn := range []*websocket.Conn{bobConn, laptop} {
		ev := readEvent(ctx, t, conn, string(core.EventMessageReceived))
		var msg proto.MessageView
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Content != "hi bob" || msg.SenderID != alice.UserID {
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestReconnectRejoinsChatRooms(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	aliceConn := env.dial(ctx, t, alice.Token)
	send(ctx, t, aliceConn, "c1", proto.InboundTypeCreatePrivateChat, proto.CreatePrivateChatData{UserID: bob.UserID})
	ack := readAck(ctx, t, aliceConn, "c1")
	var created struct {
		Chat proto.ChatView `json:"chat"`
	}
	if err := json.Unmarshal(ack.Ack.Res, &created); err != nil {
		t.Fatalf("decode res: %v", err)
	}

	// Bob was offline during creation; his first session joins from storage.
	bobConn := env.dial(ctx, t, bob.Token)
	send(ctx, t, aliceConn, "m1", proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:      created.Chat.ID,
		Content:     "you there?",
		ContentType: "text",
	})
	readEvent(ctx, t, bobConn, string(core.EventMessageReceived))
}

func TestUnknownEventAndAckFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	conn := env.dial(ctx, t, alice.Token)

	send(ctx, t, conn, "u1", "teleport", map[string]string{})
	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeUnknownEvent {
		t.Fatalf("expected unknown_event, got %+v", f)
	}

	send(ctx, t, conn, "s1", proto.InboundTypeSendMessage, proto.SendMessageData{ChatID: "missing", Content: "x", ContentType: "text"})
	ack := readAck(ctx, t, conn, "s1")
	if ack.Ack.Success || ack.Ack.Message != core.ErrCodeNotFound || ack.Ack.Error != "chat does not exist" {
		t.Fatalf("unexpected ack %+v", ack.Ack)
	}

	send(ctx, t, conn, "h1", proto.InboundTypeHello, proto.HelloData{Token: alice.Token})
	ack = readAck(ctx, t, conn, "h1")
	if ack.Ack.Success {
		t.Fatal("second hello should be rejected")
	}
}

func TestPartialFailureIsSuccessWithFailedIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	conn := env.dial(ctx, t, alice.Token)

	send(ctx, t, conn, "g1", proto.InboundTypeCreateGroupChat, proto.CreateGroupChatData{
		Kind:      "group",
		Name:      "team",
		MemberIDs: []string{bob.UserID, "ghost"},
	})
	ack := readAck(ctx, t, conn, "g1")
	if !ack.Ack.Success {
		t.Fatalf("create group failed: %+v", ack.Ack)
	}
	if !strings.Contains(ack.Ack.Error, "ghost") {
		t.Fatalf("failed ids missing from error: %q", ack.Ack.Error)
	}
	var res struct {
		Chat      proto.ChatView `json:"chat"`
		Succeeded []string       `json:"succeeded"`
		Failed    []string       `json:"failed"`
	}
	if err := json.Unmarshal(ack.Ack.Res, &res); err != nil {
		t.Fatalf("decode res: %v", err)
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != bob.UserID || len(res.Failed) != 1 {
		t.Fatalf("unexpected batch %+v", res)
	}
}

func TestPinIsNotAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	conn := env.dial(ctx, t, alice.Token)
	bobConn := env.dial(ctx, t, bob.Token)

	send(ctx, t, conn, "c1", proto.InboundTypeCreatePrivateChat, proto.CreatePrivateChatData{UserID: bob.UserID})
	var created struct {
		Chat proto.ChatView `json:"chat"`
	}
	if err := json.Unmarshal(readAck(ctx, t, conn, "c1").Ack.Res, &created); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	send(ctx, t, conn, "m1", proto.InboundTypeSendMessage, proto.SendMessageData{ChatID: created.Chat.ID, Content: "pin me", ContentType: "text"})
	var msg proto.MessageView
	if err := json.Unmarshal(readAck(ctx, t, conn, "m1").Ack.Res, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}

	send(ctx, t, conn, "p1", proto.InboundTypePinMessage, proto.MessageRefData{ChatID: created.Chat.ID, MessageID: msg.ID})
	readEvent(ctx, t, bobConn, string(core.EventMessagePinned))

	send(ctx, t, conn, "d1", proto.InboundTypeUpdateDraft, proto.DraftData{ChatID: created.Chat.ID, Text: "draft"})
	for {
		f := readFrame(ctx, t, conn)
		if f.Type == proto.OutboundTypeAck && f.ID == "p1" {
			t.Fatal("pin must not be acknowledged")
		}
		if f.Type == proto.OutboundTypeAck && f.ID == "d1" {
			break
		}
	}
}

func TestRateLimitedEventsAreAcked(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })
	ctx := testContext(t)
	alice := env.register(t, "alice")
	conn := env.dial(ctx, t, alice.Token)

	for _, id := range []string{"1", "2", "3"} {
		send(ctx, t, conn, id, proto.InboundTypeUpdateDraft, proto.DraftData{ChatID: "c", Text: id})
	}
	acks := map[string]frame{}
	for len(acks) < 3 {
		f := readFrame(ctx, t, conn)
		if f.Type == proto.OutboundTypeAck {
			acks[f.ID] = f
		}
	}
	if !acks["1"].Ack.Success || !acks["2"].Ack.Success {
		t.Fatalf("first two events should pass: %+v %+v", acks["1"].Ack, acks["2"].Ack)
	}
	if acks["3"].Ack.Success || acks["3"].Ack.Message != core.ErrCodeRateLimited {
		t.Fatalf("third event should be rate limited: %+v", acks["3"].Ack)
	}
}

func TestDisconnectUnregistersSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.register(t, "alice")
	conn := env.dial(ctx, t, alice.Token)

	if !env.hub.Online(alice.UserID) {
		t.Fatal("alice should be online after hello")
	}
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Online(alice.UserID) {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
