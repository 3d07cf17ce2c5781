package livekit

import (
	"context"
	"strings"
	"testing"

	"github.com/vovakirdan/parley/internal/store"
)

func TestAllocateAndJoin(t *testing.T) {
	e := New("devkey", "devsecret-devsecret-devsecret-00", "ws://localhost:7880")
	call := &store.VoiceCall{ID: "c1", Kind: store.CallKindGroup}

	room, err := e.AllocateRoom(context.Background(), call)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if room != "parley-group-c1" {
		t.Fatalf("room = %s", room)
	}
	call.ExternalRoom = room

	info, err := e.JoinInfo(context.Background(), call, "u1", "alice")
	if err != nil {
		t.Fatalf("join info: %v", err)
	}
	if info.RoomName != room || info.Identity != "u1" || info.URL != "ws://localhost:7880" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if strings.Count(info.Token, ".") != 2 {
		t.Fatalf("token is not a JWT: %s", info.Token)
	}
}

func TestJoinWithoutRoomFails(t *testing.T) {
	e := New("k", "s", "ws://x")
	if _, err := e.JoinInfo(context.Background(), &store.VoiceCall{ID: "c"}, "u", "n"); err == nil {
		t.Fatal("expected error without media room")
	}
}
