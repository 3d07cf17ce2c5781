package destruct

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/servicetest"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/timers"
)

func TestArmDeletesAndBroadcasts(t *testing.T) {
	st := servicetest.NewStore(t)
	hub := core.NewHub(nil, nil)
	set := timers.New()
	t.Cleanup(set.Stop)
	sched := NewScheduler(st, hub, set, nil)
	ctx := context.Background()

	chat := servicetest.Chat(t, st, store.ChatKindPrivate, "a", "b")
	msg := &store.Message{ChatID: chat.ID, SenderID: "a", Content: "bye", ContentType: "text"}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	sess := servicetest.Connect(t, hub, "b", chat.ID)

	delay := 150 * time.Millisecond
	if !sched.Arm(msg.ID, chat.ID, delay) {
		t.Fatal("arm failed")
	}

	time.Sleep(delay / 3)
	if _, err := st.GetMessage(ctx, msg.ID); err != nil {
		t.Fatalf("message must exist before the delay: %v", err)
	}

	ev := servicetest.Expect(t, sess, core.EventMessageDestructed)
	if p := ev.Payload.(proto.MessageRefEvent); p.MessageID != msg.ID {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if _, err := st.GetMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("message must be gone after the delay, got %v", err)
	}
	if sched.Armed(msg.ID) {
		t.Fatal("fired timer should be cleared")
	}
}

func TestFireOnAlreadyDeletedMessageIsSilent(t *testing.T) {
	st := servicetest.NewStore(t)
	hub := core.NewHub(nil, nil)
	set := timers.New()
	t.Cleanup(set.Stop)
	sched := NewScheduler(st, hub, set, nil)

	chat := servicetest.Chat(t, st, store.ChatKindPrivate, "a", "b")
	sess := servicetest.Connect(t, hub, "a", chat.ID)

	sched.Arm("gone", chat.ID, 10*time.Millisecond)
	servicetest.Silent(t, sess, core.EventMessageDestructed)
}

func TestDisarm(t *testing.T) {
	set := timers.New()
	t.Cleanup(set.Stop)
	sched := NewScheduler(servicetest.NewStore(t), core.NewHub(nil, nil), set, nil)

	sched.Arm("m", "c", time.Hour)
	if !sched.Armed("m") {
		t.Fatal("should be armed")
	}
	sched.Disarm("m")
	if sched.Armed("m") {
		t.Fatal("should be disarmed")
	}
}
