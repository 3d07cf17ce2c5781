package chats

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/service/servicetest"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/store/sqlite"
	"github.com/vovakirdan/parley/internal/timers"
)

type fixture struct {
	st  *sqlite.SQLiteStore
	hub *core.Hub
	svc *Service
}

func newFixture(t *testing.T, maxGroup int) *fixture {
	t.Helper()
	st := servicetest.NewStore(t)
	hub := core.NewHub(nil, nil)
	set := timers.New()
	t.Cleanup(set.Stop)
	return &fixture{
		st:  st,
		hub: hub,
		svc: NewService(st, access.NewService(st), hub, set, Config{MaxGroupSize: maxGroup}, nil),
	}
}

func actor(s *core.Session) core.Actor {
	return core.ActorOf(s)
}

func TestCreatePrivateDedupes(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	sa := servicetest.Connect(t, f.hub, a)
	sb := servicetest.Connect(t, f.hub, b)

	chat, created, err := f.svc.CreatePrivate(ctx, actor(sa), b)
	if err != nil {
		t.Fatalf("create private: %v", err)
	}
	if !created || chat.Kind != store.ChatKindPrivate {
		t.Fatalf("unexpected result created=%v kind=%s", created, chat.Kind)
	}
	ev := servicetest.Expect(t, sb, core.EventChatJoined)
	if view := ev.Payload.(proto.ChatView); view.ID != chat.ID {
		t.Fatalf("chat-joined for %s, want %s", view.ID, chat.ID)
	}
	servicetest.Silent(t, sa, core.EventChatJoined)
	if !f.hub.InRoom(sb.ID, chat.ID) || !f.hub.InRoom(sa.ID, chat.ID) {
		t.Fatal("both sessions should be subscribed to the chat room")
	}

	again, created, err := f.svc.CreatePrivate(ctx, actor(sb), a)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || again.ID != chat.ID {
		t.Fatalf("expected existing chat %s, got %s created=%v", chat.ID, again.ID, created)
	}
}

func TestCreatePrivateValidation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	act := core.Actor{UserID: a}

	if _, _, err := f.svc.CreatePrivate(ctx, act, a); servicetest.Reason(t, err) != ReasonSelfChat {
		t.Fatalf("self chat: %v", err)
	}
	if _, _, err := f.svc.CreatePrivate(ctx, act, "ghost"); servicetest.Code(t, err) != core.ErrCodeNotFound {
		t.Fatalf("unknown user: %v", err)
	}
	if _, _, err := f.svc.CreatePrivate(ctx, act, " "); servicetest.Code(t, err) != core.ErrCodeValidation {
		t.Fatalf("empty id: %v", err)
	}
}

func TestCreatePrivateConcurrent(t *testing.T) {
	f := newFixture(t, 10)
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			chat, _, err := f.svc.CreatePrivate(context.Background(), core.Actor{UserID: from}, to)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one private chat, got %v", ids)
		}
	}
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	sb := servicetest.Connect(t, f.hub, b)

	chat, res, err := f.svc.CreateGroup(ctx, core.Actor{UserID: a}, GroupInput{
		Kind:      store.ChatKindGroup,
		Name:      "team",
		MemberIDs: []string{b, "ghost", b, a},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{b}) || !slices.Equal(res.Failed, []string{"ghost"}) {
		t.Fatalf("unexpected batch result %+v", res)
	}
	if m, ok := chat.Member(a); !ok || m.Role != store.RoleAdmin {
		t.Fatalf("initiator should be admin, got %+v", m)
	}
	if len(chat.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(chat.Members))
	}
	servicetest.Expect(t, sb, core.EventChatJoined)
	if !f.hub.InRoom(sb.ID, chat.ID) {
		t.Fatal("member session should be subscribed")
	}
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	c := servicetest.User(t, f.st, "carol")
	act := core.Actor{UserID: a}

	cases := []struct {
		name string
		in   GroupInput
	}{
		{"private kind", GroupInput{Kind: store.ChatKindPrivate, Name: "x"}},
		{"missing name", GroupInput{Kind: store.ChatKindGroup, Name: "  "}},
		{"over cap", GroupInput{Kind: store.ChatKindGroup, Name: "x", MemberIDs: []string{b, c}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.CreateGroup(ctx, act, tc.in); servicetest.Code(t, err) != core.ErrCodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	// Channels are not capped.
	if _, _, err := f.svc.CreateGroup(ctx, act, GroupInput{Kind: store.ChatKindChannel, Name: "news", MemberIDs: []string{b, c}}); err != nil {
		t.Fatalf("channel over group cap: %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	c := servicetest.User(t, f.st, "carol")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	sb := servicetest.Connect(t, f.hub, b)

	if err := f.svc.Delete(ctx, core.Actor{UserID: b}, chat.ID); servicetest.Reason(t, err) != access.ReasonInsufficientRole {
		t.Fatalf("member delete: %v", err)
	}
	if err := f.svc.Delete(ctx, core.Actor{UserID: a}, chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	servicetest.Expect(t, sb, core.EventChatDeleted)

	if err := f.svc.Delete(ctx, core.Actor{UserID: a}, chat.ID); servicetest.Code(t, err) != core.ErrCodeNotFound {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := f.svc.AddMembers(ctx, core.Actor{UserID: a}, chat.ID, []string{c}); servicetest.Code(t, err) != core.ErrCodeNotFound {
		t.Fatalf("add to deleted chat: %v", err)
	}
	if _, err := f.svc.RemoveMembers(ctx, core.Actor{UserID: a}, chat.ID, []string{b}); servicetest.Code(t, err) != core.ErrCodeNotFound {
		t.Fatalf("remove from deleted chat: %v", err)
	}
	refs, err := f.svc.List(ctx, b)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected empty chat list, got %d", len(refs))
	}
}

func TestDeletePrivateByMember(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat, _, err := f.svc.CreatePrivate(ctx, core.Actor{UserID: a}, b)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Delete(ctx, core.Actor{UserID: b}, chat.ID); err != nil {
		t.Fatalf("delete private: %v", err)
	}

	// A fresh private chat may be opened after deletion.
	fresh, created, err := f.svc.CreatePrivate(ctx, core.Actor{UserID: a}, b)
	if err != nil || !created || fresh.ID == chat.ID {
		t.Fatalf("expected a new chat, got %v created=%v err=%v", fresh, created, err)
	}
}

func TestLeave(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	sa := servicetest.Connect(t, f.hub, a, chat.ID)
	sb1 := servicetest.Connect(t, f.hub, b, chat.ID)
	sb2 := servicetest.Connect(t, f.hub, b, chat.ID)

	if err := f.svc.Leave(ctx, actor(sb1), chat.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ev := servicetest.Expect(t, sa, core.EventMemberLeft)
	if p := ev.Payload.(proto.MemberEvent); p.UserID != b {
		t.Fatalf("member-left for %s", p.UserID)
	}
	servicetest.Expect(t, sb2, core.EventChatRemoved)
	if f.hub.UserInRoom(b, chat.ID) {
		t.Fatal("leaver sessions should be unsubscribed")
	}

	if err := f.svc.Leave(ctx, actor(sb1), chat.ID); servicetest.Reason(t, err) != access.ReasonNotMember {
		t.Fatalf("second leave: %v", err)
	}

	// Last member out deletes the chat.
	if err := f.svc.Leave(ctx, actor(sa), chat.ID); err != nil {
		t.Fatalf("last leave: %v", err)
	}
	got, err := f.st.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if !got.Deleted {
		t.Fatal("empty chat should be deleted")
	}
}

func TestLeavePrivateRejected(t *testing.T) {
	f := newFixture(t, 10)
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat := servicetest.Chat(t, f.st, store.ChatKindPrivate, a, b)

	err := f.svc.Leave(context.Background(), core.Actor{UserID: a}, chat.ID)
	if servicetest.Code(t, err) != core.ErrCodeWrongChatType {
		t.Fatalf("expected wrong chat type, got %v", err)
	}
}

func TestAddMembers(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	c := servicetest.User(t, f.st, "carol")
	d := servicetest.User(t, f.st, "dave")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	sa := servicetest.Connect(t, f.hub, a, chat.ID)
	sc := servicetest.Connect(t, f.hub, c)

	if _, err := f.svc.AddMembers(ctx, core.Actor{UserID: b}, chat.ID, []string{c}); servicetest.Reason(t, err) != access.ReasonInsufficientRole {
		t.Fatalf("member add: %v", err)
	}

	res, err := f.svc.AddMembers(ctx, actor(sa), chat.ID, []string{c, b, "ghost"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{c}) || !slices.Equal(res.Failed, []string{b, "ghost"}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Partial() {
		t.Fatal("expected partial result")
	}
	servicetest.Expect(t, sc, core.EventChatJoined)
	servicetest.Expect(t, sa, core.EventMembersAdded)
	if !f.hub.InRoom(sc.ID, chat.ID) {
		t.Fatal("added member should be subscribed")
	}

	// The group is full at three.
	if _, err := f.svc.AddMembers(ctx, actor(sa), chat.ID, []string{d}); servicetest.Code(t, err) != core.ErrCodeValidation {
		t.Fatalf("over cap: %v", err)
	}
}

func TestAddMembersReportsRepeatedIDs(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	c := servicetest.User(t, f.st, "carol")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a)

	res, err := f.svc.AddMembers(ctx, core.Actor{UserID: a}, chat.ID, []string{c, c, " " + c})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{c}) || !slices.Equal(res.Failed, []string{c}) {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = f.svc.RemoveMembers(ctx, core.Actor{UserID: a}, chat.ID, []string{c, c})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{c}) || !slices.Equal(res.Failed, []string{c}) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAddMembersConcurrent(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.AddMembers(ctx, core.Actor{UserID: a}, chat.ID, []string{b})
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			mu.Lock()
			succeeded += len(res.Succeeded)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful add, got %d", succeeded)
	}
	n, err := f.st.CountMembers(ctx, chat.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 members, got %d (%v)", n, err)
	}
}

func TestRemoveMembers(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	c := servicetest.User(t, f.st, "carol")
	chat := servicetest.Chat(t, f.st, store.ChatKindChannel, a, b)
	sa := servicetest.Connect(t, f.hub, a, chat.ID)
	sb := servicetest.Connect(t, f.hub, b, chat.ID)

	res, err := f.svc.RemoveMembers(ctx, actor(sa), chat.ID, []string{b, c, a})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{b}) || !slices.Equal(res.Failed, []string{c, a}) {
		t.Fatalf("unexpected result %+v", res)
	}
	servicetest.Expect(t, sb, core.EventChatRemoved)
	ev := servicetest.Expect(t, sa, core.EventMembersRemoved)
	if p := ev.Payload.(proto.MembersEvent); !slices.Equal(p.UserIDs, []string{b}) {
		t.Fatalf("members-removed payload %+v", p)
	}
	if f.hub.InRoom(sb.ID, chat.ID) {
		t.Fatal("removed session should be unsubscribed")
	}
}

func TestPromoteAdmins(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	sb := servicetest.Connect(t, f.hub, b)

	res, err := f.svc.PromoteAdmins(ctx, core.Actor{UserID: a}, chat.ID, []string{b, a, "ghost"})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !slices.Equal(res.Succeeded, []string{b, a}) || !slices.Equal(res.Failed, []string{"ghost"}) {
		t.Fatalf("unexpected result %+v", res)
	}
	servicetest.Expect(t, sb, core.EventAdminPromoted)

	got, err := f.st.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if m, _ := got.Member(b); m.Role != store.RoleAdmin {
		t.Fatalf("bob role %s", m.Role)
	}

	// The new admin can now manage members.
	if _, err := f.svc.RemoveMembers(ctx, core.Actor{UserID: b}, chat.ID, []string{"nobody"}); err != nil {
		t.Fatalf("promoted admin remove: %v", err)
	}
}

func TestSetPermission(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	sb := servicetest.Connect(t, f.hub, b, chat.ID)

	if err := f.svc.SetPermission(ctx, core.Actor{UserID: a}, chat.ID, "upload", store.PermissionEveryone); servicetest.Code(t, err) != core.ErrCodeValidation {
		t.Fatalf("bad kind: %v", err)
	}
	if err := f.svc.SetPermission(ctx, core.Actor{UserID: b}, chat.ID, store.PermissionPost, store.PermissionAdminsOnly); servicetest.Code(t, err) != core.ErrCodeForbidden {
		t.Fatalf("member set: %v", err)
	}
	if err := f.svc.SetPermission(ctx, core.Actor{UserID: a}, chat.ID, store.PermissionPost, store.PermissionAdminsOnly); err != nil {
		t.Fatalf("set permission: %v", err)
	}
	ev := servicetest.Expect(t, sb, core.EventPermissionUpdated)
	if p := ev.Payload.(proto.PermissionEvent); p.Who != string(store.PermissionAdminsOnly) {
		t.Fatalf("payload %+v", p)
	}

	got, err := f.st.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Group.PostingPermission != store.PermissionAdminsOnly {
		t.Fatalf("posting %s", got.Group.PostingPermission)
	}
}

func TestMuteAndUnmute(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a)
	s1 := servicetest.Connect(t, f.hub, a)
	s2 := servicetest.Connect(t, f.hub, a)

	for _, d := range []int{0, -2} {
		if _, err := f.svc.Mute(ctx, actor(s1), chat.ID, d); servicetest.Code(t, err) != core.ErrCodeValidation {
			t.Fatalf("duration %d: %v", d, err)
		}
	}
	if _, err := f.svc.Mute(ctx, actor(s1), "missing", -1); servicetest.Reason(t, err) != ReasonNotInList {
		t.Fatalf("unknown chat: %v", err)
	}

	ref, err := f.svc.Mute(ctx, actor(s1), chat.ID, -1)
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !ref.Muted || ref.MutedUntil != nil {
		t.Fatalf("unexpected ref %+v", ref)
	}
	servicetest.Expect(t, s2, core.EventChatMuted)
	servicetest.Silent(t, s1, core.EventChatMuted)

	if err := f.svc.Unmute(ctx, actor(s1), chat.ID); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	servicetest.Expect(t, s2, core.EventChatUnmuted)

	stored, err := f.st.GetChatRef(ctx, a, chat.ID)
	if err != nil {
		t.Fatalf("get ref: %v", err)
	}
	if stored.Muted {
		t.Fatal("chat should be unmuted")
	}
}

func TestMuteExpires(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	chat := servicetest.Chat(t, f.st, store.ChatKindGroup, a)
	s := servicetest.Connect(t, f.hub, a)

	ref, err := f.svc.Mute(ctx, actor(s), chat.ID, 1)
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if ref.MutedUntil == nil {
		t.Fatal("timed mute should carry an expiry")
	}

	servicetest.Expect(t, s, core.EventChatUnmuted)
	stored, err := f.st.GetChatRef(ctx, a, chat.ID)
	if err != nil {
		t.Fatalf("get ref: %v", err)
	}
	if stored.Muted {
		t.Fatal("mute should have expired")
	}
}

func TestDestructionToggle(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	private := servicetest.Chat(t, f.st, store.ChatKindPrivate, a, b)
	group := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	other := servicetest.Connect(t, f.hub, a)

	if err := f.svc.EnableDestruction(ctx, core.Actor{UserID: a}, private.ID, 0); servicetest.Code(t, err) != core.ErrCodeValidation {
		t.Fatalf("zero duration: %v", err)
	}
	if err := f.svc.EnableDestruction(ctx, core.Actor{UserID: a}, group.ID, 5); servicetest.Code(t, err) != core.ErrCodeWrongChatType {
		t.Fatalf("group destruct: %v", err)
	}
	if err := f.svc.EnableDestruction(ctx, core.Actor{UserID: a}, private.ID, 5); err != nil {
		t.Fatalf("enable: %v", err)
	}
	servicetest.Expect(t, other, core.EventDestructionEnabled)

	got, err := f.st.GetChat(ctx, private.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if d, ok := got.DestructAfter(); !ok || d.Seconds() != 5 {
		t.Fatalf("destruct after %v %v", d, ok)
	}

	if err := f.svc.DisableDestruction(ctx, core.Actor{UserID: b}, private.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err = f.st.GetChat(ctx, private.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if _, ok := got.DestructAfter(); ok {
		t.Fatal("destruction should be off")
	}
}

func TestDurationUpperBound(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := servicetest.User(t, f.st, "alice")
	b := servicetest.User(t, f.st, "bob")
	group := servicetest.Chat(t, f.st, store.ChatKindGroup, a, b)
	private := servicetest.Chat(t, f.st, store.ChatKindPrivate, a, b)
	s := servicetest.Connect(t, f.hub, a)

	for _, d := range []int{10_000_000_000, int(store.MaxDurationSeconds) + 1} {
		if _, err := f.svc.Mute(ctx, actor(s), group.ID, d); servicetest.Code(t, err) != core.ErrCodeValidation {
			t.Fatalf("mute %d: %v", d, err)
		}
		if err := f.svc.EnableDestruction(ctx, actor(s), private.ID, d); servicetest.Code(t, err) != core.ErrCodeValidation {
			t.Fatalf("destruct %d: %v", d, err)
		}
	}

	ref, err := f.svc.Mute(ctx, actor(s), group.ID, int(store.MaxDurationSeconds))
	if err != nil {
		t.Fatalf("mute at bound: %v", err)
	}
	if ref.MutedUntil == nil || !ref.MutedUntil.After(time.Now()) {
		t.Fatalf("mutedUntil should be in the future, got %v", ref.MutedUntil)
	}
	time.Sleep(200 * time.Millisecond)
	servicetest.Silent(t, s, core.EventChatUnmuted)
	stored, err := f.st.GetChatRef(ctx, a, group.ID)
	if err != nil {
		t.Fatalf("get ref: %v", err)
	}
	if !stored.Muted {
		t.Fatal("long mute expired early")
	}
}

func TestDirectKeyOrderIndependent(t *testing.T) {
	for i := range 3 {
		a, b := fmt.Sprintf("u%d", i), fmt.Sprintf("v%d", i)
		if DirectKey(a, b) != DirectKey(b, a) {
			t.Fatalf("key differs for %s/%s", a, b)
		}
	}
}
