// Package servicetest holds fixtures shared by service tests.
package servicetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/store/sqlite"
)

// NewStore opens an in-memory store with the real schema.
func NewStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// User creates a user and returns its id.
func User(t *testing.T, st store.UserStore, name string) string {
	t.Helper()
	u, err := st.CreateUser(context.Background(), name, "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u.ID
}

// Chat persists a chat of kind with the first id as admin and the rest as members.
func Chat(t *testing.T, st store.ChatStore, kind store.ChatKind, admin string, members ...string) *store.Chat {
	t.Helper()
	chat := &store.Chat{Kind: kind, CreatedBy: admin}
	role := store.RoleAdmin
	if kind == store.ChatKindPrivate {
		chat.Private = &store.PrivateSettings{}
		role = store.RoleMember
	} else {
		chat.Group = &store.GroupSettings{
			Name:               "fixture",
			PostingPermission:  store.PermissionEveryone,
			DownloadPermission: store.PermissionEveryone,
		}
	}
	chat.Members = append(chat.Members, store.Member{UserID: admin, Role: role})
	for _, m := range members {
		chat.Members = append(chat.Members, store.Member{UserID: m, Role: store.RoleMember})
	}
	if err := st.CreateChat(context.Background(), chat, ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

// Connect registers a new session for userID and subscribes it to rooms.
func Connect(t *testing.T, hub *core.Hub, userID string, rooms ...string) *core.Session {
	t.Helper()
	s := core.NewSession(uuid.NewString(), userID, 64)
	if err := hub.Register(s); err != nil {
		t.Fatalf("register session: %v", err)
	}
	for _, r := range rooms {
		hub.JoinRoom(s.ID, r)
	}
	return s
}

// Expect waits for an event of kind, skipping others.
func Expect(t *testing.T, s *core.Session, kind core.EventKind) *core.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events:
			if !ok {
				t.Fatalf("session closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event %s not received", kind)
			return nil
		}
	}
}

// Silent asserts no event of kind arrives within a short window.
func Silent(t *testing.T, s *core.Session, kind core.EventKind) {
	t.Helper()
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case ev, ok := <-s.Events:
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected event %s: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

// Code returns the CoreError code of err, or "" if err is not one.
func Code(t *testing.T, err error) string {
	t.Helper()
	var ce *core.CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Reason returns the CoreError message of err, failing if err is not one.
func Reason(t *testing.T, err error) string {
	t.Helper()
	var ce *core.CoreError
	if !errors.As(err, &ce) {
		t.Fatalf("expected core error, got %v", err)
	}
	return ce.Message
}
