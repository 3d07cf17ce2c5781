package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const mirrorTimeout = 2 * time.Second

// PresenceMirror receives online/offline transitions for external observers.
// Calls are made outside the hub lock and failures are only logged.
type PresenceMirror interface {
	SessionOnline(ctx context.Context, userID, sessionID string) error
	SessionOffline(ctx context.Context, userID, sessionID string) error
}

// Hub is the in-process presence registry: user -> sessions, room -> sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[string]map[string]*Session
	rooms    map[string]*Room
	closed   bool

	mirror PresenceMirror
	log    *zerolog.Logger
}

// NewHub constructs an empty hub. mirror and logger may be nil.
func NewHub(mirror PresenceMirror, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		sessions: make(map[string]*Session),
		users:    make(map[string]map[string]*Session),
		rooms:    make(map[string]*Room),
		mirror:   mirror,
		log:      logger,
	}
}

// Register adds a session to the registry.
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.sessions[s.ID] = s
	byID, ok := h.users[s.UserID]
	if !ok {
		byID = make(map[string]*Session)
		h.users[s.UserID] = byID
	}
	byID[s.ID] = s
	h.mu.Unlock()

	h.log.Debug().Str("user_id", s.UserID).Str("session_id", s.ID).Msg("session registered")
	h.mirrorCall(func(ctx context.Context) error { return h.mirror.SessionOnline(ctx, s.UserID, s.ID) })
	return nil
}

// Unregister removes a session from every room and closes its event channel.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	h.detachLocked(s)
	h.mu.Unlock()

	h.log.Debug().Str("user_id", s.UserID).Str("session_id", s.ID).Msg("session unregistered")
	h.mirrorCall(func(ctx context.Context) error { return h.mirror.SessionOffline(ctx, s.UserID, s.ID) })
}

func (h *Hub) detachLocked(s *Session) {
	for name := range s.rooms {
		if room, ok := h.rooms[name]; ok {
			room.Remove(s)
			if room.Empty() {
				delete(h.rooms, name)
			}
		}
	}
	s.rooms = make(map[string]struct{})
	delete(h.sessions, s.ID)
	if byID, ok := h.users[s.UserID]; ok {
		delete(byID, s.ID)
		if len(byID) == 0 {
			delete(h.users, s.UserID)
		}
	}
	s.closed = true
	close(s.Events)
}

// SessionsOf returns the live sessions of a user.
func (h *Hub) SessionsOf(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.users[userID]))
	for _, s := range h.users[userID] {
		out = append(out, s)
	}
	return out
}

// Online reports whether the user has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Notify emits an event to every session of a user and returns how many accepted it.
func (h *Hub) Notify(userID string, ev *Event) int {
	return h.NotifyOthers(userID, "", ev)
}

// NotifyOthers is Notify skipping the session with exceptID.
func (h *Hub) NotifyOthers(userID, exceptID string, ev *Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, s := range h.users[userID] {
		if id == exceptID {
			continue
		}
		if s.deliver(ev) {
			delivered++
		}
	}
	return delivered
}

// JoinRoom subscribes a session to room broadcasts. Returns false if the
// session is unknown or already joined.
func (h *Hub) JoinRoom(sessionID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	return h.joinLocked(s, room)
}

// JoinUser subscribes every session of a user to a room.
func (h *Hub) JoinUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.users[userID] {
		h.joinLocked(s, room)
	}
}

// LeaveUser unsubscribes every session of a user from a room.
func (h *Hub) LeaveUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.users[userID] {
		h.leaveLocked(s, room)
	}
}

func (h *Hub) joinLocked(s *Session, name string) bool {
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	if !room.Add(s) {
		return false
	}
	s.rooms[name] = struct{}{}
	return true
}

func (h *Hub) leaveLocked(s *Session, name string) bool {
	room, ok := h.rooms[name]
	if !ok || !room.Remove(s) {
		return false
	}
	delete(s.rooms, name)
	if room.Empty() {
		delete(h.rooms, name)
	}
	return true
}

// Broadcast sends an event to every session subscribed to room. Concurrent
// broadcasts to one room are delivered in the same order to every session.
func (h *Hub) Broadcast(room string, ev *Event) int {
	if ev.Room == "" {
		ev.Room = room
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[room]
	if !ok {
		return 0
	}
	return r.Broadcast(ev)
}

// CloseRoom unsubscribes every session from a room.
func (h *Hub) CloseRoom(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	for s := range room.sessions {
		delete(s.rooms, name)
	}
	delete(h.rooms, name)
}

// RoomSize returns how many sessions are subscribed to a room.
func (h *Hub) RoomSize(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[name]; ok {
		return len(r.sessions)
	}
	return 0
}

// InRoom reports whether a session is subscribed to a room.
func (h *Hub) InRoom(sessionID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	_, in := s.rooms[room]
	return in
}

// RoomsOf lists the rooms a session is subscribed to.
func (h *Hub) RoomsOf(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		out = append(out, name)
	}
	return out
}

// UserInRoom reports whether any session of the user is subscribed to room.
func (h *Hub) UserInRoom(userID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.users[userID] {
		if _, ok := s.rooms[room]; ok {
			return true
		}
	}
	return false
}

// Run blocks until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close unregisters all sessions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	closed := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		h.detachLocked(s)
		closed = append(closed, s)
	}
	h.mu.Unlock()

	for _, s := range closed {
		s := s
		h.mirrorCall(func(ctx context.Context) error { return h.mirror.SessionOffline(ctx, s.UserID, s.ID) })
	}
	h.log.Info().Int("sessions", len(closed)).Msg("hub closed")
}

func (h *Hub) mirrorCall(fn func(ctx context.Context) error) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.log.Warn().Err(err).Msg("presence mirror update failed")
	}
}
