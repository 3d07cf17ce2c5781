package core

import "sync"

// Room groups sessions subscribed to the same chat. Membership changes happen
// under the hub write lock; delivery holds the hub read lock plus deliverMu.
type Room struct {
	Name     string
	sessions map[*Session]struct{}

	deliverMu sync.Mutex
}

// NewRoom constructs a room with no sessions.
func NewRoom(name string) *Room {
	return &Room{
		Name:     name,
		sessions: make(map[*Session]struct{}),
	}
}

// Add inserts a session into the room. Returns true if newly added.
func (r *Room) Add(s *Session) bool {
	if _, exists := r.sessions[s]; exists {
		return false
	}
	r.sessions[s] = struct{}{}
	return true
}

// Remove deletes a session from the room. Returns true if removed.
func (r *Room) Remove(s *Session) bool {
	if _, exists := r.sessions[s]; !exists {
		return false
	}
	delete(r.sessions, s)
	return true
}

// Broadcast sends an event to all sessions in the room.
func (r *Room) Broadcast(event *Event) int {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	delivered := 0
	for s := range r.sessions {
		if s.deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Empty returns true if no sessions are in the room.
func (r *Room) Empty() bool {
	return len(r.sessions) == 0
}
