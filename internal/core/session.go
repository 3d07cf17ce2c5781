package core

// Session is one live connection of a user. A user may hold many.
type Session struct {
	ID     string
	UserID string
	Events chan *Event

	// guarded by Hub.mu
	rooms  map[string]struct{}
	closed bool
}

// NewSession constructs a session with a buffered event channel.
func NewSession(id, userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 16
	}
	return &Session{
		ID:     id,
		UserID: userID,
		Events: make(chan *Event, buffer),
		rooms:  make(map[string]struct{}),
	}
}

func (s *Session) deliver(event *Event) bool {
	select {
	case s.Events <- event:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

// Actor identifies the user and the session performing an operation.
// SessionID may be empty for server-initiated work.
type Actor struct {
	UserID    string
	SessionID string
}

// ActorOf returns the actor for a session.
func ActorOf(s *Session) Actor {
	return Actor{UserID: s.UserID, SessionID: s.ID}
}
