// Package drafts keeps per-user, per-chat composition text in memory and
// syncs it across the owner's sessions.
package drafts

import (
	"sync"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
)

type key struct {
	userID string
	chatID string
}

// Service owns the draft table.
type Service struct {
	mu     sync.Mutex
	drafts map[key]string
	hub    *core.Hub
}

// NewService creates an empty draft table.
func NewService(hub *core.Hub) *Service {
	return &Service{
		drafts: make(map[key]string),
		hub:    hub,
	}
}

// Update overwrites the draft and pushes it to every session of the user.
func (s *Service) Update(userID, chatID, text string) error {
	if chatID == "" {
		return core.Validation("chatId is required")
	}
	s.mu.Lock()
	if text == "" {
		delete(s.drafts, key{userID, chatID})
	} else {
		s.drafts[key{userID, chatID}] = text
	}
	s.mu.Unlock()

	s.hub.Notify(userID, &core.Event{
		Kind:    core.EventDraftUpdated,
		Payload: proto.DraftEvent{ChatID: chatID, Text: text},
	})
	return nil
}

// Get returns the stored draft, or "".
func (s *Service) Get(userID, chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[key{userID, chatID}]
}

// Clear drops the draft after a real message was sent and tells the
// user's sessions. Nothing is pushed when no draft existed.
func (s *Service) Clear(userID, chatID string) {
	s.mu.Lock()
	_, had := s.drafts[key{userID, chatID}]
	delete(s.drafts, key{userID, chatID})
	s.mu.Unlock()

	if had {
		s.hub.Notify(userID, &core.Event{
			Kind:    core.EventDraftUpdated,
			Payload: proto.DraftEvent{ChatID: chatID},
		})
	}
}

// Len returns the number of stored drafts.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}
