// Package destruct deletes messages of self-destructing chats after a delay.
package destruct

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/timers"
)

const deleteTimeout = 10 * time.Second

// Scheduler arms one-shot deletions. Pending deletions live only in this
// process and are lost on restart.
type Scheduler struct {
	messages store.MessageStore
	hub      *core.Hub
	timers   *timers.Set
	log      *zerolog.Logger
}

// NewScheduler creates a scheduler on a shared timer set.
func NewScheduler(messages store.MessageStore, hub *core.Hub, set *timers.Set, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{messages: messages, hub: hub, timers: set, log: logger}
}

func timerKey(messageID string) string {
	return "destruct:" + messageID
}

// Arm schedules deletion of messageID after delay.
func (s *Scheduler) Arm(messageID, chatID string, delay time.Duration) bool {
	return s.timers.Schedule(timerKey(messageID), delay, func() {
		s.fire(messageID, chatID)
	})
}

// Armed reports whether a deletion is pending for messageID.
func (s *Scheduler) Armed(messageID string) bool {
	return s.timers.Pending(timerKey(messageID))
}

// Disarm cancels a pending deletion, used when the message is deleted first.
func (s *Scheduler) Disarm(messageID string) {
	s.timers.Cancel(timerKey(messageID))
}

func (s *Scheduler) fire(messageID, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	deleted, err := s.messages.DeleteMessage(ctx, messageID)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Str("chat_id", chatID).Msg("self-destruct failed")
		return
	}
	if !deleted {
		return
	}
	s.log.Debug().Str("message_id", messageID).Str("chat_id", chatID).Msg("message destructed")
	s.hub.Broadcast(chatID, &core.Event{
		Kind:    core.EventMessageDestructed,
		Payload: proto.MessageRefEvent{ChatID: chatID, MessageID: messageID},
	})
}
