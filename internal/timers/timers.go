// Package timers holds process-local one-shot timers keyed by string.
// Keys reference durable ids (chat, message, user), never connections.
package timers

import (
	"sync"
	"time"
)

// Set is a keyed collection of one-shot timers.
type Set struct {
	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
	wg      sync.WaitGroup
}

type entry struct {
	timer *time.Timer
}

// New returns an empty timer set.
func New() *Set {
	return &Set{timers: make(map[string]*entry)}
}

// Schedule arms fn to run once after d. An existing timer with the same key
// is replaced. Returns false after Stop.
func (s *Set) Schedule(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	e := &entry{}
	e.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.timers[key]
		if !ok || cur != e || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		fn()
	})
	s.timers[key] = e
	return true
}

// Cancel stops the timer for key. Returns true if one was pending.
func (s *Set) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending reports whether a timer for key is armed.
func (s *Set) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of armed timers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer, rejects new ones and waits for
// callbacks already running.
func (s *Set) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
