package dispatch

import (
	"sync"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Scope groups subscriptions so they can be released together.
type Scope struct {
	mu       sync.Mutex
	releases []func()
	released bool
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Subscribe registers handler on d and ties the subscription to the scope.
// Subscribing on a released scope does nothing.
func (s *Scope) Subscribe(d *Dispatcher, kind model.MessageType, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.releases = append(s.releases, d.Subscribe(kind, handler))
}

// Release removes every subscription in the scope. Safe to call repeatedly.
func (s *Scope) Release() {
	s.mu.Lock()
	releases := s.releases
	s.releases = nil
	s.released = true
	s.mu.Unlock()

	for _, r := range releases {
		r()
	}
}

// Len returns the number of live subscriptions held by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}
