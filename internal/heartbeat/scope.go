package heartbeat

import (
	"sync"
	"time"
)

// Scope is a cancellable deadline. The callback fires once when the
// deadline elapses; a scope cancelled first never fires. Scopes compose:
// a parent that fires or is cancelled cancels all scopes derived from it.
type Scope struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
	children  []*Scope
	done      chan struct{}
}

// NewScope arms a deadline of d with callback fn. fn runs on its own
// goroutine.
func NewScope(d time.Duration, fn func()) *Scope {
	s := &Scope{done: make(chan struct{})}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.cancelled || s.fired {
			s.mu.Unlock()
			return
		}
		s.fired = true
		close(s.done)
		children := s.children
		s.children = nil
		s.mu.Unlock()

		// An elapsed parent deadline implies its children's deadlines too.
		for _, c := range children {
			c.Cancel()
		}
		fn()
	})
	return s
}

// Child arms a deadline that is additionally cancelled when s is cancelled.
func (s *Scope) Child(d time.Duration, fn func()) *Scope {
	child := NewScope(d, fn)
	s.mu.Lock()
	if s.cancelled || s.fired {
		s.mu.Unlock()
		child.Cancel()
		return child
	}
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child
}

// Cancel disarms the scope and its children. A scope that already fired is
// unaffected. Idempotent.
func (s *Scope) Cancel() {
	s.mu.Lock()
	if s.cancelled || s.fired {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.timer.Stop()
	children := s.children
	s.children = nil
	close(s.done)
	s.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
}

// Done is closed when the scope fires or is cancelled.
func (s *Scope) Done() <-chan struct{} { return s.done }

// Fired reports whether the callback ran.
func (s *Scope) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}
