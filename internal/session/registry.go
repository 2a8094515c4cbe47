package session

import (
	"sync"
	"weak"

	"github.com/voxsec/voxsec/internal/switchctl"
)

// Registry is the process-wide map from call uuid to live Session. Entries
// are weak pointers: the registry never extends a session's lifetime, so a
// session that leaked out of its teardown path still becomes collectable.
//
// The registry implements [switchctl.Router] so the switch event stream can
// deliver events to the owning session's bus.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]weak.Pointer[Session]
}

var _ switchctl.Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]weak.Pointer[Session])}
}

// Add registers a session under its call uuid, replacing any stale entry.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallUUID()] = weak.Make(s)
}

// Remove deregisters the call uuid.
func (r *Registry) Remove(callUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callUUID)
}

// Get returns the live session for a call uuid. Entries whose session has
// been collected are pruned on access.
func (r *Registry) Get(callUUID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ptr, ok := r.sessions[callUUID]
	if !ok {
		return nil, false
	}
	s := ptr.Value()
	if s == nil {
		delete(r.sessions, callUUID)
		return nil, false
	}
	return s, true
}

// All returns every live registered session. Collected entries are pruned.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make([]*Session, 0, len(r.sessions))
	for uuid, ptr := range r.sessions {
		s := ptr.Value()
		if s == nil {
			delete(r.sessions, uuid)
			continue
		}
		live = append(live, s)
	}
	return live
}

// Len returns the number of registered (possibly stale) entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Route implements [switchctl.Router].
func (r *Registry) Route(callID string) (switchctl.Target, bool) {
	s, ok := r.Get(callID)
	if !ok {
		return switchctl.Target{}, false
	}
	return switchctl.Target{Events: s.Events(), CallUUID: s.CallUUID()}, true
}
