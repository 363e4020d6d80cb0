package sessions

import "sync"

// Registry is the process-wide index of live sessions, keyed by session ID.
// All methods are safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Session)}
}

// Register adds a session. Registering an ID that is already present
// replaces the existing entry silently; the transport generates unique IDs,
// so a collision here means the caller re-registered its own session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
}

// Get looks up a session by ID. The second return reports presence; an
// unknown ID is a normal condition, not a fault.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	return s, ok
}

// Remove deletes a session by ID and returns it. The second return reports
// whether it was present; at most one caller observes true for a given entry,
// so the liveness probe and the connection-close path can race without
// double-running removal side effects. Removing an absent ID is a no-op.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Range calls fn for each registered session until fn returns false. The
// snapshot is taken under the read lock so fn may call back into the
// registry.
func (r *Registry) Range(fn func(s *Session) bool) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}
