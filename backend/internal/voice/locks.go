package voice

import "sync"

// LockRegistry hands out one cycle permit per session id. Entries exist
// only while held.
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockRegistry creates an empty registry
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryAcquire takes the permit for sessionID without waiting. The returned
// release func removes the entry and is safe to call more than once.
func (r *LockRegistry) TryAcquire(sessionID string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.held[sessionID]; busy {
		return nil, false
	}
	r.held[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, sessionID)
			r.mu.Unlock()
		})
	}, true
}

// Held reports whether sessionID currently has a cycle running
func (r *LockRegistry) Held(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[sessionID]
	return ok
}

// Len returns the number of held permits
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
