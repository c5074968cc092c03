package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps turns in process memory. It is the default backend and
// loses everything on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Turn),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetRecent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := tail(s.sessions[sessionID], n)
	out := make([]Turn, len(recent))
	copy(out, recent)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, role Role, content, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = append(s.sessions[sessionID], Turn{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
		UserID:    userID,
	})
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sessions returns the number of sessions with at least one turn
func (s *MemoryStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
