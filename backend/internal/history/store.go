// Package history stores per-session chat turns. The voice pipeline only
// reads recent turns and appends new ones; every backend is safe for
// concurrent use across sessions.
package history

import (
	"context"
	"time"
)

// Role of a chat turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's conversation
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
}

// Store is the chat-history backend
type Store interface {
	// GetRecent returns up to n turns in chronological order, oldest first.
	// n <= 0 returns every turn.
	GetRecent(ctx context.Context, sessionID string, n int) ([]Turn, error)
	// Append adds a turn. userID may be empty for anonymous sessions.
	Append(ctx context.Context, sessionID string, role Role, content, userID string) error
	// Clear removes every turn of the session
	Clear(ctx context.Context, sessionID string) error
}

// tail returns the last n turns of a chronological slice
func tail(turns []Turn, n int) []Turn {
	if n <= 0 || n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}
