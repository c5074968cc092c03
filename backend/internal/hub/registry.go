package hub

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"voice-assistant/backend/internal/protocol"
)

// ErrNotConnected is returned when sending to an unknown connection id
var ErrNotConnected = errors.New("connection not registered")

// Sender is anything that can deliver a message to one client
type Sender interface {
	Send(msg protocol.Message) error
}

// Registry maps connection ids to live connections
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Sender
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Sender),
		logger: logger,
	}
}

// Connect registers conn under id, replacing any previous entry
func (r *Registry) Connect(id string, conn Sender) {
	r.mu.Lock()
	r.conns[id] = conn
	count := len(r.conns)
	r.mu.Unlock()

	r.logger.Debug("Connection registered", zap.String("connection_id", id), zap.Int("active", count))
}

// Disconnect removes id. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	count := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("Connection removed", zap.String("connection_id", id), zap.Int("active", count))
	}
}

// Send delivers msg to one connection
func (r *Registry) Send(id string, msg protocol.Message) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// Broadcast sends msg to every connection and returns how many accepted it
func (r *Registry) Broadcast(msg protocol.Message) int {
	r.mu.RLock()
	targets := make(map[string]Sender, len(r.conns))
	for id, conn := range r.conns {
		targets[id] = conn
	}
	r.mu.RUnlock()

	delivered := 0
	for id, conn := range targets {
		if err := conn.Send(msg); err != nil {
			r.logger.Warn("Broadcast failed", zap.String("connection_id", id), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// IsConnected reports whether id is registered
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
