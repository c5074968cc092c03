// Package tools holds the skills the voice pipeline can call on: web search
// and news headlines.
package tools

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Skill names
const (
	SkillWebSearch = "web_search"
	SkillNews      = "news"
)

// Skill answers a free-text query with formatted text
type Skill interface {
	Name() string
	Description() string
	Execute(ctx context.Context, query string) (string, error)
}

// Registry is a name-indexed set of skills
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		skills: make(map[string]Skill),
		logger: logger,
	}
}

// Register adds or replaces a skill under its name
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	r.skills[s.Name()] = s
	r.mu.Unlock()

	r.logger.Info("Skill registered", zap.String("skill", s.Name()))
}

// Get looks up a skill. Safe on a nil registry.
func (r *Registry) Get(name string) (Skill, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	if !ok {
		r.logger.Debug("Skill not found", zap.String("skill", name))
	}
	return s, ok
}

// List returns the registered skill names in sorted order
func (r *Registry) List() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
