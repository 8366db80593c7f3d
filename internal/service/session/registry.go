package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mwestphal/securechat/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry tracks active sessions by identifier, one Manager per session.
// Sessions are transient: they exist only for the process lifetime and leave
// no durable trace beyond whatever their transcripts saved.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Manager
	factory  func(username string) *Manager
}

// NewRegistry builds a registry that creates sessions through factory.
func NewRegistry(factory func(username string) *Manager) *Registry {
	return &Registry{
		sessions: make(map[string]*Manager),
		factory:  factory,
	}
}

// Create provisions a session for username and returns its identifier.
func (r *Registry) Create(username string) (string, *Manager) {
	id := uuid.NewString()
	mgr := r.factory(username)

	r.mu.Lock()
	r.sessions[id] = mgr
	r.mu.Unlock()

	return id, mgr
}

// Get resolves a session identifier for username. Resolving another user's
// session is a permission error, not a lookup miss.
func (r *Registry) Get(id, username string) (*Manager, error) {
	r.mu.RLock()
	mgr, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if mgr.Username() != username {
		return nil, store.ErrPermissionDenied
	}
	return mgr, nil
}

// Remove drops a session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
