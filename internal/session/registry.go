package session

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"chatrelay/pkg/types"
)

// Registry is the authoritative store of active sessions, keyed by session id.
// Sessions never expire on their own; they live exactly as long as the
// connection that created them.
type Registry struct {
	sessions map[string]types.Session
	mu       sync.RWMutex
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]types.Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for ConnectedAt.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create inserts a new session. Ids come from a unique generator, so a
// duplicate id indicates a programming error and is refused.
func (r *Registry) Create(id, username string) (types.Session, error) {
	if id == "" {
		return types.Session{}, ErrInvalidSessionID
	}
	if username == "" {
		return types.Session{}, ErrInvalidUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return types.Session{}, ErrDuplicateSession
	}

	session := types.Session{
		ID:          id,
		DisplayName: username,
		ConnectedAt: r.now(),
	}
	r.sessions[id] = session
	return session, nil
}

// Get returns the session for id. Absence is not an error.
func (r *Registry) Get(id string) (types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	return session, ok
}

// Remove deletes the session and returns it. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return session, ok
}

// List returns a snapshot of all active sessions ordered by join time.
func (r *Registry) List() []types.Session {
	r.mu.RLock()
	sessions := lo.Values(r.sessions)
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
