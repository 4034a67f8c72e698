package session

import (
	"sync"
	"time"
)

// Registry keeps the single live session of every participant.
type Registry struct {
	mu   sync.RWMutex
	live map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Session)}
}

// Get returns the live session of a participant.
func (r *Registry) Get(participantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.live[participantID]
	return s, ok
}

// Start supersedes any live session of the participant with a fresh one.
// The previous session, if any, is returned so callers can log it.
func (r *Registry) Start(participantID, displayName string, now time.Time) (current, previous *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.live[participantID]
	current = New(participantID, displayName, now)
	r.live[participantID] = current
	return current, previous
}

// Remove drops the live session only if it is still the one identified by sessionID.
func (r *Registry) Remove(participantID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.live[participantID]; ok && s.ID == sessionID {
		delete(r.live, participantID)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
