package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownCallID is returned when no session exists for a call id.
var ErrUnknownCallID = errors.New("unknown call id")

// Registry maps call ids to live sessions. It is shared by every connection
// loop that may carry events for the same calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Put stores s under its call id, replacing any existing entry. The replaced
// session is returned so the caller can report the duplicate.
func (r *Registry) Put(s *Session) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.sessions[s.callSid]
	r.sessions[s.callSid] = s
	return replaced
}

// Lookup returns the session for callSid or ErrUnknownCallID.
func (r *Registry) Lookup(callSid string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callSid]
	if !ok {
		return nil, ErrUnknownCallID
	}
	return s, nil
}

// Remove deletes the session for callSid. Removing an absent id is a no-op.
func (r *Registry) Remove(callSid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callSid]; !ok {
		return false
	}
	delete(r.sessions, callSid)
	return true
}

// RemoveOwnedBy deletes every session whose owning connection is connID and
// returns the removed call ids. Sessions taken over by another connection
// are left alone.
func (r *Registry) RemoveOwnedBy(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for callSid, s := range r.sessions {
		if s.ConnID() == connID {
			delete(r.sessions, callSid)
			removed = append(removed, callSid)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CallSids returns the live call ids in sorted order.
func (r *Registry) CallSids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for callSid := range r.sessions {
		out = append(out, callSid)
	}
	sort.Strings(out)
	return out
}
