package session

import (
	"sync"

	"github.com/example/corridor-matching/internal/observability"
)

// Registry tracks attached sessions and their group memberships. One identity
// holds at most one attached session: a second attach for the same user
// supersedes the first, which is force-closed.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	groups map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Session),
		groups: make(map[string]map[string]*Session),
	}
}

// Attach joins s to its role group and returns the superseded prior session,
// if any. Attaching the same session twice is a no-op.
func (r *Registry) Attach(s *Session) *Session {
	r.mu.Lock()
	prior := r.byUser[s.UserID]
	if prior == s {
		r.mu.Unlock()
		return nil
	}
	if prior != nil {
		prior.markSuperseded()
		r.removeLocked(prior)
	}
	r.byUser[s.UserID] = s
	g := s.Group()
	if r.groups[g] == nil {
		r.groups[g] = make(map[string]*Session)
	}
	r.groups[g][s.UserID] = s
	r.mu.Unlock()

	observability.ConnectionsActive.WithLabelValues(g).Inc()
	if prior != nil {
		// prior detaches as non-current later, so settle its gauge here
		observability.ConnectionsActive.WithLabelValues(prior.Group()).Dec()
		prior.Close()
	}
	return prior
}

// Detach removes s if it is still the attached session for its identity and
// reports whether it was. A superseded session detaches as false so its
// cleanup does not clobber the live connection's presence.
func (r *Registry) Detach(s *Session) bool {
	r.mu.Lock()
	current := r.byUser[s.UserID] == s
	if current {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	if current {
		observability.ConnectionsActive.WithLabelValues(s.Group()).Dec()
	}
	s.Close()
	return current
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byUser, s.UserID)
	if g := r.groups[s.Group()]; g != nil {
		delete(g, s.UserID)
	}
}

// Broadcast fans event out to every session in group. Delivery is
// best-effort: sends never block and never touch the registry lock.
func (r *Registry) Broadcast(group, event string, payload interface{}) {
	r.mu.RLock()
	members := make([]*Session, 0, len(r.groups[group]))
	for _, s := range r.groups[group] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	ev := Event{Event: event, Data: payload}
	for _, s := range members {
		before := s.Dropped()
		s.Send(ev)
		if d := s.Dropped() - before; d > 0 {
			observability.BroadcastDropsTotal.Add(float64(d))
		}
	}
	observability.BroadcastsTotal.WithLabelValues(event).Inc()
}

// GroupSize reports current membership, mostly for health output and tests.
func (r *Registry) GroupSize(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}
