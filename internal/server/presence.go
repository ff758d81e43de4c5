package server

import (
	"sync"
)

// PresenceRegistry owns the mapping from account ids to their live
// connections. A user is online iff their connection set is non-empty.
// All mutations are linearized under the registry lock so the first-connect
// and last-disconnect transitions are reported exactly once.
type PresenceRegistry struct {
	mu    sync.RWMutex
	conns map[int]map[*Client]struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		conns: make(map[int]map[*Client]struct{}),
	}
}

// Connect registers a live connection under its user. It is idempotent per
// handle and reports whether this was the user's first connection.
func (p *PresenceRegistry) Connect(userId int, c *Client) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userId]
	if !ok {
		set = make(map[*Client]struct{})
		p.conns[userId] = set
	}

	if _, exists := set[c]; exists {
		return false
	}

	set[c] = struct{}{}
	return len(set) == 1
}

// Disconnect removes the handle and reports whether the user's connection
// set became empty. Unknown handles are a no-op; a connection cleaned up
// twice never yields a second offline transition.
func (p *PresenceRegistry) Disconnect(c *Client) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[c.user.Id]
	if !ok {
		return false
	}

	if _, exists := set[c]; !exists {
		return false
	}

	delete(set, c)
	if len(set) == 0 {
		delete(p.conns, c.user.Id)
		return true
	}

	return false
}

// ConnectionsFor returns a snapshot of the user's live connections. Handles
// may become stale immediately after the call; delivery is best-effort.
func (p *PresenceRegistry) ConnectionsFor(userId int) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[userId]
	if len(set) == 0 {
		return nil
	}

	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}

	return clients
}

func (p *PresenceRegistry) IsOnline(userId int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.conns[userId]) > 0
}

// OnlineUsers returns the number of users with at least one connection.
func (p *PresenceRegistry) OnlineUsers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.conns)
}
