package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pigeon-chat/pigeon/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestPresenceConnectDisconnect(t *testing.T) {
	p := NewPresenceRegistry()

	c1 := newTestClient(1, "user1")
	c2 := newTestClient(1, "user1")

	assert.True(t, p.Connect(1, c1), "expected first connection to report the online transition")
	assert.False(t, p.Connect(1, c2), "expected second connection to report no transition")
	assert.True(t, p.IsOnline(1), "expected user to be online")
	assert.Equal(t, 1, p.OnlineUsers(), "expected one online user")

	assert.False(t, p.Disconnect(c1), "expected no offline transition while a connection remains")
	assert.True(t, p.IsOnline(1), "expected user to remain online")
	assert.True(t, p.Disconnect(c2), "expected the last disconnect to report the offline transition")
	assert.False(t, p.IsOnline(1), "expected user to be offline")
	assert.Equal(t, 0, p.OnlineUsers(), "expected no online users")
}

func TestPresenceConnectIdempotent(t *testing.T) {
	p := NewPresenceRegistry()

	c := newTestClient(1, "user1")
	assert.True(t, p.Connect(1, c), "expected first connect to report the transition")
	assert.False(t, p.Connect(1, c), "expected repeated connect of the same handle to be a no-op")

	assert.Len(t, p.ConnectionsFor(1), 1, "expected a single registered connection")
}

func TestPresenceDisconnectUnknownHandle(t *testing.T) {
	p := NewPresenceRegistry()

	c := &Client{user: types.User{Id: 5}}
	assert.False(t, p.Disconnect(c), "expected disconnecting an unknown handle to be a no-op")
}

func TestPresenceConnectionsForSnapshot(t *testing.T) {
	p := NewPresenceRegistry()

	c1 := newTestClient(1, "user1")
	c2 := newTestClient(1, "user1")
	p.Connect(1, c1)
	p.Connect(1, c2)

	conns := p.ConnectionsFor(1)
	assert.Len(t, conns, 2, "expected both connections in the snapshot")
	assert.ElementsMatch(t, []*Client{c1, c2}, conns, "expected the snapshot to contain the registered handles")

	assert.Nil(t, p.ConnectionsFor(2), "expected nil for a user with no connections")
}

// The offline transition must be reported exactly once no matter how many
// goroutines race to clean up the same connections.
func TestPresenceRacingDisconnects(t *testing.T) {
	p := NewPresenceRegistry()

	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = newTestClient(1, "user1")
		p.Connect(1, clients[i])
	}

	var offline atomic.Int32
	var wg sync.WaitGroup

	for _, c := range clients {
		for range 3 {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				if p.Disconnect(c) {
					offline.Add(1)
				}
			}(c)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), offline.Load(), "expected exactly one offline transition")
	assert.False(t, p.IsOnline(1), "expected the user to be offline")
}
