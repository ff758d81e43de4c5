package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/stats"
	"github.com/pigeon-chat/pigeon/internal/testutil"
	"github.com/pigeon-chat/pigeon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestChatServer(t *testing.T, db database.Repository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(7)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, "test-node", nil)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func newTestClient(userId int, username string) *Client {
	return &Client{
		user:     types.User{Id: userId, Username: username},
		send:     make(chan *ServerMessage, 256),
		sessions: make(map[string]*ChatSession),
		stop:     make(chan struct{}),
	}
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(7)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, "test-node", nil)
	require.NoError(t, err, "expected no error creating chat server")
	require.NotNil(t, cs, "expected chat server to be non-nil")

	assert.NotNil(t, cs.presence, "expected presence registry to be initialized")
	assert.NotNil(t, cs.sessions, "expected sessions map to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
}

func TestPushLocal(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	c1 := newTestClient(1, "user1")
	c2 := newTestClient(1, "user1")
	cs.presence.Connect(1, c1)
	cs.presence.Connect(1, c2)

	msg := NoErrOK(1, nil)
	n := cs.pushLocal(1, msg)
	assert.Equal(t, 2, n, "expected both connections to accept the message")
	assert.Len(t, c1.send, 1, "expected first connection to receive the message")
	assert.Len(t, c2.send, 1, "expected second connection to receive the message")

	n = cs.pushLocal(2, msg)
	assert.Equal(t, 0, n, "expected no delivery for a user with no connections")
}

func TestPushLocalSkipClient(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	c1 := newTestClient(1, "user1")
	c2 := newTestClient(1, "user1")
	cs.presence.Connect(1, c1)
	cs.presence.Connect(1, c2)

	msg := NoErrOK(1, nil)
	msg.SkipClient = c1

	n := cs.pushLocal(1, msg)
	assert.Equal(t, 1, n, "expected only the non-skipped connection to be counted")
	assert.Len(t, c1.send, 0, "expected skipped connection to receive nothing")
	assert.Len(t, c2.send, 1, "expected other connection to receive the message")
}

func TestPushToUserContactEvent(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	requester := newTestClient(1, "requester")
	cs.presence.Connect(1, requester)

	cs.PushToUser(1, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ContactEvent: &ContactEvent{
			Kind:      "contact_blocked",
			ContactId: 10,
			UserId:    2,
			Username:  "blocker",
		},
	})

	require.Len(t, requester.send, 1, "expected the blocked requester's connection to receive the event")
	notif := <-requester.send
	require.NotNil(t, notif.ContactEvent, "expected a contact_event")
	assert.Equal(t, "contact_blocked", notif.ContactEvent.Kind, "expected the blocked kind to be carried")
	assert.Equal(t, 2, notif.ContactEvent.UserId, "expected the acting user id to be carried")
}

func TestNotifyChatLoadsSession(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	su.On("Incr", "ActiveSessions").Return().Once()
	db.On("GetChatByExternalId", "abc123").Return(database.Chat{
		Id:         1,
		ExternalId: "abc123",
		Type:       types.ChatTypeGroup,
		Name:       "general",
	}, nil).Once()
	db.On("GetChatWithMembers", 1).Return(&database.Chat{
		Id:         1,
		ExternalId: "abc123",
		Members: []database.ChatMember{
			{AccountId: 1, Username: "user1", Role: types.RoleAdmin},
			{AccountId: 2, Username: "user2", Role: types.RoleMember},
		},
	}, nil).Once()

	member := newTestClient(2, "user2")
	cs.presence.Connect(2, member)

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	// no session is loaded for the chat; the notify must load it on demand
	cs.NotifyChat("abc123", &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		MessageUpdated: &MessageUpdated{
			Id:        "11111111-1111-1111-1111-111111111111",
			ChatId:    "abc123",
			Content:   "edited",
			UpdatedAt: Now(),
		},
	})

	require.Eventually(t, func() bool { return len(member.send) == 1 },
		time.Second, 10*time.Millisecond, "expected the edit to reach the online member")
	notif := <-member.send
	require.NotNil(t, notif.MessageUpdated, "expected a message_updated event")
	assert.Equal(t, "edited", notif.MessageUpdated.Content, "expected the new content to be carried")
}

func TestAddClientPresenceTransitions(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	su.On("Incr", "ActiveConnections").Return().Times(2)
	su.On("Incr", "OnlineUsers").Return().Once()
	db.On("SetAccountPresence", 1, types.UserStatusOnline, mock.Anything).Return(nil).Once()
	db.On("AcceptedContactIds", 1).Return([]int{2}, nil).Once()

	contactConn := newTestClient(2, "contact")
	cs.presence.Connect(2, contactConn)

	c1 := newTestClient(1, "user1")
	cs.addClient(c1)

	require.Len(t, contactConn.send, 1, "expected contact to be told the user came online")
	notif := <-contactConn.send
	require.NotNil(t, notif.UserOnline, "expected a user_online event")
	assert.Equal(t, 1, notif.UserOnline.UserId, "expected the event to carry the user id")

	// second connection for the same user must not re-announce
	c2 := newTestClient(1, "user1")
	cs.addClient(c2)
	assert.Len(t, contactConn.send, 0, "expected no second online announcement")
}

func TestRemoveClientPresenceTransitions(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	su.On("Incr", "ActiveConnections").Return().Times(2)
	su.On("Incr", "OnlineUsers").Return().Once()
	su.On("Decr", "ActiveConnections").Return().Times(2)
	su.On("Decr", "OnlineUsers").Return().Once()
	db.On("SetAccountPresence", 1, types.UserStatusOnline, mock.Anything).Return(nil).Once()
	db.On("SetAccountPresence", 1, types.UserStatusOffline, mock.Anything).Return(nil).Once()
	db.On("AcceptedContactIds", 1).Return([]int{2}, nil).Times(2)

	contactConn := newTestClient(2, "contact")
	cs.presence.Connect(2, contactConn)

	c1 := newTestClient(1, "user1")
	c2 := newTestClient(1, "user1")
	cs.addClient(c1)
	cs.addClient(c2)
	<-contactConn.send // drain the online event

	cs.removeClient(c1)
	assert.Len(t, contactConn.send, 0, "expected no offline event while a connection remains")

	cs.removeClient(c2)
	require.Len(t, contactConn.send, 1, "expected offline event when the last connection closed")
	notif := <-contactConn.send
	require.NotNil(t, notif.UserOffline, "expected a user_offline event")
	assert.Equal(t, 1, notif.UserOffline.UserId, "expected the event to carry the user id")
	assert.NotNil(t, notif.UserOffline.LastSeen, "expected last seen to be recorded")

	// a repeated removal of the same handle must be a no-op
	cs.removeClient(c2)
	assert.Len(t, contactConn.send, 0, "expected no second offline announcement")
}

func TestEnsureSession(t *testing.T) {
	t.Run("loads chat on demand", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		cs := newTestChatServer(t, db, su)

		su.On("Incr", "ActiveSessions").Return().Once()
		db.On("GetChatByExternalId", "abc123").Return(database.Chat{
			Id:         1,
			ExternalId: "abc123",
			Type:       types.ChatTypeGroup,
			Name:       "general",
		}, nil).Once()
		db.On("GetChatWithMembers", 1).Return(&database.Chat{
			Id:         1,
			ExternalId: "abc123",
			Members: []database.ChatMember{
				{AccountId: 1, Username: "user1", Role: types.RoleAdmin},
				{AccountId: 2, Username: "user2", Role: types.RoleMember},
			},
		}, nil).Once()

		s, errMsg := cs.ensureSession("abc123", 1)
		require.Nil(t, errMsg, "expected no error message")
		require.NotNil(t, s, "expected a session")
		assert.Equal(t, 1, s.id, "expected the chat id to be loaded")
		assert.Len(t, s.members, 2, "expected the member list to be cached")
		assert.Contains(t, cs.sessions, "abc123", "expected the session to be registered")

		// second lookup hits the map, not the database
		again, errMsg := cs.ensureSession("abc123", 2)
		assert.Nil(t, errMsg, "expected no error message on cached lookup")
		assert.Same(t, s, again, "expected the cached session to be returned")
	})

	t.Run("unknown chat", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		cs := newTestChatServer(t, db, su)

		db.On("GetChatByExternalId", "missing").Return(database.Chat{}, sql.ErrNoRows).Once()

		s, errMsg := cs.ensureSession("missing", 7)
		assert.Nil(t, s, "expected no session")
		require.NotNil(t, errMsg, "expected an error message")
		assert.Equal(t, 404, errMsg.Response.ResponseCode, "expected a not found response")
		assert.Equal(t, 7, errMsg.Id, "expected the correlation id to be echoed")
	})
}

func TestMarkRead(t *testing.T) {
	readAt := Now().Add(-time.Minute)

	t.Run("records receipt and advances watermark", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		cs := newTestChatServer(t, db, su)

		msg := database.Message{
			Id:        "11111111-1111-1111-1111-111111111111",
			ChatId:    1,
			SenderId:  2,
			CreatedAt: readAt,
		}

		db.On("GetMessageById", msg.Id).Return(msg, nil).Once()
		db.On("MemberExists", 1, 3).Return(true).Once()
		db.On("UpsertReadReceipt", msg.Id, 3, mock.Anything).Return(nil).Once()
		db.On("UpdateLastRead", 1, 3, msg.CreatedAt).Return(nil).Once()
		su.On("Incr", "ReadReceipts").Return().Once()

		senderConn := newTestClient(2, "sender")
		cs.presence.Connect(2, senderConn)

		cs.MarkRead(3, msg.Id)

		require.Len(t, senderConn.send, 1, "expected the sender to be told about the read")
		notif := <-senderConn.send
		require.NotNil(t, notif.MessageRead, "expected a message_read event")
		assert.Equal(t, msg.Id, notif.MessageRead.MessageId, "expected the message id to match")
		assert.Equal(t, 3, notif.MessageRead.UserId, "expected the reader id to be carried")
	})

	t.Run("unknown message is a no-op", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		cs := newTestChatServer(t, db, su)

		db.On("GetMessageById", "nope").Return(database.Message{}, sql.ErrNoRows).Once()

		cs.MarkRead(3, "nope")
	})

	t.Run("non-member is a no-op", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		cs := newTestChatServer(t, db, su)

		msg := database.Message{Id: "22222222-2222-2222-2222-222222222222", ChatId: 1, SenderId: 2}
		db.On("GetMessageById", msg.Id).Return(msg, nil).Once()
		db.On("MemberExists", 1, 9).Return(false).Once()

		cs.MarkRead(9, msg.Id)
	})
}

func TestShutdown(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	go cs.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := cs.Shutdown(ctx)
	assert.NoError(t, err, "expected shutdown to complete")
}
