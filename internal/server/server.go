package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/messaging"
	"github.com/pigeon-chat/pigeon/internal/stats"
	"github.com/pigeon-chat/pigeon/internal/types"
)

type stopReq struct {
	done chan struct{}
}

type chatNotify struct {
	chatId string
	msg    *ServerMessage
}

type memberReq struct {
	chatId string
	upd    *memberUpdate
}

type apiSendReq struct {
	chatId string
	req    *sendReq
}

type unloadReq struct {
	chatId  string
	deleted bool
	done    chan bool
}

// pushEnvelope wraps a push event relayed over the bridge. Origin lets the
// publishing node ignore its own events when they come back around.
type pushEnvelope struct {
	Origin  string         `json:"origin"`
	UserId  int            `json:"user_id"`
	Message *ServerMessage `json:"message"`
}

// ChatServer owns the connection registry and the set of loaded chat
// sessions. Session lifecycle runs through the Run loop so a chat is never
// loaded twice and unload races with concurrent joins are impossible.
type ChatServer struct {
	log        *log.Logger
	db         database.Repository
	stats      stats.StatsProvider
	presence   *PresenceRegistry
	serverName string
	bridge     *messaging.Client

	clients  map[*Client]struct{}
	sessions map[string]*ChatSession

	joinChan       chan *ClientMessage
	routeChan      chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	notifyChan     chan *chatNotify
	memberChan     chan *memberReq
	apiSendChan    chan *apiSendReq
	unloadChan     chan string
	unloadReqChan  chan *unloadReq
	stop           chan stopReq
}

func NewChatServer(l *log.Logger, db database.Repository, su stats.StatsProvider, serverName string, bridge *messaging.Client) (*ChatServer, error) {
	cs := &ChatServer{
		log:            l,
		db:             db,
		stats:          su,
		presence:       NewPresenceRegistry(),
		serverName:     serverName,
		bridge:         bridge,
		clients:        make(map[*Client]struct{}),
		sessions:       make(map[string]*ChatSession),
		joinChan:       make(chan *ClientMessage, 64),
		routeChan:      make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client, 64),
		deRegisterChan: make(chan *Client, 64),
		notifyChan:     make(chan *chatNotify, 64),
		memberChan:     make(chan *memberReq),
		apiSendChan:    make(chan *apiSendReq),
		unloadChan:     make(chan string, 64),
		unloadReqChan:  make(chan *unloadReq),
		stop:           make(chan stopReq),
	}

	for _, metric := range []string{
		"ActiveConnections",
		"OnlineUsers",
		"ActiveSessions",
		"MessagesSent",
		"DeliveriesRecorded",
		"ReadReceipts",
		"TypingEvents",
	} {
		cs.stats.RegisterMetric(metric)
	}

	if bridge != nil {
		if err := bridge.SubscribeUserPush(cs.handleBridgePush); err != nil {
			return nil, fmt.Errorf("subscribe push bridge: %w", err)
		}
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case join := <-cs.joinChan:
			s, errMsg := cs.ensureSession(join.Join.ChatId, join.Id)
			if errMsg != nil {
				join.client.queueMessage(errMsg)
				continue
			}

			select {
			case s.joinChan <- join:
			default:
				join.client.queueMessage(ErrServiceUnavailable(join.Id))
			}
		case msg := <-cs.routeChan:
			cs.routeToSession(msg)
		case c := <-cs.RegisterChan:
			cs.addClient(c)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case n := <-cs.notifyChan:
			s, errMsg := cs.ensureSession(n.chatId, 0)
			if errMsg != nil {
				cs.log.Printf("dropping notify for unknown chat %q", n.chatId)
				continue
			}

			select {
			case s.broadcastChan <- n.msg:
			default:
				cs.log.Printf("broadcast channel full for chat %q", n.chatId)
			}
		case req := <-cs.memberChan:
			s, errMsg := cs.ensureSession(req.chatId, 0)
			if errMsg != nil {
				req.upd.err <- ErrChatUnknown
				continue
			}
			s.memberChan <- req.upd
		case req := <-cs.apiSendChan:
			s, errMsg := cs.ensureSession(req.chatId, 0)
			if errMsg != nil {
				req.req.resp <- sendResp{err: ErrChatUnknown}
				continue
			}
			s.sendChan <- req.req
		case chatId := <-cs.unloadChan:
			cs.unloadSession(chatId, false, nil)
		case req := <-cs.unloadReqChan:
			cs.unloadSession(req.chatId, req.deleted, req.done)
		case req := <-cs.stop:
			cs.shutdown()
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) routeToSession(msg *ClientMessage) {
	var chatId string
	switch {
	case msg.Send != nil:
		chatId = msg.Send.ChatId
	case msg.TypingStart != nil:
		chatId = msg.TypingStart.ChatId
	case msg.TypingStop != nil:
		chatId = msg.TypingStop.ChatId
	default:
		return
	}

	ephemeral := msg.Send == nil

	s, errMsg := cs.ensureSession(chatId, msg.Id)
	if errMsg != nil {
		// typing against an unknown chat is dropped without a reply
		if !ephemeral && msg.client != nil {
			msg.client.queueMessage(errMsg)
		}
		return
	}

	select {
	case s.inbound <- msg:
	default:
		if !ephemeral && msg.client != nil {
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	}
}

// ensureSession returns the loaded session for a chat, loading it from the
// database on first use. The error return is a ready client reply.
func (cs *ChatServer) ensureSession(chatId string, msgId int) (*ChatSession, *ServerMessage) {
	if s, ok := cs.sessions[chatId]; ok {
		return s, nil
	}

	chat, err := cs.db.GetChatByExternalId(chatId)
	if err != nil {
		return nil, ErrChatNotFound(msgId)
	}

	withMembers, err := cs.db.GetChatWithMembers(chat.Id)
	if err != nil {
		cs.log.Println("load chat members:", err)
		return nil, ErrInternalError(msgId)
	}

	s := &ChatSession{
		id:            chat.Id,
		externalId:    chat.ExternalId,
		chatType:      chat.Type,
		name:          chat.Name,
		cs:            cs,
		members:       membersFromDB(withMembers.Members),
		joinChan:      make(chan *ClientMessage, 16),
		leaveChan:     make(chan *ClientMessage, 16),
		inbound:       make(chan *ClientMessage, 256),
		sendChan:      make(chan *sendReq, 16),
		broadcastChan: make(chan *ServerMessage, 64),
		memberChan:    make(chan *memberUpdate, 16),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq, 1),
		done:          make(chan struct{}),
	}

	cs.sessions[chat.ExternalId] = s
	cs.stats.Incr("ActiveSessions")
	go s.start()

	return s, nil
}

func (cs *ChatServer) unloadSession(chatId string, deleted bool, done chan bool) {
	s, ok := cs.sessions[chatId]
	if !ok {
		if done != nil {
			done <- true
		}
		return
	}

	// an idle unload loses the race against a join that landed after the
	// timer fired; keep the session in that case
	if done == nil && !deleted && s.hasClients() {
		return
	}

	delete(cs.sessions, chatId)
	cs.stats.Decr("ActiveSessions")
	s.exit <- exitReq{deleted: deleted, done: done}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clients[c] = struct{}{}
	cs.stats.Incr("ActiveConnections")

	if cs.presence.Connect(c.user.Id, c) {
		cs.stats.Incr("OnlineUsers")

		now := Now()
		if err := cs.db.SetAccountPresence(c.user.Id, types.UserStatusOnline, now); err != nil {
			cs.log.Println("set presence online:", err)
		}

		cs.broadcastPresence(c.user.Id, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: now},
			UserOnline:  &UserPresence{UserId: c.user.Id},
		})
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr("ActiveConnections")

	if cs.presence.Disconnect(c) {
		cs.stats.Decr("OnlineUsers")

		now := Now()
		if err := cs.db.SetAccountPresence(c.user.Id, types.UserStatusOffline, now); err != nil {
			cs.log.Println("set presence offline:", err)
		}

		lastSeen := now
		cs.broadcastPresence(c.user.Id, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: now},
			UserOffline: &UserPresence{UserId: c.user.Id, LastSeen: &lastSeen},
		})
	}
}

// broadcastPresence pushes an online or offline transition to the user's
// accepted contacts only.
func (cs *ChatServer) broadcastPresence(userId int, msg *ServerMessage) {
	contactIds, err := cs.db.AcceptedContactIds(userId)
	if err != nil {
		cs.log.Println("accepted contact ids:", err)
		return
	}

	for _, contactId := range contactIds {
		cs.pushToUser(contactId, msg)
	}
}

// pushToUser delivers an event to the user's local connections and, when a
// bridge is configured, mirrors it to other nodes. The return counts local
// connections that accepted the event.
func (cs *ChatServer) pushToUser(userId int, msg *ServerMessage) int {
	n := cs.pushLocal(userId, msg)

	if cs.bridge != nil {
		data, err := json.Marshal(pushEnvelope{
			Origin:  cs.serverName,
			UserId:  userId,
			Message: msg,
		})
		if err != nil {
			cs.log.Println("marshal push envelope:", err)
			return n
		}

		if err := cs.bridge.PublishUserPush(userId, data); err != nil {
			cs.log.Println("publish push:", err)
		}
	}

	return n
}

func (cs *ChatServer) pushLocal(userId int, msg *ServerMessage) int {
	var n int
	for _, c := range cs.presence.ConnectionsFor(userId) {
		if c == msg.SkipClient {
			continue
		}

		if c.queueMessage(msg) {
			n++
		}
	}

	return n
}

func (cs *ChatServer) handleBridgePush(userId int, data []byte) {
	var env pushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		cs.log.Println("unmarshal push envelope:", err)
		return
	}

	if env.Origin == cs.serverName || env.Message == nil {
		return
	}

	cs.pushLocal(userId, env.Message)
}

// PushToUser delivers an event to every connection the user holds, on this
// node and any bridged node.
func (cs *ChatServer) PushToUser(userId int, msg *ServerMessage) {
	cs.pushToUser(userId, msg)
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// SendMessage runs a message through the chat's delivery pipeline on behalf
// of an HTTP caller and returns the stored message.
func (cs *ChatServer) SendMessage(ctx context.Context, chatId string, userId int, send *SendMessage) (types.Message, error) {
	req := &sendReq{
		userId: userId,
		send:   send,
		resp:   make(chan sendResp, 1),
	}

	select {
	case cs.apiSendChan <- &apiSendReq{chatId: chatId, req: req}:
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.msg, resp.err
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

// NotifyChat fans an event out to the chat's members if the chat is known.
func (cs *ChatServer) NotifyChat(chatId string, msg *ServerMessage) {
	select {
	case cs.notifyChan <- &chatNotify{chatId: chatId, msg: msg}:
	default:
		cs.log.Printf("notify channel full, dropping event for chat %q", chatId)
	}
}

// AddMember adds an account to a chat through its session actor so the
// membership index and fanout set change atomically.
func (cs *ChatServer) AddMember(ctx context.Context, chatId string, accountId int, username, role string) error {
	return cs.updateMember(ctx, chatId, &memberUpdate{
		add:       true,
		accountId: accountId,
		username:  username,
		role:      role,
		err:       make(chan error, 1),
	})
}

// RemoveMember removes an account from a chat and detaches any of their
// joined connections.
func (cs *ChatServer) RemoveMember(ctx context.Context, chatId string, accountId int) error {
	return cs.updateMember(ctx, chatId, &memberUpdate{
		accountId: accountId,
		err:       make(chan error, 1),
	})
}

func (cs *ChatServer) updateMember(ctx context.Context, chatId string, upd *memberUpdate) error {
	select {
	case cs.memberChan <- &memberReq{chatId: chatId, upd: upd}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-upd.err:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnloadChat tears down a chat's session. Callers deleting the chat pass
// deleted so joined clients are detached before the row disappears.
func (cs *ChatServer) UnloadChat(ctx context.Context, chatId string, deleted bool) error {
	req := &unloadReq{
		chatId:  chatId,
		deleted: deleted,
		done:    make(chan bool, 1),
	}

	select {
	case cs.unloadReqChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) shutdown() {
	for chatId, s := range cs.sessions {
		done := make(chan bool, 1)
		s.exit <- exitReq{done: done}
		<-done
		delete(cs.sessions, chatId)
	}

	for c := range cs.clients {
		cs.presence.Disconnect(c)
		c.stopClient()
		delete(cs.clients, c)
	}
}

// Shutdown stops the run loop, unloading every session and closing every
// client connection.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
