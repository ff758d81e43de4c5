package server

import (
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/types"
)

const idleSessionTimeout = time.Minute

var (
	ErrChatUnknown        = errors.New("chat not found")
	ErrNotChatMember      = errors.New("not a member of this chat")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrInvalidReply       = errors.New("invalid reply reference")
)

type exitReq struct {
	deleted bool
	done    chan bool
}

type sendReq struct {
	userId int
	send   *SendMessage
	resp   chan sendResp
}

type sendResp struct {
	msg types.Message
	err error
}

type memberUpdate struct {
	add       bool
	accountId int
	username  string
	role      string
	err       chan error
}

// ChatSession is the per-chat actor. It owns the chat's cached member list
// and serializes message fanout, typing broadcasts and membership changes,
// so in-chat delivery order matches creation order and a member added
// mid-fanout never sees a partial delivery.
type ChatSession struct {
	id            int
	externalId    string
	chatType      string
	name          string
	cs            *ChatServer
	members       []types.ChatMember
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	inbound       chan *ClientMessage
	sendChan      chan *sendReq
	broadcastChan chan *ServerMessage
	memberChan    chan *memberUpdate
	clients       map[*Client]struct{}
	userMap       map[int]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the session once it has been idle with no
	// attached clients
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func (s *ChatSession) start() {
	s.killTimer = time.NewTimer(idleSessionTimeout)

	for {
		select {
		case join := <-s.joinChan:
			s.handleJoin(join)
		case leaveMsg := <-s.leaveChan:
			s.handleLeave(leaveMsg)
		case msg := <-s.inbound:
			switch {
			case msg.Send != nil:
				s.handleClientSend(msg)
			case msg.TypingStart != nil:
				s.handleTyping(msg, msg.TypingStart.ChatId, true)
			case msg.TypingStop != nil:
				s.handleTyping(msg, msg.TypingStop.ChatId, false)
			}
			s.resetIdleTimer()
		case req := <-s.sendChan:
			msg, err := s.deliver(req.userId, req.send)
			req.resp <- sendResp{msg: msg, err: err}
			s.resetIdleTimer()
		case upd := <-s.memberChan:
			upd.err <- s.handleMemberUpdate(upd)
			s.resetIdleTimer()
		case msg := <-s.broadcastChan:
			s.fanoutToMembers(msg, 0)
			s.resetIdleTimer()
		case <-s.killTimer.C:
			s.cs.unloadChan <- s.externalId
		case e := <-s.exit:
			s.handleExit(e)
			return
		}
	}
}

func (s *ChatSession) resetIdleTimer() {
	s.clientLock.RLock()
	idle := len(s.clients) == 0
	s.clientLock.RUnlock()

	if idle {
		s.killTimer.Reset(idleSessionTimeout)
	}
}

func (s *ChatSession) hasClients() bool {
	s.clientLock.RLock()
	defer s.clientLock.RUnlock()

	return len(s.clients) > 0
}

func (s *ChatSession) isMember(userId int) bool {
	return slices.ContainsFunc(s.members, func(m types.ChatMember) bool {
		return m.UserId == userId
	})
}

func (s *ChatSession) memberName(userId int) string {
	for _, m := range s.members {
		if m.UserId == userId {
			return m.Username
		}
	}
	return ""
}

func (s *ChatSession) handleJoin(join *ClientMessage) {
	c := join.client
	if !s.isMember(c.user.Id) {
		c.queueMessage(ErrNotAMember(join.Id))
		s.resetIdleTimer()
		return
	}

	s.killTimer.Stop()
	s.addClient(c)

	members := make([]types.ChatMember, len(s.members))
	for i, m := range s.members {
		m.IsPresent = s.cs.presence.IsOnline(m.UserId)
		members[i] = m
	}

	c.queueMessage(NoErrOK(join.Id, types.Chat{
		Id:         s.id,
		ExternalId: s.externalId,
		Type:       s.chatType,
		Name:       s.name,
		Members:    members,
	}))
}

func (s *ChatSession) handleLeave(leaveMsg *ClientMessage) {
	s.removeClient(leaveMsg.client)

	if leaveMsg.GetUserId() != 0 && leaveMsg.Id != 0 {
		leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

func (s *ChatSession) handleClientSend(msg *ClientMessage) {
	m, err := s.deliver(msg.GetUserId(), msg.Send)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotChatMember):
			msg.client.queueMessage(ErrNotAMember(msg.Id))
		case errors.Is(err, ErrInvalidMessageType), errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidReply):
			msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		default:
			s.log.Println("deliver:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, m))
}

// deliver persists a new message and fans it out to every other member's
// live connections, recording one delivery event per member that was
// reachable. Offline members get nothing; they catch up from history.
func (s *ChatSession) deliver(senderId int, send *SendMessage) (types.Message, error) {
	if !s.isMember(senderId) {
		return types.Message{}, ErrNotChatMember
	}

	msgType := send.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}
	if !types.ValidMessageType(msgType) {
		return types.Message{}, ErrInvalidMessageType
	}
	if send.Content == "" && send.FileUrl == "" {
		return types.Message{}, ErrEmptyMessage
	}

	if send.ReplyToId != "" {
		replyTo, err := s.cs.db.GetMessageById(send.ReplyToId)
		if err != nil || replyTo.ChatId != s.id {
			return types.Message{}, ErrInvalidReply
		}
	}

	dbMsg, err := s.cs.db.CreateMessage(database.CreateMessageParams{
		Id:        uuid.NewString(),
		ChatId:    s.id,
		SenderId:  senderId,
		Content:   send.Content,
		Type:      msgType,
		FileUrl:   send.FileUrl,
		ReplyToId: send.ReplyToId,
		CreatedAt: Now(),
	})
	if err != nil {
		return types.Message{}, err
	}

	m := messageFromDB(dbMsg)
	s.cs.stats.Incr("MessagesSent")

	event := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: m.CreatedAt},
		NewMessage:  &m,
	}

	for _, member := range s.members {
		if member.UserId == senderId {
			continue
		}

		if s.cs.pushToUser(member.UserId, event) == 0 {
			continue
		}

		if err := s.cs.db.RecordDelivery(m.Id, member.UserId, Now()); err != nil {
			s.log.Println("record delivery:", err)
			continue
		}

		s.cs.stats.Incr("DeliveriesRecorded")
		s.cs.pushToUser(senderId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			MessageDelivered: &MessageDelivered{
				MessageId: m.Id,
				ChatId:    s.externalId,
				UserId:    member.UserId,
			},
		})
	}

	return m, nil
}

// handleTyping fans a typing signal out to the other members' connections.
// Non-members are ignored and members with a blocked relationship to the
// sender never see the signal, even though they share the chat.
func (s *ChatSession) handleTyping(msg *ClientMessage, chatId string, start bool) {
	senderId := msg.GetUserId()
	if !s.isMember(senderId) {
		return
	}

	blockedIds, err := s.cs.db.BlockedAccountIds(senderId)
	if err != nil {
		s.log.Println("blocked account ids:", err)
		return
	}

	typing := &UserTyping{
		ChatId:   chatId,
		UserId:   senderId,
		Username: s.memberName(senderId),
	}

	event := &ServerMessage{BaseMessage: BaseMessage{Timestamp: Now()}}
	if start {
		event.UserTyping = typing
	} else {
		event.UserStoppedTyping = typing
	}

	s.cs.stats.Incr("TypingEvents")

	for _, member := range s.members {
		if member.UserId == senderId || slices.Contains(blockedIds, member.UserId) {
			continue
		}

		s.cs.pushToUser(member.UserId, event)
	}
}

func (s *ChatSession) handleMemberUpdate(upd *memberUpdate) error {
	if upd.add {
		if s.isMember(upd.accountId) {
			return nil
		}

		m, err := s.cs.db.AddChatMember(s.id, upd.accountId, upd.role)
		if err != nil {
			return err
		}

		s.members = append(s.members, types.ChatMember{
			UserId:   m.AccountId,
			Username: upd.username,
			Role:     m.Role,
			JoinedAt: m.CreatedAt,
		})
		return nil
	}

	if err := s.cs.db.RemoveChatMember(s.id, upd.accountId); err != nil {
		return err
	}

	s.members = slices.DeleteFunc(s.members, func(m types.ChatMember) bool {
		return m.UserId == upd.accountId
	})
	s.removeAllClientsForUser(upd.accountId)

	return nil
}

// fanoutToMembers pushes an event to every member's connections, excluding
// skipUserId when non-zero. Used for edit and delete events, which carry no
// delivery bookkeeping.
func (s *ChatSession) fanoutToMembers(msg *ServerMessage, skipUserId int) {
	for _, member := range s.members {
		if member.UserId == skipUserId {
			continue
		}

		s.cs.pushToUser(member.UserId, msg)
	}
}

func (s *ChatSession) handleExit(e exitReq) {
	s.clientLock.Lock()
	for c := range s.clients {
		c.delSession(s.externalId)
	}
	s.clients = make(map[*Client]struct{})
	s.userMap = make(map[int]map[*Client]struct{})
	s.clientLock.Unlock()

	if e.done != nil {
		e.done <- true
	}
	close(s.done)
}

func (s *ChatSession) addClient(c *Client) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()

	s.clients[c] = struct{}{}
	if s.userMap[c.user.Id] == nil {
		s.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	s.userMap[c.user.Id][c] = struct{}{}

	c.addSession(s)
}

func (s *ChatSession) removeClient(c *Client) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}

	delete(s.clients, c)
	c.delSession(s.externalId)

	if userClients, ok := s.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(s.userMap, c.user.Id)
		}
	}

	if len(s.clients) == 0 {
		s.killTimer.Reset(idleSessionTimeout)
	}
}

func (s *ChatSession) removeAllClientsForUser(userId int) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()

	if userClients, ok := s.userMap[userId]; ok {
		for client := range userClients {
			delete(s.clients, client)
			client.delSession(s.externalId)
		}
		delete(s.userMap, userId)
	}

	if len(s.clients) == 0 {
		s.killTimer.Reset(idleSessionTimeout)
	}
}

func messageFromDB(m database.Message) types.Message {
	msg := types.Message{
		Id:        m.Id,
		ChatId:    m.ChatExternalId,
		SenderId:  m.SenderId,
		Content:   m.Content,
		Type:      m.Type,
		FileUrl:   m.FileUrl,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ReplyToId.Valid {
		msg.ReplyToId = m.ReplyToId.String
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		msg.DeletedAt = &t
	}
	return msg
}

func membersFromDB(dbMembers []database.ChatMember) []types.ChatMember {
	members := make([]types.ChatMember, len(dbMembers))
	for i, m := range dbMembers {
		member := types.ChatMember{
			UserId:   m.AccountId,
			Username: m.Username,
			Role:     m.Role,
			JoinedAt: m.CreatedAt,
		}
		if m.LastReadAt.Valid {
			t := m.LastReadAt.Time
			member.LastReadAt = &t
		}
		members[i] = member
	}
	return members
}
