package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pigeon-chat/pigeon/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live websocket connection, established under an
// authenticated user. A user may hold any number of concurrent clients.
type Client struct {
	conn         *websocket.Conn
	chatServer   *ChatServer
	log          *log.Logger
	user         types.User
	send         chan *ServerMessage
	sessions     map[string]*ChatSession
	sessionsLock sync.RWMutex
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		sessions:   make(map[string]*ChatSession),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		switch {
		case msg.Join != nil:
			c.joinChat(&msg)
		case msg.Leave != nil:
			c.leaveChat(&msg)
		case msg.Send != nil:
			c.routeToChat(msg.Send.ChatId, &msg)
		case msg.TypingStart != nil:
			c.routeToChat(msg.TypingStart.ChatId, &msg)
		case msg.TypingStop != nil:
			c.routeToChat(msg.TypingStop.ChatId, &msg)
		case msg.MarkRead != nil:
			c.chatServer.MarkRead(c.user.Id, msg.MarkRead.MessageId)
			c.queueMessage(NoErrOK(msg.Id, nil))
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.leaveAllSessions()
	c.stopClient()
}

func (c *Client) leaveAllSessions() {
	c.sessionsLock.RLock()
	defer c.sessionsLock.RUnlock()

	for _, session := range c.sessions {
		msg := &ClientMessage{
			Leave:  &LeaveChat{ChatId: session.externalId},
			UserId: c.user.Id,
			client: c,
		}
		select {
		case session.leaveChan <- msg:
		default:
			c.log.Printf("leaveChan full for chat %q", session.externalId)
		}
	}
}

// routeToChat forwards a send or typing event to the chat's session actor.
// Joined sessions are reached directly; otherwise the server loads the
// session on demand.
func (c *Client) routeToChat(chatId string, msg *ClientMessage) {
	if s := c.getSession(chatId); s != nil {
		select {
		case s.inbound <- msg:
		default:
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			c.log.Printf("inbound channel full for chat %q", s.externalId)
		}
		return
	}

	select {
	case c.chatServer.routeChan <- msg:
	default:
		c.log.Printf("routeChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) joinChat(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveChat(msg *ClientMessage) {
	s := c.getSession(msg.Leave.ChatId)
	if s == nil {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	select {
	case s.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for chat %q", s.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) delSession(id string) {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	delete(c.sessions, id)
}

func (c *Client) addSession(s *ChatSession) {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	c.sessions[s.externalId] = s
}

func (c *Client) getSession(id string) *ChatSession {
	c.sessionsLock.RLock()
	defer c.sessionsLock.RUnlock()

	if s, ok := c.sessions[id]; ok {
		return s
	}

	return nil
}
