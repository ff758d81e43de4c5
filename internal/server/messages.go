package server

import (
	"net/http"
	"time"

	"github.com/pigeon-chat/pigeon/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the client-to-server envelope. Exactly one of the event
// fields is set.
type ClientMessage struct {
	BaseMessage
	Send        *SendMessage  `json:"send_message,omitempty"`
	Join        *JoinChat     `json:"join_chat,omitempty"`
	Leave       *LeaveChat    `json:"leave_chat,omitempty"`
	TypingStart *TypingSignal `json:"typing_start,omitempty"`
	TypingStop  *TypingSignal `json:"typing_stop,omitempty"`
	MarkRead    *MarkRead     `json:"mark_read,omitempty"`
	UserId      int           `json:"-"`
	client      *Client
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}
	if cm.client != nil {
		return cm.client.user.Id
	}
	return 0
}

type SendMessage struct {
	ChatId    string `json:"chat_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	FileUrl   string `json:"file_url,omitempty"`
	ReplyToId string `json:"reply_to_id,omitempty"`
}

type JoinChat struct {
	ChatId string `json:"chat_id"`
}

type LeaveChat struct {
	ChatId string `json:"chat_id"`
}

type TypingSignal struct {
	ChatId string `json:"chat_id"`
}

type MarkRead struct {
	MessageId string `json:"message_id"`
}

// ServerMessage is the server-to-client envelope. Exactly one of the event
// fields is set.
type ServerMessage struct {
	BaseMessage
	Response          *Response         `json:"response,omitempty"`
	NewMessage        *types.Message    `json:"new_message,omitempty"`
	MessageDelivered  *MessageDelivered `json:"message_delivered,omitempty"`
	MessageRead       *MessageRead      `json:"message_read,omitempty"`
	MessageUpdated    *MessageUpdated   `json:"message_updated,omitempty"`
	MessageDeleted    *MessageDeleted   `json:"message_deleted,omitempty"`
	UserTyping        *UserTyping       `json:"user_typing,omitempty"`
	UserStoppedTyping *UserTyping       `json:"user_stopped_typing,omitempty"`
	UserOnline        *UserPresence     `json:"user_online,omitempty"`
	UserOffline       *UserPresence     `json:"user_offline,omitempty"`
	ContactEvent      *ContactEvent     `json:"contact_event,omitempty"`
	SkipClient        *Client           `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MessageDelivered struct {
	MessageId string `json:"message_id"`
	ChatId    string `json:"chat_id"`
	UserId    int    `json:"user_id"`
}

type MessageRead struct {
	MessageId string `json:"message_id"`
	UserId    int    `json:"user_id"`
}

type MessageUpdated struct {
	Id        string    `json:"id"`
	ChatId    string    `json:"chat_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
	ChatId    string `json:"chat_id"`
}

type UserTyping struct {
	ChatId   string `json:"chat_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type UserPresence struct {
	UserId   int        `json:"user_id"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ContactEvent struct {
	Kind      string `json:"kind"`
	ContactId int    `json:"contact_id"`
	UserId    int    `json:"user_id"`
	Username  string `json:"username,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrChatNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrNotAMember(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a member of this chat",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
