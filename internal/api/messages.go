package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pigeon-chat/pigeon/internal/server"
	"github.com/pigeon-chat/pigeon/internal/types"
)

type SendMessageRequest struct {
	ChatId    string `json:"chat_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	FileUrl   string `json:"file_url,omitempty"`
	ReplyToId string `json:"reply_to_id,omitempty"`
}

type UpdateMessageRequest struct {
	Id      string `json:"id"`
	Content string `json:"content"`
}

// getMessages pages a chat's history newest first. The cursor is the id of
// the last message the client has; results are strictly older, with the
// message id breaking creation-time ties. Deleted messages are excluded.
func (s *PigeonApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("chat_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChatByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.MemberExists(chat.Id, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var cursorAt time.Time
	var cursorId string

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		cursorMsg, err := s.db.GetMessageById(cursor)
		if err != nil || cursorMsg.ChatId != chat.Id {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		cursorAt, cursorId = cursorMsg.CreatedAt, cursorMsg.Id
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = min(n, 100)
	}

	dbMessages, err := s.db.GetMessages(chat.Id, cursorAt, cursorId, limit)
	if err != nil {
		s.log.Println("get messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, messageFromDB(m))
	}

	s.writeJson(w, http.StatusOK, messages)
}

// searchMessages matches message content across the caller's chats, newest
// first. An optional chat_id narrows the search to one chat the caller is a
// member of.
func (s *PigeonApp) searchMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	term := r.URL.Query().Get("q")
	if term == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var chatId int
	if externalId := r.URL.Query().Get("chat_id"); externalId != "" {
		chat, err := s.db.GetChatByExternalId(externalId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if !s.db.MemberExists(chat.Id, userId) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		chatId = chat.Id
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = min(n, 100)
	}

	dbMessages, err := s.db.SearchMessages(userId, chatId, term, limit)
	if err != nil {
		s.log.Println("search messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, messageFromDB(m))
	}

	s.writeJson(w, http.StatusOK, messages)
}

// postMessage sends a message over REST through the same pipeline as the
// websocket path, so ordering and delivery bookkeeping are identical.
func (s *PigeonApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.cs.SendMessage(r.Context(), req.ChatId, userId, &server.SendMessage{
		ChatId:    req.ChatId,
		Content:   req.Content,
		Type:      req.Type,
		FileUrl:   req.FileUrl,
		ReplyToId: req.ReplyToId,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, server.ErrChatUnknown):
			errResp = NewNotFoundError()
		case errors.Is(err, server.ErrNotChatMember):
			errResp = NewForbiddenError()
		case errors.Is(err, server.ErrInvalidMessageType),
			errors.Is(err, server.ErrEmptyMessage),
			errors.Is(err, server.ErrInvalidReply):
			errResp = NewBadRequestError()
		default:
			s.log.Println("send message:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

// updateMessage edits a message's content. Only the sender may edit, and the
// change fans out to the chat as message_updated.
func (s *PigeonApp) updateMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Id == "" || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessageById(req.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.SenderId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.DeletedAt.Valid {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.UpdateMessageContent(msg.Id, req.Content, server.Now())
	if err != nil {
		s.log.Println("update message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.NotifyChat(updated.ChatExternalId, &server.ServerMessage{
		BaseMessage: server.BaseMessage{Timestamp: server.Now()},
		MessageUpdated: &server.MessageUpdated{
			Id:        updated.Id,
			ChatId:    updated.ChatExternalId,
			Content:   updated.Content,
			UpdatedAt: updated.UpdatedAt,
		},
	})

	s.writeJson(w, http.StatusOK, messageFromDB(updated))
}

// deleteMessage soft-deletes a message. The row stays for history integrity;
// readers just stop seeing it, and the chat is told via message_deleted.
func (s *PigeonApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessageById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.SenderId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.SoftDeleteMessage(msg.Id, server.Now()); err != nil {
		s.log.Println("delete message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.NotifyChat(msg.ChatExternalId, &server.ServerMessage{
		BaseMessage: server.BaseMessage{Timestamp: server.Now()},
		MessageDeleted: &server.MessageDeleted{
			MessageId: msg.Id,
			ChatId:    msg.ChatExternalId,
		},
	})

	s.writeJson(w, http.StatusNoContent, nil)
}

// markMessageRead records a read receipt over REST; the websocket mark_read
// event lands on the same tracker.
func (s *PigeonApp) markMessageRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.MarkRead(userId, id)
	s.writeJson(w, http.StatusNoContent, nil)
}
