package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/server"
	"github.com/pigeon-chat/pigeon/internal/types"
)

type CreateChatRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	MemberIds []int  `json:"member_ids"`
}

type UpdateChatRequest struct {
	ChatId string `json:"chat_id"`
	Name   string `json:"name"`
}

type ChatMemberRequest struct {
	ChatId string `json:"chat_id"`
	UserId int    `json:"user_id"`
}

func chatFromDB(c database.Chat) types.Chat {
	chat := types.Chat{
		Id:         c.Id,
		ExternalId: c.ExternalId,
		Type:       c.Type,
		Name:       c.Name,
		OwnerId:    c.OwnerId,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}

	for _, m := range c.Members {
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
		chat.Members = append(chat.Members, member)
	}

	return chat
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

// getChats lists the user's chats ordered by recent activity, each carrying
// its unread count and last visible message.
func (s *PigeonApp) getChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChats, err := s.db.ListChatsForAccount(userId)
	if err != nil {
		s.log.Println("list chats:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats := make([]types.Chat, 0, len(dbChats))
	for _, dbChat := range dbChats {
		chat := chatFromDB(dbChat)

		unread, err := s.db.UnreadCount(dbChat.Id, userId)
		if err != nil {
			s.log.Println("unread count:", err)
		}
		chat.UnreadCount = unread

		last, err := s.db.LastMessage(dbChat.Id)
		if err != nil {
			s.log.Println("last message:", err)
		} else if last != nil {
			m := messageFromDB(*last)
			chat.LastMessage = &m
		}

		chats = append(chats, chat)
	}

	s.writeJson(w, http.StatusOK, chats)
}

func (s *PigeonApp) getChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
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

	withMembers, err := s.db.GetChatWithMembers(chat.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, chatFromDB(*withMembers))
}

// createChat creates a group chat, or a direct chat between the caller and
// one accepted contact. Creating a direct chat that already exists returns
// the existing chat instead of a duplicate.
func (s *PigeonApp) createChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch req.Type {
	case types.ChatTypeDirect:
		if len(req.MemberIds) != 1 || req.MemberIds[0] == userId {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		otherId := req.MemberIds[0]

		contact, err := s.db.GetContactByPair(userId, otherId)
		if err != nil || contact.Status != types.ContactAccepted {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		existing, err := s.db.FindDirectChat(userId, otherId)
		if err == nil {
			s.writeJson(w, http.StatusOK, chatFromDB(existing))
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	case types.ChatTypeGroup:
		if req.Name == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateChatParams{
		Type:       req.Type,
		Name:       req.Name,
		OwnerId:    userId,
		ExternalId: sid,
		MemberIds:  req.MemberIds,
	}

	newChat, err := s.db.CreateChat(params)
	if err != nil {
		s.log.Println("create chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, chatFromDB(newChat))
}

// updateChat renames a group chat. Only the owner may rename.
func (s *PigeonApp) updateChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatId == "" || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChatByExternalId(req.ChatId)
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

	if chat.Type != types.ChatTypeGroup {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if chat.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.UpdateChatName(chat.Id, req.Name, server.Now())
	if err != nil {
		s.log.Println("update chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, chatFromDB(updated))
}

func (s *PigeonApp) deleteChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
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

	if chat.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteChat(chat.Id); err != nil {
		s.log.Println("delete chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.UnloadChat(r.Context(), chat.ExternalId, true); err != nil {
		s.log.Println("unload chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// chatMembers routes membership changes through the chat server so the live
// fanout set changes together with the database row.
func (s *PigeonApp) chatMembers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var chatId string
	var targetId int

	switch r.Method {
	case http.MethodPost:
		var req ChatMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		chatId, targetId = req.ChatId, req.UserId
	case http.MethodDelete:
		chatId = r.URL.Query().Get("chat_id")
		id, err := strconv.Atoi(r.URL.Query().Get("user_id"))
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		targetId = id
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if chatId == "" || targetId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChatByExternalId(chatId)
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

	if chat.Type != types.ChatTypeGroup {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// members may leave on their own; any other change is the owner's call
	if chat.OwnerId != userId && !(r.Method == http.MethodDelete && targetId == userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if r.Method == http.MethodPost {
		target, err := s.db.GetAccountById(targetId)
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

		if err := s.cs.AddMember(r.Context(), chat.ExternalId, target.Id, target.Username, types.RoleMember); err != nil {
			s.log.Println("add chat member:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusCreated, nil)
		return
	}

	if err := s.cs.RemoveMember(r.Context(), chat.ExternalId, targetId); err != nil {
		s.log.Println("remove chat member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
