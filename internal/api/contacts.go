package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pigeon-chat/pigeon/internal/contacts"
	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/server"
	"github.com/pigeon-chat/pigeon/internal/types"
)

type ContactRequest struct {
	UserId int `json:"user_id"`
}

type RespondContactRequest struct {
	ContactId int    `json:"contact_id"`
	Status    string `json:"status"`
}

func contactFromDB(c database.Contact) types.Contact {
	return types.Contact{
		Id:          c.Id,
		RequesterId: c.RequesterId,
		AddresseeId: c.AddresseeId,
		Status:      c.Status,
		User:        userFromAccount(c.Counterpart),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func relationshipFromDB(c database.Contact) contacts.Relationship {
	return contacts.Relationship{
		Id:          c.Id,
		RequesterId: c.RequesterId,
		AddresseeId: c.AddresseeId,
		Status:      c.Status,
	}
}

func (s *PigeonApp) listContacts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbContacts, err := s.db.ListContacts(userId)
	if err != nil {
		s.log.Println("list contacts:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	contactList := make([]types.Contact, 0, len(dbContacts))
	for _, c := range dbContacts {
		contactList = append(contactList, contactFromDB(c))
	}

	s.writeJson(w, http.StatusOK, contactList)
}

func (s *PigeonApp) listPendingContacts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbContacts, err := s.db.ListPendingContacts(userId)
	if err != nil {
		s.log.Println("list pending contacts:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	contactList := make([]types.Contact, 0, len(dbContacts))
	for _, c := range dbContacts {
		contactList = append(contactList, contactFromDB(c))
	}

	s.writeJson(w, http.StatusOK, contactList)
}

// requestContact handles adding a contact. Requesting someone who already
// requested you accepts the pending request instead of erroring, and the
// original initiator is the one notified of the acceptance.
func (s *PigeonApp) requestContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountById(req.UserId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var rel *contacts.Relationship
	existing, err := s.db.GetContactByPair(userId, req.UserId)
	if err == nil {
		r := relationshipFromDB(existing)
		rel = &r
	} else if !errors.Is(err, sql.ErrNoRows) {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	decision, err := contacts.DecideRequest(rel, userId, req.UserId)
	if err != nil {
		errResp := contactDecisionError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var dbContact database.Contact
	statusCode := http.StatusOK

	switch decision.Op {
	case contacts.OpCreate:
		dbContact, err = s.db.CreateContact(userId, req.UserId)
		statusCode = http.StatusCreated
	case contacts.OpUpdate:
		dbContact, err = s.db.UpdateContactStatus(existing.Id, decision.NewStatus)
	}
	if err != nil {
		s.log.Println("apply contact request:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.notifyContact(decision, dbContact.Id, userId)

	contact := contactFromDB(dbContact)
	if other, err := s.db.GetAccountById(req.UserId); err == nil {
		contact.User = userFromAccount(other)
	}

	s.writeJson(w, statusCode, contact)
}

// respondContact handles the recipient of a pending request accepting,
// rejecting or blocking it. Rejection deletes the row so the pair can start
// over later.
func (s *PigeonApp) respondContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req RespondContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	existing, err := s.db.GetContactById(req.ContactId)
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

	decision, err := contacts.DecideRespond(relationshipFromDB(existing), userId, req.Status)
	if err != nil {
		errResp := contactDecisionError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if decision.Op == contacts.OpDelete {
		if err := s.db.DeleteContact(existing.Id); err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.notifyContact(decision, existing.Id, userId)
		s.writeJson(w, http.StatusNoContent, nil)
		return
	}

	dbContact, err := s.db.UpdateContactStatus(existing.Id, decision.NewStatus)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.notifyContact(decision, dbContact.Id, userId)

	contact := contactFromDB(dbContact)
	if other, err := s.db.GetAccountById(decision.NotifyId); err == nil {
		contact.User = userFromAccount(other)
	}

	s.writeJson(w, http.StatusOK, contact)
}

// removeContact deletes a relationship, or blocks the other party in place
// when block=true. Deleting a blocked row is the unblock path.
func (s *PigeonApp) removeContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	contactId, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	block := r.URL.Query().Get("block") == "true"

	existing, err := s.db.GetContactById(contactId)
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

	decision, err := contacts.DecideRemove(relationshipFromDB(existing), userId, block)
	if err != nil {
		errResp := contactDecisionError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if decision.Op == contacts.OpDelete {
		if err := s.db.DeleteContact(existing.Id); err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	} else {
		if _, err := s.db.UpdateContactStatus(existing.Id, decision.NewStatus); err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.notifyContact(decision, existing.Id, userId)
	s.writeJson(w, http.StatusNoContent, nil)
}

func contactDecisionError(err error) *ApiError {
	switch {
	case errors.Is(err, contacts.ErrSelf), errors.Is(err, contacts.ErrInvalidStatus):
		return NewBadRequestError()
	case errors.Is(err, contacts.ErrBlocked), errors.Is(err, contacts.ErrNotAddressee),
		errors.Is(err, contacts.ErrNotParty):
		return NewForbiddenError()
	case errors.Is(err, contacts.ErrAlreadyExists), errors.Is(err, contacts.ErrRequestPending):
		return NewConflictError(err.Error())
	default:
		return NewInternalServerError(err)
	}
}

// notifyContact pushes the realtime contact event the decision produced to
// the counterparty's connections.
func (s *PigeonApp) notifyContact(decision contacts.Decision, contactId, actorId int) {
	if decision.NotifyId == 0 {
		return
	}

	var username string
	if actor, err := s.db.GetAccountById(actorId); err == nil {
		username = actor.Username
	}

	s.cs.PushToUser(decision.NotifyId, &server.ServerMessage{
		BaseMessage: server.BaseMessage{Timestamp: server.Now()},
		ContactEvent: &server.ContactEvent{
			Kind:      decision.Event,
			ContactId: contactId,
			UserId:    actorId,
			Username:  username,
		},
	})
}
