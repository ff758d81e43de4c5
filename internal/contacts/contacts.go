// Package contacts implements the contact relationship state machine:
// none -> pending -> {accepted, none, blocked}, accepted -> blocked, with
// blocked terminal until an explicit unblock (delete). Decisions are pure;
// persistence and notification are the caller's job.
package contacts

import (
	"errors"

	"github.com/pigeon-chat/pigeon/internal/types"
)

var (
	ErrSelf           = errors.New("cannot add yourself as a contact")
	ErrAlreadyExists  = errors.New("contact already exists")
	ErrBlocked        = errors.New("contact is blocked")
	ErrRequestPending = errors.New("request already sent")
	ErrNotAddressee   = errors.New("only the recipient may respond to a request")
	ErrNotParty       = errors.New("not a party to this contact")
	ErrInvalidStatus  = errors.New("invalid contact status")
)

// Op tells the caller how to persist the decision.
type Op int

const (
	OpNone Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

const (
	EventRequestReceived = "contact_request_received"
	EventRequestAccepted = "contact_request_accepted"
	EventRequestRejected = "contact_request_rejected"
	EventBlocked         = "contact_blocked"
	EventRemoved         = "contact_removed"
)

// Relationship is the persisted state of one unordered pair. RequesterId is
// the directional initiator.
type Relationship struct {
	Id          int
	RequesterId int
	AddresseeId int
	Status      string
}

// Counterpart returns the other account of the pair.
func (r Relationship) Counterpart(accountId int) int {
	if r.RequesterId == accountId {
		return r.AddresseeId
	}
	return r.RequesterId
}

// Decision describes the row mutation and the realtime notification a
// transition produces. NotifyId is zero when no one is notified.
type Decision struct {
	Op        Op
	NewStatus string
	NotifyId  int
	Event     string
}

// DecideRequest handles actorId requesting contact with otherId given the
// existing relationship (nil when none). A pending request initiated by the
// other party collapses to accepted, with the notification addressed to the
// original initiator.
func DecideRequest(existing *Relationship, actorId, otherId int) (Decision, error) {
	if actorId == otherId {
		return Decision{}, ErrSelf
	}

	if existing == nil {
		return Decision{
			Op:        OpCreate,
			NewStatus: types.ContactPending,
			NotifyId:  otherId,
			Event:     EventRequestReceived,
		}, nil
	}

	switch existing.Status {
	case types.ContactAccepted:
		return Decision{}, ErrAlreadyExists
	case types.ContactBlocked:
		return Decision{}, ErrBlocked
	case types.ContactPending:
		if existing.RequesterId == actorId {
			return Decision{}, ErrRequestPending
		}
		return Decision{
			Op:        OpUpdate,
			NewStatus: types.ContactAccepted,
			NotifyId:  existing.RequesterId,
			Event:     EventRequestAccepted,
		}, nil
	default:
		return Decision{}, ErrInvalidStatus
	}
}

// DecideRespond handles the addressee accepting, rejecting or blocking a
// pending request. The initiator cannot act on their own request.
func DecideRespond(existing Relationship, actorId int, status string) (Decision, error) {
	if existing.RequesterId != actorId && existing.AddresseeId != actorId {
		return Decision{}, ErrNotParty
	}
	if existing.Status != types.ContactPending {
		return Decision{}, ErrInvalidStatus
	}
	if existing.AddresseeId != actorId {
		return Decision{}, ErrNotAddressee
	}

	switch status {
	case types.ContactAccepted:
		return Decision{
			Op:        OpUpdate,
			NewStatus: types.ContactAccepted,
			NotifyId:  existing.RequesterId,
			Event:     EventRequestAccepted,
		}, nil
	case types.ContactBlocked:
		return Decision{
			Op:        OpUpdate,
			NewStatus: types.ContactBlocked,
			NotifyId:  existing.RequesterId,
			Event:     EventBlocked,
		}, nil
	case "rejected":
		// rejection returns the pair to none
		return Decision{
			Op:       OpDelete,
			NotifyId: existing.RequesterId,
			Event:    EventRequestRejected,
		}, nil
	default:
		return Decision{}, ErrInvalidStatus
	}
}

// DecideRemove handles deleting a relationship, or blocking in place when
// block is set. Either party may remove or block; removing a blocked row is
// the unblock path back to none.
func DecideRemove(existing Relationship, actorId int, block bool) (Decision, error) {
	if existing.RequesterId != actorId && existing.AddresseeId != actorId {
		return Decision{}, ErrNotParty
	}

	other := existing.Counterpart(actorId)
	if block {
		if existing.Status == types.ContactBlocked {
			return Decision{}, ErrBlocked
		}
		return Decision{
			Op:        OpUpdate,
			NewStatus: types.ContactBlocked,
			NotifyId:  other,
			Event:     EventBlocked,
		}, nil
	}

	return Decision{
		Op:       OpDelete,
		NotifyId: other,
		Event:    EventRemoved,
	}, nil
}
