package contacts

import (
	"testing"

	"github.com/pigeon-chat/pigeon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterpart(t *testing.T) {
	r := Relationship{Id: 1, RequesterId: 10, AddresseeId: 20}
	assert.Equal(t, 20, r.Counterpart(10), "expected the addressee for the requester")
	assert.Equal(t, 10, r.Counterpart(20), "expected the requester for the addressee")
}

func TestDecideRequest(t *testing.T) {
	tt := []struct {
		name        string
		existing    *Relationship
		actorId     int
		otherId     int
		expected    Decision
		expectedErr error
	}{
		{
			name:    "no existing relationship creates pending",
			actorId: 1,
			otherId: 2,
			expected: Decision{
				Op:        OpCreate,
				NewStatus: types.ContactPending,
				NotifyId:  2,
				Event:     EventRequestReceived,
			},
		},
		{
			name:        "self request",
			actorId:     1,
			otherId:     1,
			expectedErr: ErrSelf,
		},
		{
			name:        "already accepted",
			existing:    &Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactAccepted},
			actorId:     1,
			otherId:     2,
			expectedErr: ErrAlreadyExists,
		},
		{
			name:        "blocked pair",
			existing:    &Relationship{Id: 1, RequesterId: 2, AddresseeId: 1, Status: types.ContactBlocked},
			actorId:     1,
			otherId:     2,
			expectedErr: ErrBlocked,
		},
		{
			name:        "own request still pending",
			existing:    &Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactPending},
			actorId:     1,
			otherId:     2,
			expectedErr: ErrRequestPending,
		},
		{
			name:     "mutual request accepts and notifies the original initiator",
			existing: &Relationship{Id: 1, RequesterId: 2, AddresseeId: 1, Status: types.ContactPending},
			actorId:  1,
			otherId:  2,
			expected: Decision{
				Op:        OpUpdate,
				NewStatus: types.ContactAccepted,
				NotifyId:  2,
				Event:     EventRequestAccepted,
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := DecideRequest(tc.existing, tc.actorId, tc.otherId)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected decision error to match")
				return
			}

			require.NoError(t, err, "expected no decision error")
			assert.Equal(t, tc.expected, decision, "expected decision to match")
		})
	}
}

func TestDecideRespond(t *testing.T) {
	pending := Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactPending}

	tt := []struct {
		name        string
		existing    Relationship
		actorId     int
		status      string
		expected    Decision
		expectedErr error
	}{
		{
			name:     "addressee accepts",
			existing: pending,
			actorId:  2,
			status:   types.ContactAccepted,
			expected: Decision{
				Op:        OpUpdate,
				NewStatus: types.ContactAccepted,
				NotifyId:  1,
				Event:     EventRequestAccepted,
			},
		},
		{
			name:     "addressee blocks",
			existing: pending,
			actorId:  2,
			status:   types.ContactBlocked,
			expected: Decision{
				Op:        OpUpdate,
				NewStatus: types.ContactBlocked,
				NotifyId:  1,
				Event:     EventBlocked,
			},
		},
		{
			name:     "addressee rejects, row is deleted",
			existing: pending,
			actorId:  2,
			status:   "rejected",
			expected: Decision{
				Op:       OpDelete,
				NotifyId: 1,
				Event:    EventRequestRejected,
			},
		},
		{
			name:        "requester cannot respond to own request",
			existing:    pending,
			actorId:     1,
			status:      types.ContactAccepted,
			expectedErr: ErrNotAddressee,
		},
		{
			name:        "outsider cannot respond",
			existing:    pending,
			actorId:     9,
			status:      types.ContactAccepted,
			expectedErr: ErrNotParty,
		},
		{
			name:        "cannot respond to a non-pending relationship",
			existing:    Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactAccepted},
			actorId:     2,
			status:      types.ContactAccepted,
			expectedErr: ErrInvalidStatus,
		},
		{
			name:        "unknown status",
			existing:    pending,
			actorId:     2,
			status:      "maybe",
			expectedErr: ErrInvalidStatus,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := DecideRespond(tc.existing, tc.actorId, tc.status)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected decision error to match")
				return
			}

			require.NoError(t, err, "expected no decision error")
			assert.Equal(t, tc.expected, decision, "expected decision to match")
		})
	}
}

func TestDecideRemove(t *testing.T) {
	accepted := Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactAccepted}
	blocked := Relationship{Id: 1, RequesterId: 1, AddresseeId: 2, Status: types.ContactBlocked}

	tt := []struct {
		name        string
		existing    Relationship
		actorId     int
		block       bool
		expected    Decision
		expectedErr error
	}{
		{
			name:     "remove deletes the relationship",
			existing: accepted,
			actorId:  1,
			expected: Decision{
				Op:       OpDelete,
				NotifyId: 2,
				Event:    EventRemoved,
			},
		},
		{
			name:     "either party may remove",
			existing: accepted,
			actorId:  2,
			expected: Decision{
				Op:       OpDelete,
				NotifyId: 1,
				Event:    EventRemoved,
			},
		},
		{
			name:     "block updates in place",
			existing: accepted,
			actorId:  1,
			block:    true,
			expected: Decision{
				Op:        OpUpdate,
				NewStatus: types.ContactBlocked,
				NotifyId:  2,
				Event:     EventBlocked,
			},
		},
		{
			name:        "blocking an already blocked pair",
			existing:    blocked,
			actorId:     1,
			block:       true,
			expectedErr: ErrBlocked,
		},
		{
			name:     "removing a blocked row is the unblock path",
			existing: blocked,
			actorId:  1,
			expected: Decision{
				Op:       OpDelete,
				NotifyId: 2,
				Event:    EventRemoved,
			},
		},
		{
			name:        "outsider cannot remove",
			existing:    accepted,
			actorId:     9,
			expectedErr: ErrNotParty,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := DecideRemove(tc.existing, tc.actorId, tc.block)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected decision error to match")
				return
			}

			require.NoError(t, err, "expected no decision error")
			assert.Equal(t, tc.expected, decision, "expected decision to match")
		})
	}
}
