package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDonationRequestApply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)

	tests := []struct {
		name         string
		from         DonationRequestStatus
		action       DonationRequestAction
		wantStatus   DonationRequestStatus
		wantUnlocked bool
		wantCode     string
	}{
		{"accept pending", DonationRequestStatusPending, ActionAccept, DonationRequestStatusAccepted, true, ""},
		{"cancel pending", DonationRequestStatusPending, ActionCancel, DonationRequestStatusCancelled, false, ""},
		{"complete pending", DonationRequestStatusPending, ActionComplete, DonationRequestStatusPending, false, CodeIllegalTransition},
		{"complete accepted", DonationRequestStatusAccepted, ActionComplete, DonationRequestStatusCompleted, true, ""},
		{"cancel accepted", DonationRequestStatusAccepted, ActionCancel, DonationRequestStatusCancelled, true, ""},
		{"accept accepted", DonationRequestStatusAccepted, ActionAccept, DonationRequestStatusAccepted, true, CodeIllegalTransition},
		{"accept completed", DonationRequestStatusCompleted, ActionAccept, DonationRequestStatusCompleted, true, CodeIllegalTransition},
		{"complete completed", DonationRequestStatusCompleted, ActionComplete, DonationRequestStatusCompleted, true, CodeIllegalTransition},
		{"cancel completed", DonationRequestStatusCompleted, ActionCancel, DonationRequestStatusCompleted, true, CodeIllegalTransition},
		{"accept cancelled", DonationRequestStatusCancelled, ActionAccept, DonationRequestStatusCancelled, false, CodeIllegalTransition},
		{"complete cancelled", DonationRequestStatusCancelled, ActionComplete, DonationRequestStatusCancelled, false, CodeIllegalTransition},
		{"cancel cancelled", DonationRequestStatusCancelled, ActionCancel, DonationRequestStatusCancelled, false, CodeIllegalTransition},
		{"unknown action", DonationRequestStatusPending, DonationRequestAction("approve"), DonationRequestStatusPending, false, CodeInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unlocked := tt.from == DonationRequestStatusCompleted || tt.from == DonationRequestStatusAccepted
			req := &DonationRequest{
				ID:              "r1",
				RequesterID:     "u1",
				DonorID:         "u2",
				Status:          tt.from,
				ContactUnlocked: unlocked,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			before := *req

			err := req.Apply(tt.action, later)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, HasCode(err, tt.wantCode), "got %v", err)
				assert.Equal(t, before, *req, "failed transition must not mutate the record")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, req.Status)
			assert.Equal(t, tt.wantUnlocked, req.ContactUnlocked)
			assert.Equal(t, later, req.UpdatedAt)
			assert.Equal(t, now, req.CreatedAt)
			assert.Equal(t, "u1", req.RequesterID)
			assert.Equal(t, "u2", req.DonorID)
		})
	}
}

func TestDonationRequestFullLifecycle(t *testing.T) {
	now := time.Now().UTC()
	req := NewDonationRequest("u1", "u2", now)
	assert.Equal(t, DonationRequestStatusPending, req.Status)
	assert.False(t, req.ContactUnlocked)

	require.NoError(t, req.Apply(ActionAccept, now))
	assert.True(t, req.ContactUnlocked)

	err := req.Apply(ActionAccept, now)
	assert.True(t, HasCode(err, CodeIllegalTransition))

	require.NoError(t, req.Apply(ActionComplete, now))
	assert.Equal(t, DonationRequestStatusCompleted, req.Status)
	assert.True(t, req.ContactUnlocked, "contact stays unlocked after completion")
	assert.True(t, req.Status.IsTerminal())
}

func TestParseDonationRequestAction(t *testing.T) {
	for _, raw := range []string{"accept", "complete", "cancel", " cancel "} {
		_, err := ParseDonationRequestAction(raw)
		assert.NoError(t, err, raw)
	}

	for _, raw := range []string{"", "Accept", "reject", "delete"} {
		_, err := ParseDonationRequestAction(raw)
		assert.True(t, HasCode(err, CodeInvalidAction), raw)
	}
}

func TestDonationRequestStatusPredicates(t *testing.T) {
	assert.True(t, DonationRequestStatusPending.IsActive())
	assert.True(t, DonationRequestStatusAccepted.IsActive())
	assert.False(t, DonationRequestStatusCompleted.IsActive())
	assert.False(t, DonationRequestStatusCancelled.IsActive())
	assert.ElementsMatch(t,
		[]DonationRequestStatus{DonationRequestStatusPending, DonationRequestStatusAccepted},
		ActiveDonationRequestStatuses())
}

func TestDonationRequestHasParticipant(t *testing.T) {
	req := &DonationRequest{RequesterID: "u1", DonorID: "u2"}
	assert.True(t, req.HasParticipant("u1"))
	assert.True(t, req.HasParticipant("u2"))
	assert.False(t, req.HasParticipant("u3"))
	assert.False(t, req.HasParticipant(""))
}
