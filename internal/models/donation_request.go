// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DonationRequestStatus represents the lifecycle state of a donation request.
type DonationRequestStatus string

const (
	// DonationRequestStatusPending is the initial state of every request.
	DonationRequestStatusPending DonationRequestStatus = "pending"
	// DonationRequestStatusAccepted indicates the donor agreed to donate.
	DonationRequestStatusAccepted DonationRequestStatus = "accepted"
	// DonationRequestStatusCompleted indicates the donation took place.
	DonationRequestStatusCompleted DonationRequestStatus = "completed"
	// DonationRequestStatusCancelled indicates the request was withdrawn or declined.
	DonationRequestStatusCancelled DonationRequestStatus = "cancelled"
)

// ActiveDonationRequestStatuses are the statuses that count against the requester's rate limit.
func ActiveDonationRequestStatuses() []DonationRequestStatus {
	return []DonationRequestStatus{DonationRequestStatusPending, DonationRequestStatusAccepted}
}

// IsTerminal reports whether no further transitions leave this status.
func (s DonationRequestStatus) IsTerminal() bool {
	return s == DonationRequestStatusCompleted || s == DonationRequestStatusCancelled
}

// IsActive reports whether the status counts as an active request.
func (s DonationRequestStatus) IsActive() bool {
	return s == DonationRequestStatusPending || s == DonationRequestStatusAccepted
}

// DonationRequestAction names a transition that can be applied to a request.
type DonationRequestAction string

const (
	// ActionAccept moves a pending request to accepted and unlocks contact details.
	ActionAccept DonationRequestAction = "accept"
	// ActionComplete moves an accepted request to completed.
	ActionComplete DonationRequestAction = "complete"
	// ActionCancel moves a pending or accepted request to cancelled.
	ActionCancel DonationRequestAction = "cancel"
)

// transitions maps action -> current status -> next status.
var transitions = map[DonationRequestAction]map[DonationRequestStatus]DonationRequestStatus{
	ActionAccept: {
		DonationRequestStatusPending: DonationRequestStatusAccepted,
	},
	ActionComplete: {
		DonationRequestStatusAccepted: DonationRequestStatusCompleted,
	},
	ActionCancel: {
		DonationRequestStatusPending:  DonationRequestStatusCancelled,
		DonationRequestStatusAccepted: DonationRequestStatusCancelled,
	},
}

// ParseDonationRequestAction validates a raw action name.
func ParseDonationRequestAction(raw string) (DonationRequestAction, error) {
	action := DonationRequestAction(strings.TrimSpace(raw))
	if _, ok := transitions[action]; !ok {
		return "", NewInvalidActionError(raw)
	}
	return action, nil
}

// DonationRequest is a request from one account asking another account to donate blood.
type DonationRequest struct {
	ID              string                `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RequesterID     string                `gorm:"type:varchar(64);not null;index:idx_donation_requests_requester_created,priority:1" json:"requesterId"`
	DonorID         string                `gorm:"type:varchar(64);not null;index" json:"donorId"`
	Status          DonationRequestStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ContactUnlocked bool                  `gorm:"not null;default:false" json:"contactUnlocked"`
	PaymentRef      *string               `gorm:"type:varchar(128)" json:"paymentRef,omitempty"`
	Version         int64                 `gorm:"not null;default:1" json:"-"`
	CreatedAt       time.Time             `gorm:"index:idx_donation_requests_requester_created,priority:2" json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (DonationRequest) TableName() string {
	return "donation_requests"
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (r *DonationRequest) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

// NewDonationRequest builds a pending request with contact details locked.
func NewDonationRequest(requesterID, donorID string, now time.Time) *DonationRequest {
	return &DonationRequest{
		RequesterID:     requesterID,
		DonorID:         donorID,
		Status:          DonationRequestStatusPending,
		ContactUnlocked: false,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasParticipant reports whether userID is the requester or the donor.
func (r *DonationRequest) HasParticipant(userID string) bool {
	return userID != "" && (r.RequesterID == userID || r.DonorID == userID)
}

// Apply performs action on the request. The record is left untouched on error.
func (r *DonationRequest) Apply(action DonationRequestAction, now time.Time) error {
	allowed, ok := transitions[action]
	if !ok {
		return NewInvalidActionError(string(action))
	}
	next, ok := allowed[r.Status]
	if !ok {
		return NewIllegalTransitionError(action, r.Status)
	}

	r.Status = next
	if action == ActionAccept {
		r.ContactUnlocked = true
	}
	r.UpdatedAt = now
	return nil
}
