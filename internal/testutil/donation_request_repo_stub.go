// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bloodbooth/internal/models"
	"bloodbooth/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// DonationRequestRepoStub is an in-memory donation request repository with version checks.
type DonationRequestRepoStub struct {
	mu      sync.Mutex
	records map[string]models.DonationRequest
	seq     int
	writes  int
}

var _ repository.DonationRequestRepository = (*DonationRequestRepoStub)(nil)

// NewDonationRequestRepoStub creates an empty stub.
func NewDonationRequestRepoStub() *DonationRequestRepoStub {
	return &DonationRequestRepoStub{records: make(map[string]models.DonationRequest)}
}

// Writes returns the number of successful creates and updates.
func (s *DonationRequestRepoStub) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Create stores a copy of req and assigns its id.
func (s *DonationRequestRepoStub) Create(_ context.Context, req *models.DonationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(req)
}

func (s *DonationRequestRepoStub) createLocked(req *models.DonationRequest) error {
	s.seq++
	if req.ID == "" {
		req.ID = fmt.Sprintf("req-%d", s.seq)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	s.records[req.ID] = *req
	s.writes++
	return nil
}

// GetByID returns a copy of the stored request.
func (s *DonationRequestRepoStub) GetByID(_ context.Context, id string) (*models.DonationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, models.NewNotFoundError("Request", id)
	}
	return &rec, nil
}

// CountByRequesterSince counts requests by requesterID created at or after since with one of statuses.
func (s *DonationRequestRepoStub) CountByRequesterSince(_ context.Context, requesterID string, since time.Time, statuses []models.DonationRequestStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(requesterID, since, statuses), nil
}

func (s *DonationRequestRepoStub) countLocked(requesterID string, since time.Time, statuses []models.DonationRequestStatus) int64 {
	var n int64
	for _, rec := range s.records {
		if rec.RequesterID != requesterID || rec.CreatedAt.Before(since) {
			continue
		}
		for _, st := range statuses {
			if rec.Status == st {
				n++
				break
			}
		}
	}
	return n
}

// Update replaces the stored request when its version still equals expectedVersion.
func (s *DonationRequestRepoStub) Update(_ context.Context, req *models.DonationRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[req.ID]
	if !ok {
		return models.NewNotFoundError("Request", req.ID)
	}
	if cur.Version != expectedVersion {
		return models.NewConflictError("Request", req.ID)
	}
	req.Version = expectedVersion + 1
	s.records[req.ID] = *req
	s.writes++
	return nil
}

// ListByUser returns requests where userID takes part, newest first.
func (s *DonationRequestRepoStub) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.DonationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DonationRequest
	for _, rec := range s.records {
		if rec.HasParticipant(userID) {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored requests.
func (s *DonationRequestRepoStub) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

// Ping always succeeds.
func (s *DonationRequestRepoStub) Ping(context.Context) error { return nil }

// AtomicDonationRequestRepoStub adds a serialized count-and-insert to the stub.
type AtomicDonationRequestRepoStub struct {
	*DonationRequestRepoStub
	AtomicCalls int
}

var _ repository.AtomicCreator = (*AtomicDonationRequestRepoStub)(nil)

// NewAtomicDonationRequestRepoStub creates an empty atomic stub.
func NewAtomicDonationRequestRepoStub() *AtomicDonationRequestRepoStub {
	return &AtomicDonationRequestRepoStub{DonationRequestRepoStub: NewDonationRequestRepoStub()}
}

// CreateIfBelowLimit inserts req unless limit matching requests already exist.
func (s *AtomicDonationRequestRepoStub) CreateIfBelowLimit(_ context.Context, req *models.DonationRequest, since time.Time, statuses []models.DonationRequestStatus, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AtomicCalls++
	if s.countLocked(req.RequesterID, since, statuses) >= int64(limit) {
		return repository.ErrLimitReached
	}
	return s.createLocked(req)
}

// FakeDonationRequest builds a pending request between random users created at now.
func FakeDonationRequest(now time.Time, overrides ...func(*models.DonationRequest)) *models.DonationRequest {
	req := models.NewDonationRequest(gofakeit.UUID(), gofakeit.UUID(), now)
	for _, o := range overrides {
		o(req)
	}
	return req
}
