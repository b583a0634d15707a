// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"bloodbooth/internal/models"
	"bloodbooth/internal/observability"

	"gorm.io/gorm"
)

const donationRequestsTable = "donation_requests"

// MaxListLimit caps ListByUser page sizes.
const MaxListLimit = 100

// ErrLimitReached is returned by AtomicCreator when the requester already holds the maximum
// number of active requests inside the window.
var ErrLimitReached = errors.New("donation request limit reached")

// DonationRequestRepository defines the interface for donation request data operations
type DonationRequestRepository interface {
	Create(ctx context.Context, req *models.DonationRequest) error
	GetByID(ctx context.Context, id string) (*models.DonationRequest, error)
	// CountByRequesterSince counts requests from requesterID created at or after since whose
	// status is one of statuses.
	CountByRequesterSince(ctx context.Context, requesterID string, since time.Time, statuses []models.DonationRequestStatus) (int64, error)
	// Update persists status, contact, payment reference and timestamps if the stored version
	// still equals expectedVersion. On success req.Version is advanced.
	Update(ctx context.Context, req *models.DonationRequest, expectedVersion int64) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.DonationRequest, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// AtomicCreator is implemented by stores that can count and insert as one serialized step
// per requester.
type AtomicCreator interface {
	CreateIfBelowLimit(ctx context.Context, req *models.DonationRequest, since time.Time, statuses []models.DonationRequestStatus, limit int) error
}

// GormDonationRequestRepository implements DonationRequestRepository and AtomicCreator on gorm
type GormDonationRequestRepository struct {
	db *gorm.DB
}

var (
	_ DonationRequestRepository = (*GormDonationRequestRepository)(nil)
	_ AtomicCreator             = (*GormDonationRequestRepository)(nil)
)

// NewDonationRequestRepository creates a new donation request repository
func NewDonationRequestRepository(db *gorm.DB) *GormDonationRequestRepository {
	return &GormDonationRequestRepository{db: db}
}

func (r *GormDonationRequestRepository) Create(ctx context.Context, req *models.DonationRequest) error {
	defer observability.TrackQuery("create", donationRequestsTable)()

	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *GormDonationRequestRepository) GetByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	defer observability.TrackQuery("get", donationRequestsTable)()

	var req models.DonationRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func activeCountQuery(db *gorm.DB, requesterID string, since time.Time, statuses []models.DonationRequestStatus) *gorm.DB {
	return db.Model(&models.DonationRequest{}).
		Where("requester_id = ? AND created_at >= ? AND status IN ?", requesterID, since, statuses)
}

func (r *GormDonationRequestRepository) CountByRequesterSince(ctx context.Context, requesterID string, since time.Time, statuses []models.DonationRequestStatus) (int64, error) {
	defer observability.TrackQuery("count", donationRequestsTable)()

	var count int64
	if err := activeCountQuery(r.db.WithContext(ctx), requesterID, since, statuses).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// CreateIfBelowLimit runs the admission count and the insert in one transaction. On PostgreSQL
// a transaction-scoped advisory lock keyed by the requester serializes concurrent creates.
func (r *GormDonationRequestRepository) CreateIfBelowLimit(ctx context.Context, req *models.DonationRequest, since time.Time, statuses []models.DonationRequestStatus, limit int) error {
	defer observability.TrackQuery("create_if_below_limit", donationRequestsTable)()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", req.RequesterID).Error; err != nil {
				return models.NewInternalError(err)
			}
		}

		var count int64
		if err := activeCountQuery(tx, req.RequesterID, since, statuses).Count(&count).Error; err != nil {
			return models.NewInternalError(err)
		}
		if count >= int64(limit) {
			return ErrLimitReached
		}

		if err := tx.Create(req).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *GormDonationRequestRepository) Update(ctx context.Context, req *models.DonationRequest, expectedVersion int64) error {
	defer observability.TrackQuery("update", donationRequestsTable)()

	next := expectedVersion + 1
	res := r.db.WithContext(ctx).
		Model(&models.DonationRequest{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]any{
			"status":           req.Status,
			"contact_unlocked": req.ContactUnlocked,
			"payment_ref":      req.PaymentRef,
			"updated_at":       req.UpdatedAt,
			"version":          next,
		})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&models.DonationRequest{}).Where("id = ?", req.ID).Count(&exists).Error; err != nil {
			return models.NewInternalError(err)
		}
		if exists == 0 {
			return models.NewNotFoundError("Request", req.ID)
		}
		return models.NewConflictError("Request", req.ID)
	}

	req.Version = next
	return nil
}

func (r *GormDonationRequestRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.DonationRequest, error) {
	defer observability.TrackQuery("list", donationRequestsTable)()

	limit, offset = clampPage(limit, offset)
	var out []*models.DonationRequest
	if err := r.db.WithContext(ctx).
		Where("requester_id = ? OR donor_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *GormDonationRequestRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.DonationRequest{}).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *GormDonationRequestRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
