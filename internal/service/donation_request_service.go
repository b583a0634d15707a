// Package service contains the donation request business logic.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"bloodbooth/internal/cache"
	"bloodbooth/internal/featureflags"
	"bloodbooth/internal/middleware"
	"bloodbooth/internal/models"
	"bloodbooth/internal/notifications"
	"bloodbooth/internal/observability"
	"bloodbooth/internal/ratelimit"
	"bloodbooth/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// EventPublisher delivers lifecycle events to the given users.
type EventPublisher interface {
	PublishEvent(ctx context.Context, userIDs []string, eventType string, payload any) error
}

// DonationRequestService owns admission, creation and the lifecycle of donation requests.
type DonationRequestService struct {
	repo    repository.DonationRequestRepository
	limiter *ratelimit.Limiter
	flags   *featureflags.Manager
	events  EventPublisher
	now     func() time.Time
}

// Option configures a DonationRequestService.
type Option func(*DonationRequestService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *DonationRequestService) { s.now = now }
}

// WithEvents publishes lifecycle events through p.
func WithEvents(p EventPublisher) Option {
	return func(s *DonationRequestService) { s.events = p }
}

// WithFeatureFlags enables flag-controlled behavior such as strict admission.
func WithFeatureFlags(m *featureflags.Manager) Option {
	return func(s *DonationRequestService) { s.flags = m }
}

// NewDonationRequestService returns a new DonationRequestService.
func NewDonationRequestService(repo repository.DonationRequestRepository, limiter *ratelimit.Limiter, opts ...Option) *DonationRequestService {
	s := &DonationRequestService{
		repo:    repo,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOption sets optional fields on a new request.
type CreateOption func(*models.DonationRequest)

// WithPaymentRef attaches a payment reference to the new request.
func WithPaymentRef(ref string) CreateOption {
	return func(r *models.DonationRequest) {
		if ref = strings.TrimSpace(ref); ref != "" {
			r.PaymentRef = &ref
		}
	}
}

// Create admits and persists a new pending request from requesterID to donorID.
func (s *DonationRequestService) Create(ctx context.Context, requesterID, donorID string, opts ...CreateOption) (*models.DonationRequest, error) {
	span, ctx := observability.NewSpan(ctx, "DonationRequestService.Create",
		attribute.String("requester.id", requesterID),
		attribute.String("donor.id", donorID),
	)
	defer span.End()

	req, err := s.create(ctx, strings.TrimSpace(requesterID), strings.TrimSpace(donorID), opts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.AddAttributes(attribute.String("donation_request.id", req.ID))
	return req, nil
}

func (s *DonationRequestService) create(ctx context.Context, requesterID, donorID string, opts []CreateOption) (*models.DonationRequest, error) {
	if requesterID == "" || donorID == "" {
		return nil, models.NewValidationError("requesterId and donorId are required", "requesterId", "donorId")
	}

	now := s.now()
	req := models.NewDonationRequest(requesterID, donorID, now)
	for _, opt := range opts {
		opt(req)
	}

	if atomic, ok := s.repo.(repository.AtomicCreator); ok && s.flags.Enabled(featureflags.StrictAdmission, requesterID) {
		err := atomic.CreateIfBelowLimit(ctx, req, s.limiter.Since(now), models.ActiveDonationRequestStatuses(), s.limiter.Max)
		if errors.Is(err, repository.ErrLimitReached) {
			observability.AdmissionRejections.WithLabelValues("strict").Inc()
			return nil, s.limiter.Exceeded()
		}
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.limiter.CheckAdmission(ctx, requesterID, now); err != nil {
			if models.HasCode(err, models.CodeRateLimitExceeded) {
				observability.AdmissionRejections.WithLabelValues("check").Inc()
			}
			return nil, err
		}
		if err := s.repo.Create(ctx, req); err != nil {
			return nil, err
		}
	}

	observability.DonationRequestsCreated.Inc()
	middleware.Logger.InfoContext(ctx, "donation request created",
		"donation_request_id", req.ID,
		"requester_id", req.RequesterID,
		"donor_id", req.DonorID,
	)
	s.publish(ctx, notifications.EventDonationRequestCreated, req)
	return req, nil
}

// ApplyAction performs a lifecycle action without an identity check.
func (s *DonationRequestService) ApplyAction(ctx context.Context, requestID, action string) (*models.DonationRequest, error) {
	return s.ApplyActionAs(ctx, "", requestID, action)
}

// ApplyActionAs performs a lifecycle action on behalf of actorID. A non-empty actorID must be
// the requester or the donor.
func (s *DonationRequestService) ApplyActionAs(ctx context.Context, actorID, requestID, action string) (*models.DonationRequest, error) {
	span, ctx := observability.NewSpan(ctx, "DonationRequestService.ApplyAction",
		attribute.String("donation_request.id", requestID),
		attribute.String("action", action),
	)
	defer span.End()

	req, err := s.applyAction(ctx, actorID, strings.TrimSpace(requestID), strings.TrimSpace(action))
	result := "ok"
	if err != nil {
		span.SetError(err)
		result = errorResult(err)
	}
	observability.Transitions.WithLabelValues(metricAction(action), result).Inc()
	return req, err
}

func (s *DonationRequestService) applyAction(ctx context.Context, actorID, requestID, rawAction string) (*models.DonationRequest, error) {
	if requestID == "" || rawAction == "" {
		return nil, models.NewValidationError("requestId and action are required", "requestId", "action")
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != "" && !req.HasParticipant(actorID) {
		return nil, models.NewForbiddenError("Only the requester or the donor can update this request")
	}

	action, err := models.ParseDonationRequestAction(rawAction)
	if err != nil {
		return nil, err
	}

	expected := req.Version
	if err := req.Apply(action, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, req, expected); err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, cache.DonationRequestKey(req.ID), req, cache.DonationRequestTTL); err != nil {
		middleware.Logger.WarnContext(ctx, "cache write failed", "donation_request_id", req.ID, "error", err.Error())
		cache.InvalidateDonationRequest(ctx, req.ID)
	}

	middleware.Logger.InfoContext(ctx, "donation request updated",
		"donation_request_id", req.ID,
		"action", string(action),
		"status", string(req.Status),
	)
	s.publish(ctx, eventForStatus(req.Status), req)
	return req, nil
}

// Get returns a request by id, served from the cache when possible.
func (s *DonationRequestService) Get(ctx context.Context, requestID string) (*models.DonationRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, models.NewValidationError("requestId is required", "requestId")
	}

	var req models.DonationRequest
	err := cache.Aside(ctx, cache.DonationRequestKey(requestID), &req, cache.DonationRequestTTL, func() error {
		found, err := s.repo.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		req = *found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListForUser returns the requests userID takes part in, newest first.
func (s *DonationRequestService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*models.DonationRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, models.NewValidationError("userId is required", "userId")
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *DonationRequestService) publish(ctx context.Context, eventType string, req *models.DonationRequest) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, []string{req.RequesterID, req.DonorID}, eventType, req); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish donation request event",
			"event_type", eventType,
			"donation_request_id", req.ID,
			"error", err.Error(),
		)
	}
}

func eventForStatus(status models.DonationRequestStatus) string {
	switch status {
	case models.DonationRequestStatusAccepted:
		return notifications.EventDonationRequestAccepted
	case models.DonationRequestStatusCompleted:
		return notifications.EventDonationRequestCompleted
	case models.DonationRequestStatusCancelled:
		return notifications.EventDonationRequestCancelled
	default:
		return notifications.EventDonationRequestCreated
	}
}

// metricAction keeps label cardinality bounded for unknown action names.
func metricAction(raw string) string {
	if a, err := models.ParseDonationRequestAction(raw); err == nil {
		return string(a)
	}
	return "unknown"
}

func errorResult(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}
