// Package ratelimit implements per-requester admission control for new donation requests.
package ratelimit

import (
	"context"
	"time"

	"bloodbooth/internal/models"
)

// Defaults applied when a Limiter is built with zero values.
const (
	DefaultMax    = 5
	DefaultWindow = 10 * time.Minute
)

// Counter counts a requester's requests created at or after since with one of statuses.
type Counter interface {
	CountByRequesterSince(ctx context.Context, requesterID string, since time.Time, statuses []models.DonationRequestStatus) (int64, error)
}

// Limiter admits a new request only while the requester holds fewer than Max active
// requests created within the trailing Window.
type Limiter struct {
	counter Counter
	Max     int
	Window  time.Duration
}

// NewLimiter builds a Limiter; non-positive max or window fall back to the defaults.
func NewLimiter(counter Counter, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{counter: counter, Max: max, Window: window}
}

// Since returns the inclusive lower bound of the window ending at now.
func (l *Limiter) Since(now time.Time) time.Time {
	return now.Add(-l.Window)
}

// CheckAdmission returns nil when requesterID may create another request at now, and a
// RATE_LIMIT_EXCEEDED error otherwise. It never writes.
func (l *Limiter) CheckAdmission(ctx context.Context, requesterID string, now time.Time) error {
	count, err := l.counter.CountByRequesterSince(ctx, requesterID, l.Since(now), models.ActiveDonationRequestStatuses())
	if err != nil {
		return err
	}
	if count >= int64(l.Max) {
		return l.Exceeded()
	}
	return nil
}

// Exceeded builds the rejection error for this limiter's settings.
func (l *Limiter) Exceeded() error {
	return models.NewRateLimitError(l.Max, l.Window)
}
