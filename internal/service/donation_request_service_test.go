package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bloodbooth/internal/cache"
	"bloodbooth/internal/featureflags"
	"bloodbooth/internal/models"
	"bloodbooth/internal/notifications"
	"bloodbooth/internal/ratelimit"
	"bloodbooth/internal/repository"
	"bloodbooth/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishEvent(ctx context.Context, userIDs []string, eventType string, payload any) error {
	args := m.Called(ctx, userIDs, eventType, payload)
	return args.Error(0)
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(repo repository.DonationRequestRepository, opts ...Option) (*DonationRequestService, *clock) {
	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewLimiter(repo, 5, 10*time.Minute)
	opts = append([]Option{WithClock(c.now)}, opts...)
	return NewDonationRequestService(repo, limiter, opts...), c
}

func TestCreate_Validation(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	tests := []struct {
		name      string
		requester string
		donor     string
	}{
		{"missing requester", "", "u2"},
		{"missing donor", "u1", ""},
		{"whitespace only", "  ", "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.requester, tt.donor)
			assert.True(t, models.HasCode(err, models.CodeValidation))
		})
	}
	assert.Zero(t, repo.Writes())
}

func TestCreate_PersistsPendingRecord(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(repo)

	req, err := svc.Create(context.Background(), " u1 ", "u2", WithPaymentRef(" pay_123 "))
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "u1", req.RequesterID)
	assert.Equal(t, "u2", req.DonorID)
	assert.Equal(t, models.DonationRequestStatusPending, req.Status)
	assert.False(t, req.ContactUnlocked)
	assert.Equal(t, c.t, req.CreatedAt)
	assert.Equal(t, c.t, req.UpdatedAt)
	require.NotNil(t, req.PaymentRef)
	assert.Equal(t, "pay_123", *req.PaymentRef)
}

func TestCreate_RateLimit(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, "A", fmt.Sprintf("donor-%d", i))
		require.NoError(t, err)
		c.advance(time.Minute)
	}

	_, err := svc.Create(ctx, "A", "donor-6")
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeRateLimitExceeded))
	assert.Contains(t, err.Error(), "5")
	assert.Contains(t, err.Error(), "10 minutes")
	assert.Equal(t, 5, repo.Writes(), "no record persisted on rejection")

	// the first request leaves the window 10 minutes after it was created
	c.advance(5*time.Minute + time.Second)
	_, err = svc.Create(ctx, "A", "donor-6")
	assert.NoError(t, err)
}

func TestCreate_CancelledRequestsFreeCapacity(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		req, err := svc.Create(ctx, "A", fmt.Sprintf("donor-%d", i))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	_, err := svc.Create(ctx, "A", "donor-x")
	require.True(t, models.HasCode(err, models.CodeRateLimitExceeded))

	_, err = svc.ApplyAction(ctx, ids[0], "cancel")
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, ids[1], "accept")
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, ids[1], "complete")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Create(ctx, "A", fmt.Sprintf("again-%d", i))
		require.NoError(t, err)
	}
	_, err = svc.Create(ctx, "A", "one-too-many")
	assert.True(t, models.HasCode(err, models.CodeRateLimitExceeded))
}

func TestCreate_StrictAdmissionUsesAtomicCreator(t *testing.T) {
	repo := testutil.NewAtomicDonationRequestRepoStub()
	svc, _ := newTestService(repo, WithFeatureFlags(featureflags.NewManager("strict_admission=on")))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, "A", fmt.Sprintf("donor-%d", i))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "A", "donor-6")
	assert.True(t, models.HasCode(err, models.CodeRateLimitExceeded))
	assert.Equal(t, 6, repo.AtomicCalls)
	assert.Equal(t, 5, repo.Writes())
}

func TestCreate_StrictAdmissionOffUsesCheckThenCreate(t *testing.T) {
	repo := testutil.NewAtomicDonationRequestRepoStub()
	svc, _ := newTestService(repo, WithFeatureFlags(featureflags.NewManager("strict_admission=off")))

	_, err := svc.Create(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Zero(t, repo.AtomicCalls)
}

func TestApplyAction_ScenarioAcceptThenComplete(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)
	created := req.CreatedAt

	c.advance(time.Minute)
	req, err = svc.ApplyAction(ctx, req.ID, "accept")
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusAccepted, req.Status)
	assert.True(t, req.ContactUnlocked)
	assert.Equal(t, c.t, req.UpdatedAt)

	c.advance(time.Minute)
	req, err = svc.ApplyAction(ctx, req.ID, "complete")
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusCompleted, req.Status)
	assert.True(t, req.ContactUnlocked, "contact stays unlocked")
	assert.Equal(t, created, req.CreatedAt)
	assert.Equal(t, int64(3), req.Version)
}

func TestApplyAction_ScenarioCancelPending(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	req, err = svc.ApplyAction(ctx, req.ID, "cancel")
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusCancelled, req.Status)
	assert.False(t, req.ContactUnlocked)
}

func TestApplyAction_Errors(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)
	writes := repo.Writes()

	_, err = svc.ApplyAction(ctx, "", "accept")
	assert.True(t, models.HasCode(err, models.CodeValidation))
	_, err = svc.ApplyAction(ctx, req.ID, "")
	assert.True(t, models.HasCode(err, models.CodeValidation))

	_, err = svc.ApplyAction(ctx, req.ID, "approve")
	assert.True(t, models.HasCode(err, models.CodeInvalidAction))

	_, err = svc.ApplyAction(ctx, "nonexistent-id", "accept")
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = svc.ApplyAction(ctx, req.ID, "complete")
	assert.True(t, models.HasCode(err, models.CodeIllegalTransition), "complete requires accepted")

	assert.Equal(t, writes, repo.Writes(), "failed actions never write")
	stored, _ := repo.GetByID(ctx, req.ID)
	assert.Equal(t, models.DonationRequestStatusPending, stored.Status)
}

func TestApplyAction_DoubleAcceptIsIllegal(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.ApplyAction(ctx, req.ID, "accept")
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, req.ID, "accept")
	assert.True(t, models.HasCode(err, models.CodeIllegalTransition))
}

func TestApplyAction_TerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []string{"complete", "cancel"} {
		t.Run(terminal, func(t *testing.T) {
			repo := testutil.NewDonationRequestRepoStub()
			svc, _ := newTestService(repo)
			ctx := context.Background()

			req, err := svc.Create(ctx, "u1", "u2")
			require.NoError(t, err)
			_, err = svc.ApplyAction(ctx, req.ID, "accept")
			require.NoError(t, err)
			final, err := svc.ApplyAction(ctx, req.ID, terminal)
			require.NoError(t, err)

			for _, action := range []string{"accept", "complete", "cancel"} {
				_, err := svc.ApplyAction(ctx, req.ID, action)
				assert.True(t, models.HasCode(err, models.CodeIllegalTransition), action)
			}
			stored, _ := repo.GetByID(ctx, req.ID)
			assert.Equal(t, final.Status, stored.Status)
			assert.Equal(t, final.UpdatedAt, stored.UpdatedAt)
		})
	}
}

func TestApplyActionAs_RequiresParticipant(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.ApplyActionAs(ctx, "stranger", req.ID, "accept")
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	updated, err := svc.ApplyActionAs(ctx, "u2", req.ID, "accept")
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusAccepted, updated.Status)
}

// racingRepo simulates a concurrent writer committing between read and write.
type racingRepo struct {
	*testutil.DonationRequestRepoStub
}

func (r racingRepo) GetByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	req, err := r.DonationRequestRepoStub.GetByID(ctx, id)
	if err == nil {
		other := *req
		_ = r.DonationRequestRepoStub.Update(ctx, &other, req.Version)
	}
	return req, err
}

func TestApplyAction_ConcurrentWriterIsConflict(t *testing.T) {
	stub := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(racingRepo{stub})
	ctx := context.Background()

	req := testutil.FakeDonationRequest(c.t)
	require.NoError(t, stub.Create(ctx, req))

	_, err := svc.ApplyAction(ctx, req.ID, "accept")
	assert.True(t, models.HasCode(err, models.CodeConflict))
}

func TestCreate_SelfRequestIsAllowed(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)

	req, err := svc.Create(context.Background(), "u1", " u1 ")
	require.NoError(t, err)
	assert.Equal(t, "u1", req.RequesterID)
	assert.Equal(t, "u1", req.DonorID)
	assert.Equal(t, models.DonationRequestStatusPending, req.Status)
}

// transitionDuringReadRepo commits a transition after a cache fill has read the old row.
type transitionDuringReadRepo struct {
	*testutil.DonationRequestRepoStub
	transition func()
	fired      bool
}

func (r *transitionDuringReadRepo) GetByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	req, err := r.DonationRequestRepoStub.GetByID(ctx, id)
	if err == nil && !r.fired && r.transition != nil {
		r.fired = true
		r.transition()
	}
	return req, err
}

func TestGet_StaleFillDoesNotHideTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(cache.Close)

	stub := testutil.NewDonationRequestRepoStub()
	repo := &transitionDuringReadRepo{DonationRequestRepoStub: stub}
	svc, c := newTestService(repo)
	ctx := context.Background()

	req := testutil.FakeDonationRequest(c.t)
	require.NoError(t, stub.Create(ctx, req))
	repo.transition = func() {
		_, err := svc.ApplyAction(ctx, req.ID, "accept")
		require.NoError(t, err)
	}

	first, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusPending, first.Status)

	second, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusAccepted, second.Status)
	assert.True(t, second.ContactUnlocked)
}

func TestCreate_TerminalRequestsNeverCount(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(repo)
	ctx := context.Background()

	for _, status := range []models.DonationRequestStatus{
		models.DonationRequestStatusCompleted, models.DonationRequestStatusCancelled,
	} {
		for i := 0; i < 5; i++ {
			req := testutil.FakeDonationRequest(c.t, func(r *models.DonationRequest) {
				r.RequesterID = "A"
				r.Status = status
			})
			require.NoError(t, repo.Create(ctx, req))
		}
	}

	_, err := svc.Create(ctx, "A", "B")
	assert.NoError(t, err)
}

func TestEventsPublishedToBothParticipants(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	pub := &publisherMock{}
	svc, _ := newTestService(repo, WithEvents(pub))
	ctx := context.Background()

	participants := []string{"u1", "u2"}
	pub.On("PublishEvent", mock.Anything, participants, notifications.EventDonationRequestCreated, mock.Anything).Return(nil).Once()
	pub.On("PublishEvent", mock.Anything, participants, notifications.EventDonationRequestAccepted, mock.Anything).
		Return(errors.New("redis down")).Once()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.ApplyAction(ctx, req.ID, "accept")
	require.NoError(t, err, "publication failures are not surfaced")

	pub.AssertExpectations(t)
}

func TestGetAndListForUser(t *testing.T) {
	repo := testutil.NewDonationRequestRepoStub()
	svc, c := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	c.advance(time.Minute)
	second, err := svc.Create(ctx, "carol", "alice")
	require.NoError(t, err)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	_, err = svc.Get(ctx, " ")
	assert.True(t, models.HasCode(err, models.CodeValidation))

	list, err := svc.ListForUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = svc.ListForUser(ctx, "", 10, 0)
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestGet_ServedFromCacheAndInvalidatedOnTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(cache.Close)

	repo := testutil.NewDonationRequestRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req, err := svc.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.DonationRequestKey(req.ID)))

	_, err = svc.ApplyAction(ctx, req.ID, "accept")
	require.NoError(t, err)
	raw, err := mr.Get(cache.DonationRequestKey(req.ID))
	require.NoError(t, err)
	assert.Contains(t, raw, `"status":"accepted"`, "transition refreshes the cached copy")

	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationRequestStatusAccepted, got.Status)
	assert.True(t, got.ContactUnlocked)
}
