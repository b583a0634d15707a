package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"bloodbooth/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func setupMongo(t *testing.T) *MongoDonationRequestRepository {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("MongoDB unavailable: %v", err)
	}

	dbName := "bloodbooth_test_" + primitive.NewObjectID().Hex()
	repo := NewMongoDonationRequestRepository(client, dbName)
	require.NoError(t, repo.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = repo.Disconnect(context.Background())
	})
	return repo
}

func TestMongoDonationRequestRepository_Integration(t *testing.T) {
	repo := setupMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	requester := gofakeit.UUID()

	req := models.NewDonationRequest(requester, gofakeit.UUID(), now)
	require.NoError(t, repo.Create(ctx, req))
	_, err := primitive.ObjectIDFromHex(req.ID)
	require.NoError(t, err)

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, requester, got.RequesterID)
		assert.Equal(t, int64(1), got.Version)

		_, err = repo.GetByID(ctx, "not-an-object-id")
		assert.True(t, models.HasCode(err, models.CodeNotFound))
		_, err = repo.GetByID(ctx, primitive.NewObjectID().Hex())
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("CountByRequesterSince", func(t *testing.T) {
		n, err := repo.CountByRequesterSince(ctx, requester, now.Add(-10*time.Minute), active)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Update with version check", func(t *testing.T) {
		next := *req
		require.NoError(t, next.Apply(models.ActionAccept, now.Add(time.Second)))
		require.NoError(t, repo.Update(ctx, &next, 1))
		assert.Equal(t, int64(2), next.Version)

		stale := *req
		require.NoError(t, stale.Apply(models.ActionCancel, now.Add(time.Second)))
		err := repo.Update(ctx, &stale, 1)
		assert.True(t, models.HasCode(err, models.CodeConflict))

		n, err := repo.CountByRequesterSince(ctx, requester, now.Add(-10*time.Minute), active)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "accepted still counts")
	})

	t.Run("ListByUser", func(t *testing.T) {
		list, err := repo.ListByUser(ctx, req.DonorID, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, req.ID, list[0].ID)
		assert.True(t, list[0].ContactUnlocked)
	})
}
