package repository

import (
	"context"
	"errors"
	"time"

	"bloodbooth/internal/models"
	"bloodbooth/internal/observability"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DonationRequestsCollection matches the collection name used by the web application.
const DonationRequestsCollection = "donationrequests"

type mongoDonationRequest struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	RequesterID     string             `bson:"requesterId"`
	DonorID         string             `bson:"donorId"`
	Status          string             `bson:"status"`
	ContactUnlocked bool               `bson:"contactUnlocked"`
	PaymentRef      *string            `bson:"paymentRef,omitempty"`
	Version         int64              `bson:"version"`
	CreatedAt       time.Time          `bson:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt"`
}

func toMongoDocument(req *models.DonationRequest) mongoDonationRequest {
	return mongoDonationRequest{
		RequesterID:     req.RequesterID,
		DonorID:         req.DonorID,
		Status:          string(req.Status),
		ContactUnlocked: req.ContactUnlocked,
		PaymentRef:      req.PaymentRef,
		Version:         req.Version,
		CreatedAt:       req.CreatedAt.UTC(),
		UpdatedAt:       req.UpdatedAt.UTC(),
	}
}

func (d mongoDonationRequest) toModel() *models.DonationRequest {
	version := d.Version
	if version == 0 {
		// documents written before versioning existed
		version = 1
	}
	return &models.DonationRequest{
		ID:              d.ID.Hex(),
		RequesterID:     d.RequesterID,
		DonorID:         d.DonorID,
		Status:          models.DonationRequestStatus(d.Status),
		ContactUnlocked: d.ContactUnlocked,
		PaymentRef:      d.PaymentRef,
		Version:         version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// MongoDonationRequestRepository implements DonationRequestRepository on MongoDB.
// It does not offer atomic admission.
type MongoDonationRequestRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ DonationRequestRepository = (*MongoDonationRequestRepository)(nil)

// ConnectMongo opens a client for uri and verifies it with a primary ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// NewMongoDonationRequestRepository creates a repository over database.donationrequests.
func NewMongoDonationRequestRepository(client *mongo.Client, database string) *MongoDonationRequestRepository {
	return &MongoDonationRequestRepository{
		client: client,
		coll:   client.Database(database).Collection(DonationRequestsCollection),
	}
}

// EnsureIndexes creates the indexes the admission count and dashboard listing rely on.
func (r *MongoDonationRequestRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "donorId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

func (r *MongoDonationRequestRepository) Create(ctx context.Context, req *models.DonationRequest) error {
	defer observability.TrackQuery("create", DonationRequestsCollection)()

	if req.Version == 0 {
		req.Version = 1
	}
	doc := toMongoDocument(req)
	doc.ID = primitive.NewObjectID()
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return models.NewInternalError(err)
	}
	req.ID = doc.ID.Hex()
	return nil
}

func (r *MongoDonationRequestRepository) GetByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	defer observability.TrackQuery("get", DonationRequestsCollection)()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// a malformed id can never match a stored document
		return nil, models.NewNotFoundError("Request", id)
	}

	var doc mongoDonationRequest
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return doc.toModel(), nil
}

func (r *MongoDonationRequestRepository) CountByRequesterSince(ctx context.Context, requesterID string, since time.Time, statuses []models.DonationRequestStatus) (int64, error) {
	defer observability.TrackQuery("count", DonationRequestsCollection)()

	in := make([]string, 0, len(statuses))
	for _, s := range statuses {
		in = append(in, string(s))
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"requesterId": requesterID,
		"createdAt":   bson.M{"$gte": since.UTC()},
		"status":      bson.M{"$in": in},
	})
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func versionFilter(oid primitive.ObjectID, expectedVersion int64) bson.M {
	if expectedVersion == 1 {
		// unversioned documents are treated as version 1
		return bson.M{"_id": oid, "$or": bson.A{
			bson.M{"version": int64(1)},
			bson.M{"version": bson.M{"$exists": false}},
		}}
	}
	return bson.M{"_id": oid, "version": expectedVersion}
}

func (r *MongoDonationRequestRepository) Update(ctx context.Context, req *models.DonationRequest, expectedVersion int64) error {
	defer observability.TrackQuery("update", DonationRequestsCollection)()

	oid, err := primitive.ObjectIDFromHex(req.ID)
	if err != nil {
		return models.NewNotFoundError("Request", req.ID)
	}

	next := expectedVersion + 1
	set := bson.M{
		"status":          string(req.Status),
		"contactUnlocked": req.ContactUnlocked,
		"updatedAt":       req.UpdatedAt.UTC(),
		"version":         next,
	}
	if req.PaymentRef != nil {
		set["paymentRef"] = *req.PaymentRef
	}

	res, err := r.coll.UpdateOne(ctx, versionFilter(oid, expectedVersion), bson.M{"$set": set})
	if err != nil {
		return models.NewInternalError(err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return models.NewInternalError(err)
		}
		if n == 0 {
			return models.NewNotFoundError("Request", req.ID)
		}
		return models.NewConflictError("Request", req.ID)
	}

	req.Version = next
	return nil
}

func (r *MongoDonationRequestRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.DonationRequest, error) {
	defer observability.TrackQuery("list", DonationRequestsCollection)()

	limit, offset = clampPage(limit, offset)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cur, err := r.coll.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"requesterId": userID},
		bson.M{"donorId": userID},
	}}, opts)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	defer cur.Close(ctx)

	var docs []mongoDonationRequest
	if err := cur.All(ctx, &docs); err != nil {
		return nil, models.NewInternalError(err)
	}
	out := make([]*models.DonationRequest, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *MongoDonationRequestRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *MongoDonationRequestRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// Collections lists the collections in the repository's database.
func (r *MongoDonationRequestRepository) Collections(ctx context.Context) ([]string, error) {
	return r.coll.Database().ListCollectionNames(ctx, bson.D{})
}

// Disconnect closes the underlying client.
func (r *MongoDonationRequestRepository) Disconnect(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
