package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// CibaRepository implements domain.CibaStore. Status transitions use
// FindOneAndUpdate with the expected status in the filter, so the
// compare-and-set is atomic on the server and of two racing consumers
// exactly one wins.
type CibaRepository struct {
	coll *mongo.Collection
}

// NewCibaRepository creates a new MongoDB-backed CIBA request store.
func NewCibaRepository(db *mongo.Database) *CibaRepository {
	return &CibaRepository{coll: db.Collection(CibaRequestsCollection)}
}

// StoreRequest implements domain.CibaStore.
func (r *CibaRepository) StoreRequest(ctx context.Context, req *domain.CibaRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	_, err := r.coll.InsertOne(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("auth_req_id", req.AuthReqID).Msg("error saving backchannel request")
		return err
	}

	return nil
}

// GetByAuthReqID implements domain.CibaStore.
func (r *CibaRepository) GetByAuthReqID(ctx context.Context, authReqID string) (*domain.CibaRequest, error) {
	var req domain.CibaRequest
	err := r.coll.FindOne(ctx, bson.M{"auth_req_id": authReqID}).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCibaRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// GetPendingBySubject implements domain.CibaStore.
func (r *CibaRepository) GetPendingBySubject(ctx context.Context, subjectID string) ([]*domain.CibaRequest, error) {
	filter := bson.M{
		"subject_id": subjectID,
		"status":     domain.CibaStatusPending,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []*domain.CibaRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus implements domain.CibaStore.
func (r *CibaRepository) UpdateStatus(ctx context.Context, authReqID string, from, to domain.CibaStatus, sessionID string) error {
	filter := bson.M{
		"auth_req_id": authReqID,
		"status":      from,
	}
	set := bson.M{
		"status": to,
	}
	if to != domain.CibaStatusPending {
		set["resolved_at"] = time.Now().UTC()
	}
	if sessionID != "" {
		set["session_id"] = sessionID
	}

	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated domain.CibaRequest
	err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// The request either does not exist or is no longer in the
			// expected status.
			if _, getErr := r.GetByAuthReqID(ctx, authReqID); getErr != nil {
				return getErr
			}
			return serrors.ErrConflict
		}
		return err
	}

	return nil
}

// UpdateLastPolledAt implements domain.CibaStore.
func (r *CibaRepository) UpdateLastPolledAt(ctx context.Context, authReqID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"auth_req_id": authReqID},
		bson.M{"$set": bson.M{"last_polled_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return serrors.ErrCibaRequestNotFound
	}
	return nil
}

// RemoveRequest implements domain.CibaStore.
func (r *CibaRepository) RemoveRequest(ctx context.Context, authReqID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"auth_req_id": authReqID})
	return err
}

// RemoveExpiredRequests implements domain.CibaStore. Requests are retained
// briefly past expiry so late polls observe the expired status before the
// record disappears.
func (r *CibaRepository) RemoveExpiredRequests(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": cutoff}})
	return err
}
