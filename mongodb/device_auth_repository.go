package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// DeviceAuthRepository implements domain.DeviceCodeStore.
type DeviceAuthRepository struct {
	coll *mongo.Collection
}

// NewDeviceAuthRepository creates a new MongoDB-backed device authorization
// store.
func NewDeviceAuthRepository(db *mongo.Database) *DeviceAuthRepository {
	return &DeviceAuthRepository{coll: db.Collection(DeviceAuthCollection)}
}

// SaveDeviceAuth implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) SaveDeviceAuth(ctx context.Context, auth *domain.DeviceCode) error {
	if auth.ID == "" {
		auth.ID = uuid.NewString()
	}
	if auth.CreatedAt.IsZero() {
		auth.CreatedAt = time.Now().UTC()
	}

	_, err := r.coll.InsertOne(ctx, auth)
	return err
}

// GetDeviceAuthByDeviceCode implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) GetDeviceAuthByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceCode, error) {
	var result domain.DeviceCode
	err := r.coll.FindOne(ctx, bson.M{"device_code": deviceCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

// GetDeviceAuthByUserCode implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*domain.DeviceCode, error) {
	var result domain.DeviceCode
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	err := r.coll.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ApproveDeviceAuth implements domain.DeviceCodeStore. The pending status
// in the filter makes approval a compare-and-set.
func (r *DeviceAuthRepository) ApproveDeviceAuth(ctx context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     domain.DeviceCodeStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":  domain.DeviceCodeStatusAuthorized,
			"user_id": userID,
		},
	}

	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated domain.DeviceCode
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := r.GetDeviceAuthByUserCode(ctx, userCode); getErr != nil {
				return nil, getErr
			}
			return nil, serrors.ErrConflict
		}
		return nil, err
	}

	return &updated, nil
}

// UpdateDeviceAuthStatus implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) UpdateDeviceAuthStatus(ctx context.Context, deviceCode string, status domain.DeviceCodeStatus) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"device_code": deviceCode},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

// UpdateDeviceAuthLastPolledAt implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) UpdateDeviceAuthLastPolledAt(ctx context.Context, deviceCode string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"device_code": deviceCode},
		bson.M{"$set": bson.M{"last_polled_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

// DeleteExpiredDeviceAuths implements domain.DeviceCodeStore.
func (r *DeviceAuthRepository) DeleteExpiredDeviceAuths(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
