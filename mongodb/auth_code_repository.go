package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// AuthCodeRepository implements domain.AuthCodeStore. Redemption is a
// FindOneAndUpdate on used=false, making consumption atomic.
type AuthCodeRepository struct {
	coll *mongo.Collection
}

// NewAuthCodeRepository creates a new MongoDB-backed authorization code
// store.
func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{coll: db.Collection(CodesCollection)}
}

// SaveAuthCode implements domain.AuthCodeStore.
func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, authCode *domain.AuthCode) error {
	if authCode.Code == "" {
		return errors.New("auth code value cannot be empty")
	}
	if authCode.CreatedAt.IsZero() {
		authCode.CreatedAt = time.Now().UTC()
	}

	_, err := r.coll.InsertOne(ctx, authCode)
	if err != nil {
		var writeException mongo.WriteException
		if errors.As(err, &writeException) {
			for _, writeError := range writeException.WriteErrors {
				if writeError.Code == 11000 || writeError.Code == 11001 {
					return fmt.Errorf("authorization code already exists: %w", err)
				}
			}
		}
		log.Error().Err(err).Msg("error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	return nil
}

// GetAuthCode implements domain.AuthCodeStore.
func (r *AuthCodeRepository) GetAuthCode(ctx context.Context, codeValue string) (*domain.AuthCode, error) {
	var authCode domain.AuthCode
	err := r.coll.FindOne(ctx, bson.M{"code": codeValue}).Decode(&authCode)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrAuthCodeNotFound
		}
		return nil, fmt.Errorf("failed to retrieve authorization code: %w", err)
	}
	return &authCode, nil
}

// ConsumeAuthCode implements domain.AuthCodeStore.
func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, codeValue string) (*domain.AuthCode, error) {
	filter := bson.M{"code": codeValue, "used": false}
	update := bson.M{"$set": bson.M{"used": true}}

	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var authCode domain.AuthCode
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opt).Decode(&authCode)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := r.GetAuthCode(ctx, codeValue); getErr != nil {
				return nil, getErr
			}
			return nil, serrors.ErrConflict
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	return &authCode, nil
}

// DeleteExpiredAuthCodes implements domain.AuthCodeStore.
func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
