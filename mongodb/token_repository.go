package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// TokenRepository implements domain.TokenRepository.
type TokenRepository struct {
	coll *mongo.Collection
}

// NewTokenRepository creates a new MongoDB-backed token repository.
func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{coll: db.Collection(TokensCollection)}
}

// StoreToken implements domain.TokenRepository.
func (r *TokenRepository) StoreToken(ctx context.Context, token *domain.Token) error {
	_, err := r.coll.InsertOne(ctx, token)
	return err
}

// GetAccessToken implements domain.TokenRepository.
func (r *TokenRepository) GetAccessToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	return r.getByType(ctx, tokenValue, "access_token")
}

// GetRefreshToken implements domain.TokenRepository.
func (r *TokenRepository) GetRefreshToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	return r.getByType(ctx, tokenValue, "refresh_token")
}

// RevokeToken implements domain.TokenRepository. Revoking an unknown value
// is not an error.
func (r *TokenRepository) RevokeToken(ctx context.Context, tokenValue string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"token_value": tokenValue},
		bson.M{"$set": bson.M{"is_revoked": true}})
	return err
}

// RevokeAllUserTokens implements domain.TokenRepository.
func (r *TokenRepository) RevokeAllUserTokens(ctx context.Context, userID string) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_revoked": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"is_revoked": true}})
	return err
}

// DeleteExpiredTokens implements domain.TokenRepository.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}

func (r *TokenRepository) getByType(ctx context.Context, tokenValue, tokenType string) (*domain.Token, error) {
	var token domain.Token
	err := r.coll.FindOne(ctx, bson.M{
		"token_value": tokenValue,
		"token_type":  tokenType,
	}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}
