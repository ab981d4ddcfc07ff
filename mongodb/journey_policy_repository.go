package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/journey"
)

// JourneyPolicyRepository implements domain.JourneyPolicyStore. Candidate
// selection happens in the query; priority and condition evaluation is
// shared with the in-memory store through the journey package.
type JourneyPolicyRepository struct {
	coll *mongo.Collection
}

// NewJourneyPolicyRepository creates a new MongoDB-backed policy store.
func NewJourneyPolicyRepository(db *mongo.Database) *JourneyPolicyRepository {
	return &JourneyPolicyRepository{coll: db.Collection(JourneyPoliciesCollection)}
}

// GetByID implements domain.JourneyPolicyStore.
func (r *JourneyPolicyRepository) GetByID(ctx context.Context, id string) (*domain.JourneyPolicy, error) {
	var policy domain.JourneyPolicy
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&policy)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrJourneyPolicyNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// GetByType implements domain.JourneyPolicyStore.
func (r *JourneyPolicyRepository) GetByType(ctx context.Context, journeyType domain.JourneyType) ([]*domain.JourneyPolicy, error) {
	return r.find(ctx, bson.M{"type": journeyType})
}

// GetByTenant implements domain.JourneyPolicyStore.
func (r *JourneyPolicyRepository) GetByTenant(ctx context.Context, tenantID string) ([]*domain.JourneyPolicy, error) {
	return r.find(ctx, bson.M{"tenant_id": tenantID})
}

// FindMatching implements domain.JourneyPolicyStore. Enabled policies of
// the right type and tenant scope are fetched; final selection runs the
// shared matcher.
func (r *JourneyPolicyRepository) FindMatching(ctx context.Context, matchCtx domain.PolicyMatchContext) (*domain.JourneyPolicy, error) {
	filter := bson.M{
		"type":    matchCtx.Type,
		"enabled": true,
		"$or": []bson.M{
			{"tenant_id": matchCtx.TenantID},
			{"tenant_id": bson.M{"$in": []any{"", nil}}},
		},
	}
	candidates, err := r.find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return journey.MatchPolicies(candidates, matchCtx), nil
}

// Save implements domain.JourneyPolicyStore.
func (r *JourneyPolicyRepository) Save(ctx context.Context, policy *domain.JourneyPolicy) error {
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	opt := options.Replace().SetUpsert(true)
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": policy.ID}, policy, opt)
	return err
}

// Delete implements domain.JourneyPolicyStore.
func (r *JourneyPolicyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return serrors.ErrJourneyPolicyNotFound
	}
	return nil
}

func (r *JourneyPolicyRepository) find(ctx context.Context, filter bson.M) ([]*domain.JourneyPolicy, error) {
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []*domain.JourneyPolicy
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
