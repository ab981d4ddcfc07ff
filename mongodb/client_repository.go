package mongodb

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.oluso.dev/idp/client"
	serrors "go.oluso.dev/idp/errors"
)

// ClientRepository implements client.ClientStore.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository creates a new MongoDB-backed client store.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{coll: db.Collection(ClientsCollection)}
}

// CreateClient implements client.ClientStore.
func (r *ClientRepository) CreateClient(ctx context.Context, cl *client.Client) error {
	now := time.Now().UTC()
	cl.CreatedAt = now
	cl.UpdatedAt = now

	_, err := r.coll.InsertOne(ctx, cl)
	if err != nil {
		var writeException mongo.WriteException
		if errors.As(err, &writeException) {
			for _, writeError := range writeException.WriteErrors {
				if writeError.Code == 11000 || writeError.Code == 11001 {
					return fmt.Errorf("client %s already exists: %w", cl.ID, err)
				}
			}
		}
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

// GetClient implements client.ClientStore.
func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	var cl client.Client
	err := r.coll.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&cl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrClientNotFound
		}
		return nil, err
	}
	return &cl, nil
}

// UpdateClient implements client.ClientStore.
func (r *ClientRepository) UpdateClient(ctx context.Context, cl *client.Client) error {
	cl.UpdatedAt = time.Now().UTC()

	result, err := r.coll.ReplaceOne(ctx, bson.M{"client_id": cl.ID}, cl)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrClientNotFound
	}
	return nil
}

// DeleteClient implements client.ClientStore.
func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"client_id": clientID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return serrors.ErrClientNotFound
	}
	return nil
}

// ListClients implements client.ClientStore.
func (r *ClientRepository) ListClients(ctx context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	query := bson.M{}
	if filter.Type != "" {
		query["client_type"] = filter.Type
	}
	if filter.TenantID != "" {
		query["tenant_id"] = filter.TenantID
	}
	if filter.IsActive {
		query["is_active"] = true
	}
	if filter.Search != "" {
		query["client_name"] = bson.M{"$regex": filter.Search, "$options": "i"}
	}

	cursor, err := r.coll.Find(ctx, query)
	if err != nil {
		return nil, err
	}

	var out []*client.Client
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateClient implements client.ClientStore.
func (r *ClientRepository) ValidateClient(ctx context.Context, clientID, clientSecret string) (*client.Client, error) {
	cl, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !cl.IsActive {
		return nil, errors.New("client is not active")
	}
	if cl.Type == client.Confidential {
		if subtle.ConstantTimeCompare([]byte(cl.Secret), []byte(clientSecret)) != 1 {
			return nil, errors.New("invalid client credentials")
		}
	}
	return cl, nil
}
