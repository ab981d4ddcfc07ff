package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// JourneyStateStore implements domain.JourneyStateStore with JSON values
// under per-journey keys.
type JourneyStateStore struct {
	client *redis.Client
	prefix string
}

// NewJourneyStateStore creates a new Redis-backed journey state store.
func NewJourneyStateStore(client *redis.Client, prefix string) *JourneyStateStore {
	return &JourneyStateStore{client: client, prefix: prefix}
}

func (r *JourneyStateStore) key(journeyID string) string {
	return fmt.Sprintf("%s:journey:%s", r.prefix, journeyID)
}

// Get implements domain.JourneyStateStore.
func (r *JourneyStateStore) Get(ctx context.Context, journeyID string) (*domain.JourneyState, error) {
	raw, err := r.client.Get(ctx, r.key(journeyID)).Result()
	if err == redis.Nil {
		return nil, serrors.ErrJourneyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journey state: %w", err)
	}

	var state domain.JourneyState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journey state: %w", err)
	}

	return &state, nil
}

// Save implements domain.JourneyStateStore.
func (r *JourneyStateStore) Save(ctx context.Context, state *domain.JourneyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal journey state: %w", err)
	}

	ttl := time.Until(state.ExpiresAt)
	if err := r.client.Set(ctx, r.key(state.JourneyID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store journey state: %w", err)
	}

	return nil
}

// Delete implements domain.JourneyStateStore.
func (r *JourneyStateStore) Delete(ctx context.Context, journeyID string) error {
	if err := r.client.Del(ctx, r.key(journeyID)).Err(); err != nil {
		return fmt.Errorf("failed to delete journey state: %w", err)
	}
	return nil
}

// GetByUser implements domain.JourneyStateStore.
func (r *JourneyStateStore) GetByUser(ctx context.Context, userID string) ([]*domain.JourneyState, error) {
	var out []*domain.JourneyState
	var cursor uint64
	pattern := r.key("*")

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey states: %w", err)
		}

		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var state domain.JourneyState
			if err := json.Unmarshal([]byte(raw), &state); err != nil {
				continue
			}
			if state.UserID == userID {
				out = append(out, &state)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

// CleanupExpired implements domain.JourneyStateStore. Redis evicts keys by
// TTL, so there is nothing to sweep.
func (r *JourneyStateStore) CleanupExpired(_ context.Context) error {
	return nil
}
