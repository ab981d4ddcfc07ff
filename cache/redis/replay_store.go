package redis

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore implements dpop.ReplayStore on Redis. SetNX is the
// cross-instance atomic insert-if-absent, so a proof replayed against a
// different instance is still caught.
type ReplayStore struct {
	client *redis.Client
	prefix string
}

// NewReplayStore creates a new Redis-backed proof replay store.
func NewReplayStore(client *redis.Client, prefix string) *ReplayStore {
	return &ReplayStore{client: client, prefix: prefix}
}

// Record registers a proof jti for ttl and reports whether it was already
// present.
func (r *ReplayStore) Record(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, fmt.Errorf("empty jti")
	}

	key := fmt.Sprintf("%s:dpop:jti:%s", r.prefix, jti)
	inserted, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record proof jti: %w", err)
	}

	return !inserted, nil
}

// NonceStore implements dpop.NonceStore on Redis so a nonce minted by one
// instance validates on any other.
type NonceStore struct {
	client *redis.Client
	prefix string
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *redis.Client, prefix string) *NonceStore {
	return &NonceStore{client: client, prefix: prefix}
}

func (r *NonceStore) key(nonce string) string {
	return fmt.Sprintf("%s:dpop:nonce:%s", r.prefix, nonce)
}

// Generate mints a fresh nonce valid for ttl.
func (r *NonceStore) Generate(ctx context.Context, ttl time.Duration) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(b)

	if err := r.client.Set(ctx, r.key(nonce), "1", ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}

	return nonce, nil
}

// Validate reports whether the nonce was minted by this deployment and has
// not expired.
func (r *NonceStore) Validate(ctx context.Context, nonce string) (bool, error) {
	count, err := r.client.Exists(ctx, r.key(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return count > 0, nil
}
