package dpop

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ReplayStore enforces JTI single use. Record must be an atomic
// insert-if-absent: of two racing presentations of the same jti exactly one
// sees replay == false.
type ReplayStore interface {
	// Record registers a jti for ttl. It returns true when the jti was
	// already present, i.e. the proof is a replay.
	Record(ctx context.Context, jti string, ttl time.Duration) (replay bool, err error)
}

// NonceStore mints and validates server nonces for the use_dpop_nonce
// challenge flow.
type NonceStore interface {
	// Generate mints a fresh nonce valid for ttl.
	Generate(ctx context.Context, ttl time.Duration) (string, error)
	// Validate reports whether the nonce was minted by this server and has
	// not expired. Nonces stay valid until expiry; they are not single-use.
	Validate(ctx context.Context, nonce string) (bool, error)
}

// MemoryReplayStore is a ttlcache-backed ReplayStore for single-instance
// deployments. Multi-instance deployments must use the redis store so replay
// detection spans the fleet.
type MemoryReplayStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryReplayStore creates an in-memory replay store with automatic
// cleanup of expired entries.
func NewMemoryReplayStore() *MemoryReplayStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &MemoryReplayStore{cache: cache}
}

// Record implements ReplayStore. GetOrSet is the atomic insert-if-absent.
func (s *MemoryReplayStore) Record(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, fmt.Errorf("empty jti")
	}
	_, existed := s.cache.GetOrSet(jti, struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	return existed, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryReplayStore) Close() error {
	s.cache.Stop()
	return nil
}

// MemoryNonceStore is a ttlcache-backed NonceStore.
type MemoryNonceStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryNonceStore creates an in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &MemoryNonceStore{cache: cache}
}

// Generate implements NonceStore.
func (s *MemoryNonceStore) Generate(_ context.Context, ttl time.Duration) (string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	s.cache.Set(nonce, struct{}{}, ttl)
	return nonce, nil
}

// Validate implements NonceStore.
func (s *MemoryNonceStore) Validate(_ context.Context, nonce string) (bool, error) {
	return s.cache.Get(nonce) != nil, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryNonceStore) Close() error {
	s.cache.Stop()
	return nil
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
