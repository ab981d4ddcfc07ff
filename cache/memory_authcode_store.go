package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// MemoryAuthCodeStore implements domain.AuthCodeStore with a TTL cache.
// Redemption takes a store-wide lock so of two concurrent consumers exactly
// one wins.
type MemoryAuthCodeStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.AuthCode]
}

// NewMemoryAuthCodeStore creates a new in-memory authorization code store.
func NewMemoryAuthCodeStore() *MemoryAuthCodeStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.AuthCode](),
	)
	go cache.Start()

	return &MemoryAuthCodeStore{cache: cache}
}

// SaveAuthCode implements domain.AuthCodeStore.
func (s *MemoryAuthCodeStore) SaveAuthCode(_ context.Context, code *domain.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(code.Code, code, time.Until(code.ExpiresAt))
	return nil
}

// GetAuthCode implements domain.AuthCodeStore.
func (s *MemoryAuthCodeStore) GetAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(code)
	if item == nil {
		return nil, serrors.ErrAuthCodeNotFound
	}

	cp := *item.Value()
	return &cp, nil
}

// ConsumeAuthCode implements domain.AuthCodeStore. The first redemption
// marks the code used and returns it; a concurrent second redemption
// observes the used flag and loses with ErrConflict.
func (s *MemoryAuthCodeStore) ConsumeAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(code)
	if item == nil {
		return nil, serrors.ErrAuthCodeNotFound
	}

	record := item.Value()
	if record.Used {
		return nil, serrors.ErrConflict
	}
	record.Used = true

	cp := *record
	return &cp, nil
}

// DeleteExpiredAuthCodes implements domain.AuthCodeStore.
func (s *MemoryAuthCodeStore) DeleteExpiredAuthCodes(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Close stops the background cleanup loop.
func (s *MemoryAuthCodeStore) Close() {
	s.cache.Stop()
}
