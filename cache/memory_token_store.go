package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// MemoryTokenRepository implements domain.TokenRepository using ttlcache.
// Records are keyed by token hash so opaque refresh tokens are never held
// in plaintext map keys.
type MemoryTokenRepository struct {
	mu     sync.Mutex
	cache  *ttlcache.Cache[string, *domain.Token]
	byUser map[string][]string
}

// NewMemoryTokenRepository creates a new in-memory token repository with
// automatic cleanup.
func NewMemoryTokenRepository() *MemoryTokenRepository {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Token](),
	)
	go cache.Start()

	return &MemoryTokenRepository{
		cache:  cache,
		byUser: make(map[string][]string),
	}
}

// StoreToken implements domain.TokenRepository.
func (s *MemoryTokenRepository) StoreToken(_ context.Context, token *domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := HashToken(token.TokenValue)
	s.cache.Set(hash, token, time.Until(token.ExpiresAt))
	if token.UserID != "" {
		s.byUser[token.UserID] = append(s.byUser[token.UserID], hash)
	}
	return nil
}

// GetAccessToken implements domain.TokenRepository.
func (s *MemoryTokenRepository) GetAccessToken(_ context.Context, tokenValue string) (*domain.Token, error) {
	return s.getByType(tokenValue, "access_token")
}

// GetRefreshToken implements domain.TokenRepository.
func (s *MemoryTokenRepository) GetRefreshToken(_ context.Context, tokenValue string) (*domain.Token, error) {
	return s.getByType(tokenValue, "refresh_token")
}

// RevokeToken implements domain.TokenRepository. Unknown tokens are not an
// error; revocation is idempotent.
func (s *MemoryTokenRepository) RevokeToken(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(HashToken(tokenValue))
	if item == nil {
		return nil
	}
	item.Value().IsRevoked = true
	return nil
}

// RevokeAllUserTokens implements domain.TokenRepository.
func (s *MemoryTokenRepository) RevokeAllUserTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, hash := range s.byUser[userID] {
		if item := s.cache.Get(hash); item != nil {
			item.Value().IsRevoked = true
		}
	}
	return nil
}

// DeleteExpiredTokens implements domain.TokenRepository.
func (s *MemoryTokenRepository) DeleteExpiredTokens(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryTokenRepository) Close() error {
	s.cache.Stop()
	return nil
}

func (s *MemoryTokenRepository) getByType(tokenValue, tokenType string) (*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(HashToken(tokenValue))
	if item == nil || item.Value().TokenType != tokenType {
		return nil, serrors.ErrTokenNotFound
	}

	record := item.Value()
	record.LastUsedAt = time.Now().UTC()

	cp := *record
	return &cp, nil
}
