package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/domain"
)

// cachedTokenEntry is one cached token record.
type cachedTokenEntry struct {
	token     *domain.Token
	expiresAt time.Time
}

// CachedTokenRepository wraps a backing domain.TokenRepository with a
// read-through in-process cache. Lookups on the token endpoint hot path
// (introspection, revocation checks) are served from memory; writes and
// revocations go through to the backing store and invalidate the entry.
type CachedTokenRepository struct {
	backing domain.TokenRepository

	mu    sync.RWMutex
	cache map[string]*cachedTokenEntry
	done  chan struct{}
}

// NewCachedTokenRepository creates a caching wrapper around backing. The
// cleanup interval controls how often stale entries are swept.
func NewCachedTokenRepository(backing domain.TokenRepository, cleanupInterval time.Duration) *CachedTokenRepository {
	repo := &CachedTokenRepository{
		backing: backing,
		cache:   make(map[string]*cachedTokenEntry),
		done:    make(chan struct{}),
	}
	go repo.cleanupLoop(cleanupInterval)

	return repo
}

// StoreToken implements domain.TokenRepository.
func (r *CachedTokenRepository) StoreToken(ctx context.Context, token *domain.Token) error {
	if err := r.backing.StoreToken(ctx, token); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[HashToken(token.TokenValue)] = &cachedTokenEntry{token: token, expiresAt: token.ExpiresAt}
	r.mu.Unlock()

	return nil
}

// GetAccessToken implements domain.TokenRepository.
func (r *CachedTokenRepository) GetAccessToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	if cached := r.lookup(ctx, tokenValue, "access_token"); cached != nil {
		return cached, nil
	}

	token, err := r.backing.GetAccessToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	r.store(token)

	return token, nil
}

// GetRefreshToken implements domain.TokenRepository.
func (r *CachedTokenRepository) GetRefreshToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	if cached := r.lookup(ctx, tokenValue, "refresh_token"); cached != nil {
		return cached, nil
	}

	token, err := r.backing.GetRefreshToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	r.store(token)

	return token, nil
}

// RevokeToken implements domain.TokenRepository. The cached entry is
// dropped so the next lookup observes the revocation from the backing
// store.
func (r *CachedTokenRepository) RevokeToken(ctx context.Context, tokenValue string) error {
	r.mu.Lock()
	delete(r.cache, HashToken(tokenValue))
	r.mu.Unlock()

	return r.backing.RevokeToken(ctx, tokenValue)
}

// RevokeAllUserTokens implements domain.TokenRepository. The whole cache is
// dropped; per-user indexing is not worth the bookkeeping for a bulk
// administrative operation.
func (r *CachedTokenRepository) RevokeAllUserTokens(ctx context.Context, userID string) error {
	r.mu.Lock()
	r.cache = make(map[string]*cachedTokenEntry)
	r.mu.Unlock()

	return r.backing.RevokeAllUserTokens(ctx, userID)
}

// DeleteExpiredTokens implements domain.TokenRepository.
func (r *CachedTokenRepository) DeleteExpiredTokens(ctx context.Context) error {
	r.cleanup()
	return r.backing.DeleteExpiredTokens(ctx)
}

// Close stops the cleanup goroutine.
func (r *CachedTokenRepository) Close() {
	close(r.done)
}

func (r *CachedTokenRepository) lookup(ctx context.Context, tokenValue, tokenType string) *domain.Token {
	r.mu.RLock()
	entry, exists := r.cache[HashToken(tokenValue)]
	r.mu.RUnlock()

	if !exists || entry.token.TokenType != tokenType {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		r.mu.Lock()
		delete(r.cache, HashToken(tokenValue))
		r.mu.Unlock()
		return nil
	}

	log.Ctx(ctx).Debug().
		Str("token_type", tokenType).
		Msg("token cache hit")

	return entry.token
}

func (r *CachedTokenRepository) store(token *domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[HashToken(token.TokenValue)] = &cachedTokenEntry{token: token, expiresAt: token.ExpiresAt}
}

func (r *CachedTokenRepository) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for hash, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, hash)
		}
	}
}

func (r *CachedTokenRepository) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.done:
			return
		}
	}
}
