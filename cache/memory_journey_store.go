package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/journey"
)

// MemoryJourneyStateStore implements domain.JourneyStateStore with a TTL
// cache. Journey state is exclusively owned by the engine for the lifetime
// of one flow, so plain last-write-wins semantics are sufficient.
type MemoryJourneyStateStore struct {
	cache *ttlcache.Cache[string, *domain.JourneyState]
}

// NewMemoryJourneyStateStore creates a new in-memory journey state store.
func NewMemoryJourneyStateStore() *MemoryJourneyStateStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.JourneyState](),
	)
	go cache.Start()

	return &MemoryJourneyStateStore{cache: cache}
}

// Get implements domain.JourneyStateStore.
func (s *MemoryJourneyStateStore) Get(_ context.Context, journeyID string) (*domain.JourneyState, error) {
	item := s.cache.Get(journeyID)
	if item == nil {
		return nil, serrors.ErrJourneyNotFound
	}
	return item.Value(), nil
}

// Save implements domain.JourneyStateStore.
func (s *MemoryJourneyStateStore) Save(_ context.Context, state *domain.JourneyState) error {
	s.cache.Set(state.JourneyID, state, time.Until(state.ExpiresAt))
	return nil
}

// Delete implements domain.JourneyStateStore.
func (s *MemoryJourneyStateStore) Delete(_ context.Context, journeyID string) error {
	s.cache.Delete(journeyID)
	return nil
}

// GetByUser implements domain.JourneyStateStore.
func (s *MemoryJourneyStateStore) GetByUser(_ context.Context, userID string) ([]*domain.JourneyState, error) {
	var out []*domain.JourneyState
	for _, item := range s.cache.Items() {
		if item.Value().UserID == userID {
			out = append(out, item.Value())
		}
	}
	return out, nil
}

// CleanupExpired implements domain.JourneyStateStore.
func (s *MemoryJourneyStateStore) CleanupExpired(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Close stops the background cleanup loop.
func (s *MemoryJourneyStateStore) Close() {
	s.cache.Stop()
}

// MemoryJourneyPolicyStore implements domain.JourneyPolicyStore over a
// plain map. Policies are configuration, not grant state; they have no TTL.
type MemoryJourneyPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.JourneyPolicy
}

// NewMemoryJourneyPolicyStore creates an empty in-memory policy store.
func NewMemoryJourneyPolicyStore() *MemoryJourneyPolicyStore {
	return &MemoryJourneyPolicyStore{policies: make(map[string]*domain.JourneyPolicy)}
}

// GetByID implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) GetByID(_ context.Context, id string) (*domain.JourneyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, serrors.ErrJourneyPolicyNotFound
	}
	return p, nil
}

// GetByType implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) GetByType(_ context.Context, journeyType domain.JourneyType) ([]*domain.JourneyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.JourneyPolicy
	for _, p := range s.policies {
		if p.Type == journeyType {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetByTenant implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) GetByTenant(_ context.Context, tenantID string) ([]*domain.JourneyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.JourneyPolicy
	for _, p := range s.policies {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindMatching implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) FindMatching(_ context.Context, matchCtx domain.PolicyMatchContext) (*domain.JourneyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*domain.JourneyPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		candidates = append(candidates, p)
	}
	return journey.MatchPolicies(candidates, matchCtx), nil
}

// Save implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) Save(_ context.Context, policy *domain.JourneyPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ID] = policy
	return nil
}

// Delete implements domain.JourneyPolicyStore.
func (s *MemoryJourneyPolicyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.policies, id)
	return nil
}
