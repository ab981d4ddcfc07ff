// Package cache provides the in-process implementations of the grant state
// stores. They are meant for single-instance and development use; a
// multi-instance deployment swaps in the redis subpackage behind the same
// interfaces.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// terminalRetention keeps finished ceremonies around long enough for the
// client's final poll to observe the outcome.
const terminalRetention = 10 * time.Minute

// MemoryCibaStore implements domain.CibaStore with a TTL cache. Status
// transitions take a store-wide lock, which gives the compare-and-swap
// semantics UpdateStatus requires.
type MemoryCibaStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.CibaRequest]
}

// NewMemoryCibaStore creates a new in-memory CIBA request store.
func NewMemoryCibaStore() *MemoryCibaStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.CibaRequest](),
	)
	go cache.Start()

	return &MemoryCibaStore{cache: cache}
}

// StoreRequest implements domain.CibaStore.
func (s *MemoryCibaStore) StoreRequest(_ context.Context, req *domain.CibaRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := time.Until(req.ExpiresAt) + terminalRetention
	s.cache.Set(req.AuthReqID, req, ttl)
	return nil
}

// GetByAuthReqID implements domain.CibaStore.
func (s *MemoryCibaStore) GetByAuthReqID(_ context.Context, authReqID string) (*domain.CibaRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(authReqID)
	if item == nil {
		return nil, serrors.ErrCibaRequestNotFound
	}

	cp := *item.Value()
	return &cp, nil
}

// GetPendingBySubject implements domain.CibaStore.
func (s *MemoryCibaStore) GetPendingBySubject(_ context.Context, subjectID string) ([]*domain.CibaRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.CibaRequest
	for _, item := range s.cache.Items() {
		req := item.Value()
		if req.SubjectID == subjectID && req.Status == domain.CibaStatusPending {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateStatus implements domain.CibaStore. The transition only happens
// when the request is still in the expected status; a lost race returns
// ErrConflict.
func (s *MemoryCibaStore) UpdateStatus(_ context.Context, authReqID string, from, to domain.CibaStatus, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(authReqID)
	if item == nil {
		return serrors.ErrCibaRequestNotFound
	}

	req := item.Value()
	if req.Status != from {
		return serrors.ErrConflict
	}

	req.Status = to
	if sessionID != "" {
		req.SessionID = sessionID
	}
	if to != domain.CibaStatusPending {
		req.ResolvedAt = time.Now().UTC()
	}
	return nil
}

// UpdateLastPolledAt implements domain.CibaStore.
func (s *MemoryCibaStore) UpdateLastPolledAt(_ context.Context, authReqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(authReqID)
	if item == nil {
		return serrors.ErrCibaRequestNotFound
	}

	item.Value().LastPolledAt = time.Now().UTC()
	return nil
}

// RemoveRequest implements domain.CibaStore.
func (s *MemoryCibaStore) RemoveRequest(_ context.Context, authReqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(authReqID)
	return nil
}

// RemoveExpiredRequests implements domain.CibaStore.
func (s *MemoryCibaStore) RemoveExpiredRequests(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Close stops the background cleanup loop.
func (s *MemoryCibaStore) Close() {
	s.cache.Stop()
}
