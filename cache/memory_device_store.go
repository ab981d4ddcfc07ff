package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// MemoryDeviceCodeStore implements domain.DeviceCodeStore with a TTL cache
// keyed by device code, plus a user-code index for the verification UI.
type MemoryDeviceCodeStore struct {
	mu        sync.Mutex
	cache     *ttlcache.Cache[string, *domain.DeviceCode]
	byUserCode map[string]string
}

// NewMemoryDeviceCodeStore creates a new in-memory device authorization store.
func NewMemoryDeviceCodeStore() *MemoryDeviceCodeStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.DeviceCode](),
	)
	store := &MemoryDeviceCodeStore{
		cache:      cache,
		byUserCode: make(map[string]string),
	}
	cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *domain.DeviceCode]) {
		store.mu.Lock()
		defer store.mu.Unlock()
		delete(store.byUserCode, item.Value().UserCode)
	})
	go cache.Start()

	return store
}

// SaveDeviceAuth implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) SaveDeviceAuth(_ context.Context, auth *domain.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := time.Until(auth.ExpiresAt) + terminalRetention
	s.cache.Set(auth.DeviceCode, auth, ttl)
	s.byUserCode[auth.UserCode] = auth.DeviceCode
	return nil
}

// GetDeviceAuthByDeviceCode implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) GetDeviceAuthByDeviceCode(_ context.Context, deviceCode string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(deviceCode)
}

// GetDeviceAuthByUserCode implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) GetDeviceAuthByUserCode(_ context.Context, userCode string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.byUserCode[userCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	return s.getLocked(deviceCode)
}

// ApproveDeviceAuth implements domain.DeviceCodeStore. Approval only
// succeeds from the pending status; a repeat approval loses with
// ErrConflict.
func (s *MemoryDeviceCodeStore) ApproveDeviceAuth(_ context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.byUserCode[userCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	item := s.cache.Get(deviceCode)
	if item == nil {
		return nil, serrors.ErrDeviceCodeNotFound
	}

	record := item.Value()
	if record.Status != domain.DeviceCodeStatusPending {
		return nil, serrors.ErrConflict
	}
	record.Status = domain.DeviceCodeStatusAuthorized
	record.UserID = userID

	cp := *record
	return &cp, nil
}

// UpdateDeviceAuthStatus implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) UpdateDeviceAuthStatus(_ context.Context, deviceCode string, status domain.DeviceCodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(deviceCode)
	if item == nil {
		return serrors.ErrDeviceCodeNotFound
	}
	item.Value().Status = status
	return nil
}

// UpdateDeviceAuthLastPolledAt implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) UpdateDeviceAuthLastPolledAt(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(deviceCode)
	if item == nil {
		return serrors.ErrDeviceCodeNotFound
	}
	item.Value().LastPolledAt = time.Now().UTC()
	return nil
}

// DeleteExpiredDeviceAuths implements domain.DeviceCodeStore.
func (s *MemoryDeviceCodeStore) DeleteExpiredDeviceAuths(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Close stops the background cleanup loop.
func (s *MemoryDeviceCodeStore) Close() {
	s.cache.Stop()
}

func (s *MemoryDeviceCodeStore) getLocked(deviceCode string) (*domain.DeviceCode, error) {
	item := s.cache.Get(deviceCode)
	if item == nil {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	cp := *item.Value()
	return &cp, nil
}
