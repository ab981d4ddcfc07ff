package cache

import (
	"context"
	"sync"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// MemoryUserStore implements domain.UserService over a map, for
// single-instance deployments with a statically provisioned directory and
// for tests.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryUserStore creates an empty in-memory user directory.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*domain.User)}
}

// AddUser registers a user, replacing any existing record with the same ID.
func (s *MemoryUserStore) AddUser(user *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
}

// FindByEmail implements domain.UserService.
func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, serrors.ErrUserNotFound
}

// FindByUsername implements domain.UserService.
func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, serrors.ErrUserNotFound
}

// FindByID implements domain.UserService.
func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, serrors.ErrUserNotFound
	}
	return u, nil
}
