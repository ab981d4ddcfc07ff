package cache

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"go.oluso.dev/idp/client"
	serrors "go.oluso.dev/idp/errors"
)

// MemoryClientStore implements client.ClientStore over a map. Useful for
// single-instance deployments with statically configured clients and for
// tests.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*client.Client
}

// NewMemoryClientStore creates an empty in-memory client store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*client.Client)}
}

// CreateClient implements client.ClientStore.
func (s *MemoryClientStore) CreateClient(_ context.Context, cl *client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[cl.ID]; exists {
		return errors.New("client already exists")
	}

	now := time.Now().UTC()
	cl.CreatedAt = now
	cl.UpdatedAt = now
	s.clients[cl.ID] = cl
	return nil
}

// GetClient implements client.ClientStore.
func (s *MemoryClientStore) GetClient(_ context.Context, clientID string) (*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cl, ok := s.clients[clientID]
	if !ok {
		return nil, serrors.ErrClientNotFound
	}
	return cl, nil
}

// UpdateClient implements client.ClientStore.
func (s *MemoryClientStore) UpdateClient(_ context.Context, cl *client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[cl.ID]; !ok {
		return serrors.ErrClientNotFound
	}
	cl.UpdatedAt = time.Now().UTC()
	s.clients[cl.ID] = cl
	return nil
}

// DeleteClient implements client.ClientStore.
func (s *MemoryClientStore) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return serrors.ErrClientNotFound
	}
	delete(s.clients, clientID)
	return nil
}

// ListClients implements client.ClientStore.
func (s *MemoryClientStore) ListClients(_ context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*client.Client
	for _, cl := range s.clients {
		if filter.Type != "" && cl.Type != filter.Type {
			continue
		}
		if filter.TenantID != "" && cl.TenantID != filter.TenantID {
			continue
		}
		if filter.IsActive && !cl.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(cl.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, cl)
	}
	return out, nil
}

// ValidateClient implements client.ClientStore.
func (s *MemoryClientStore) ValidateClient(ctx context.Context, clientID, clientSecret string) (*client.Client, error) {
	cl, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !cl.IsActive {
		return nil, errors.New("client is not active")
	}
	if cl.Type == client.Confidential {
		if subtle.ConstantTimeCompare([]byte(cl.Secret), []byte(clientSecret)) != 1 {
			return nil, errors.New("invalid client credentials")
		}
	}
	return cl, nil
}
