package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oluso.dev/idp/protocol"
)

const (
	parRequestURIPrefix = "urn:ietf:params:oauth:request_uri:"
	parLifetime         = 90 * time.Second
)

// PARService holds pushed authorization requests (RFC 9126) until the
// client redirects the user to the authorize endpoint with the request_uri.
// Each stored request is single use.
type PARService struct {
	cache *ttlcache.Cache[string, *parEntry]
}

type parEntry struct {
	clientID string
	request  *protocol.AuthorizeRequest
}

// NewPARService creates a new pushed authorization request store.
func NewPARService() *PARService {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *parEntry](),
	)
	go cache.Start()

	return &PARService{cache: cache}
}

// Push stores a validated authorize request and returns its request_uri and
// lifetime in seconds.
func (s *PARService) Push(_ context.Context, clientID string, req *protocol.AuthorizeRequest) (string, int, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", 0, fmt.Errorf("failed to generate request_uri: %w", err)
	}
	requestURI := parRequestURIPrefix + base64.RawURLEncoding.EncodeToString(b)

	s.cache.Set(requestURI, &parEntry{clientID: clientID, request: req}, parLifetime)

	return requestURI, int(parLifetime.Seconds()), nil
}

// Resolve redeems a request_uri for the stored request. The entry is
// removed on first use; a second redemption fails.
func (s *PARService) Resolve(_ context.Context, clientID, requestURI string) (*protocol.AuthorizeRequest, bool) {
	item := s.cache.Get(requestURI)
	if item == nil {
		return nil, false
	}
	s.cache.Delete(requestURI)

	entry := item.Value()
	if entry.clientID != clientID {
		return nil, false
	}
	return entry.request, true
}

// Close stops the background cleanup loop.
func (s *PARService) Close() {
	s.cache.Stop()
}
