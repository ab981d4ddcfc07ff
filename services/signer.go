package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"go.oluso.dev/idp/domain"
)

var ErrInvalidKeyID = errors.New("invalid key id")

type TokenSignerFunc func(claims jwt.Claims) (string, error)

// TokenSigner holds the signing keys the issuer mints tokens with. It also
// serves as the SigningCredentialStore used to validate tokens presented
// back to the issuer, such as CIBA login_hint_token and id_token_hint
// values.
type TokenSigner struct {
	mu         sync.RWMutex
	keys       map[string]TokenSignerFunc
	validation []domain.ValidationKey
	defaultKid string
}

// NewTokenSigner creates a new TokenSigner instance.
func NewTokenSigner() *TokenSigner {
	return &TokenSigner{
		keys: make(map[string]TokenSignerFunc),
	}
}

// AddKeySigner registers an HS256 signer under the given key ID. The first
// registered key becomes the default.
func (s *TokenSigner) AddKeySigner(kid, secretKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[kid] = func(claims jwt.Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		token.Header["kid"] = kid

		tokenString, err := token.SignedString([]byte(secretKey))
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return tokenString, nil
	}
	s.validation = append(s.validation, domain.ValidationKey{
		KeyID:     kid,
		Algorithm: "HS256",
		Key:       []byte(secretKey),
	})
	if s.defaultKid == "" {
		s.defaultKid = kid
	}
}

// AddRSASigner registers an RS256 signer under the given key ID. The first
// registered key becomes the default.
func (s *TokenSigner) AddRSASigner(kid string, key *rsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[kid] = func(claims jwt.Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid

		tokenString, err := token.SignedString(key)
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return tokenString, nil
	}
	s.validation = append(s.validation, domain.ValidationKey{
		KeyID:     kid,
		Algorithm: "RS256",
		Key:       &key.PublicKey,
	})
	if s.defaultKid == "" {
		s.defaultKid = kid
	}
}

// DefaultKeyID returns the key ID used when callers do not name one.
func (s *TokenSigner) DefaultKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultKid
}

// Sign signs the claims with the named key, or the default key when keyID
// is empty.
func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if keyID == "" {
		keyID = s.defaultKid
	}
	if signer, ok := s.keys[keyID]; ok {
		return signer(claims)
	}
	return "", ErrInvalidKeyID
}

// GetValidationKeys implements domain.SigningCredentialStore.
func (s *TokenSigner) GetValidationKeys(_ context.Context) ([]domain.ValidationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ValidationKey, len(s.validation))
	copy(out, s.validation)
	return out, nil
}
