package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

const hintTestSecret = "0123456789abcdef0123456789abcdef"

func newHintTestSigner(t *testing.T) *TokenSigner {
	t.Helper()

	signer := NewTokenSigner()
	signer.AddKeySigner("hint-key", hintTestSecret)
	return signer
}

func signHintToken(t *testing.T, signer *TokenSigner, claims jwt.RegisteredClaims) string {
	t.Helper()

	token, err := signer.Sign(claims, "hint-key")
	require.NoError(t, err)
	return token
}

func TestHintResolver_LoginHintTokenResolvesSubject(t *testing.T) {
	signer := newHintTestSigner(t)
	user := &domain.User{ID: "user-1", Username: "ada", IsActive: true}

	users := new(mockUserService)
	users.On("FindByID", mock.Anything, "user-1").Return(user, nil)

	token := signHintToken(t, signer, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})

	resolver := newHintResolver(users, signer)
	got := resolver.ResolveLoginHintToken(context.Background(), token)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.ID)
	users.AssertExpectations(t)
}

func TestHintResolver_LoginHintTokenRejectsExpired(t *testing.T) {
	signer := newHintTestSigner(t)
	users := new(mockUserService)

	token := signHintToken(t, signer, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	resolver := newHintResolver(users, signer)
	assert.Nil(t, resolver.ResolveLoginHintToken(context.Background(), token))
	users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestHintResolver_LoginHintTokenRejectsForeignSignature(t *testing.T) {
	foreign := NewTokenSigner()
	foreign.AddKeySigner("hint-key", "another-secret-another-secret-12")

	token := signHintToken(t, foreign, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})

	users := new(mockUserService)
	resolver := newHintResolver(users, newHintTestSigner(t))
	assert.Nil(t, resolver.ResolveLoginHintToken(context.Background(), token))
	users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestHintResolver_IDTokenHintRejectsAudienceMismatch(t *testing.T) {
	signer := newHintTestSigner(t)
	users := new(mockUserService)

	token := signHintToken(t, signer, jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"other-client"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})

	resolver := newHintResolver(users, signer)
	assert.Nil(t, resolver.ResolveIDTokenHint(context.Background(), token, "web-app"))
	users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

// An expired ID token still identifies who the client means; only the
// signature and audience gate resolution.
func TestHintResolver_IDTokenHintExpiredStillResolves(t *testing.T) {
	signer := newHintTestSigner(t)
	user := &domain.User{ID: "user-1", Username: "ada", IsActive: true}

	users := new(mockUserService)
	users.On("FindByID", mock.Anything, "user-1").Return(user, nil)

	token := signHintToken(t, signer, jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"web-app"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	resolver := newHintResolver(users, signer)
	got := resolver.ResolveIDTokenHint(context.Background(), token, "web-app")
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.ID)
}

func TestHintResolver_IDTokenHintUnknownSubject(t *testing.T) {
	signer := newHintTestSigner(t)

	users := new(mockUserService)
	users.On("FindByID", mock.Anything, "ghost").Return(nil, serrors.ErrUserNotFound)

	token := signHintToken(t, signer, jwt.RegisteredClaims{
		Subject:   "ghost",
		Audience:  jwt.ClaimStrings{"web-app"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})

	resolver := newHintResolver(users, signer)
	assert.Nil(t, resolver.ResolveIDTokenHint(context.Background(), token, "web-app"))
}
