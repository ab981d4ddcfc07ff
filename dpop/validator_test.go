package dpop

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "go.oluso.dev/idp/errors"
)

type proofOptions struct {
	method string
	uri    string
	iat    time.Time
	jti    string
	ath    string
	nonce  string
	typ    string
}

func mintProof(t *testing.T, key *rsa.PrivateKey, opts proofOptions) string {
	t.Helper()

	if opts.jti == "" {
		opts.jti = uuid.NewString()
	}
	if opts.iat.IsZero() {
		opts.iat = time.Now()
	}
	if opts.typ == "" {
		opts.typ = HeaderTyp
	}

	claims := jwt.MapClaims{
		"jti": opts.jti,
		"htm": opts.method,
		"htu": opts.uri,
		"iat": opts.iat.Unix(),
	}
	if opts.ath != "" {
		claims["ath"] = opts.ath
	}
	if opts.nonce != "" {
		claims["nonce"] = opts.nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = opts.typ
	token.Header["jwk"] = map[string]any{
		"kty": "RSA",
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   "AQAB",
	}

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	replay := NewMemoryReplayStore()
	nonces := NewMemoryNonceStore()
	t.Cleanup(func() {
		_ = replay.Close()
		_ = nonces.Close()
	})
	return NewValidator(DefaultConfig(), replay, nonces)
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestValidate_Success(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{method: "POST", uri: "https://idp.example.com/oauth2/token"})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.JwkThumbprint)
	require.NotNil(t, res.JSONWebKey)
	assert.Equal(t, "RSA", res.JSONWebKey.Kty)
}

func TestValidate_HTUIgnoresQueryString(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{method: "GET", uri: "https://idp.example.com/userinfo"})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "GET",
		HTTPURL:    "https://idp.example.com:443/userinfo?access_token_hint=x#frag",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidate_MethodMismatch(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{method: "GET", uri: "https://idp.example.com/oauth2/token"})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, serrors.InvalidDPoPProof, res.ErrorCode)
	assert.Contains(t, res.ErrorDescription, "htm mismatch")
}

func TestValidate_WrongTyp(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{method: "POST", uri: "https://idp.example.com/oauth2/token", typ: "JWT"})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidate_StaleIAT(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{
		method: "POST",
		uri:    "https://idp.example.com/oauth2/token",
		iat:    time.Now().Add(-time.Hour),
	})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.ErrorDescription, "too old")
}

func TestValidate_FutureIAT(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{
		method: "POST",
		uri:    "https://idp.example.com/oauth2/token",
		iat:    time.Now().Add(time.Hour),
	})

	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidate_ReplayRejected(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	proof := mintProof(t, key, proofOptions{method: "POST", uri: "https://idp.example.com/oauth2/token"})
	vc := ValidationContext{
		Proof:      proof,
		HTTPMethod: "POST",
		HTTPURL:    "https://idp.example.com/oauth2/token",
	}

	first, err := v.Validate(context.Background(), vc)
	require.NoError(t, err)
	assert.True(t, first.Valid)

	second, err := v.Validate(context.Background(), vc)
	require.NoError(t, err)
	assert.False(t, second.Valid)
	assert.Contains(t, second.ErrorDescription, "already been used")
}

func TestValidate_NonceChallenge(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	// First attempt without a nonce: server must answer with a fresh one,
	// never silently succeed.
	proof := mintProof(t, key, proofOptions{method: "POST", uri: "https://idp.example.com/oauth2/token"})
	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:        proof,
		HTTPMethod:   "POST",
		HTTPURL:      "https://idp.example.com/oauth2/token",
		RequireNonce: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.NonceRequired)
	assert.NotEmpty(t, res.ServerNonce)
	assert.Equal(t, serrors.UseDPoPNonce, res.ErrorCode)

	// Retry with the issued nonce succeeds.
	retry := mintProof(t, key, proofOptions{
		method: "POST",
		uri:    "https://idp.example.com/oauth2/token",
		nonce:  res.ServerNonce,
	})
	res2, err := v.Validate(context.Background(), ValidationContext{
		Proof:        retry,
		HTTPMethod:   "POST",
		HTTPURL:      "https://idp.example.com/oauth2/token",
		RequireNonce: true,
	})
	require.NoError(t, err)
	assert.True(t, res2.Valid)
}

func TestValidate_AccessTokenHashBinding(t *testing.T) {
	v := newTestValidator(t)
	key := testKey(t)

	accessToken := "token-under-test"
	ath := ComputeAccessTokenHash(accessToken)

	proof := mintProof(t, key, proofOptions{
		method: "GET",
		uri:    "https://api.example.com/resource",
		ath:    ath,
	})
	res, err := v.Validate(context.Background(), ValidationContext{
		Proof:                   proof,
		HTTPMethod:              "GET",
		HTTPURL:                 "https://api.example.com/resource",
		ExpectedAccessTokenHash: ath,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	wrong := mintProof(t, key, proofOptions{
		method: "GET",
		uri:    "https://api.example.com/resource",
		ath:    ComputeAccessTokenHash("some-other-token"),
	})
	res2, err := v.Validate(context.Background(), ValidationContext{
		Proof:                   wrong,
		HTTPMethod:              "GET",
		HTTPURL:                 "https://api.example.com/resource",
		ExpectedAccessTokenHash: ath,
	})
	require.NoError(t, err)
	assert.False(t, res2.Valid)
}

func TestComputeAccessTokenHash(t *testing.T) {
	h1 := ComputeAccessTokenHash("abc")
	h2 := ComputeAccessTokenHash("abc")
	assert.Equal(t, h1, h2)
	assert.NotContains(t, h1, "=")
	assert.NotContains(t, h1, "+")
	assert.NotContains(t, h1, "/")

	// Known vector: SHA-256("abc") base64url.
	assert.Equal(t, "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0", h1)
}

func TestThumbprint_Deterministic(t *testing.T) {
	key := testKey(t)
	jwk := &JSONWebKey{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   "AQAB",
	}

	t1, err := jwk.Thumbprint()
	require.NoError(t, err)
	t2, err := jwk.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
	assert.False(t, strings.ContainsAny(t1, "+/="))
}

func TestPublicKey_RejectsPrivateMaterial(t *testing.T) {
	jwk := &JSONWebKey{Kty: "RSA", N: "AA", E: "AQAB", D: "c2VjcmV0"}
	_, err := jwk.PublicKey()
	assert.Error(t, err)
}
