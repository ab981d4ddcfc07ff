package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/protocol"
)

type mockAuthCodeStore struct {
	mock.Mock
}

func (m *mockAuthCodeStore) SaveAuthCode(ctx context.Context, code *domain.AuthCode) error {
	return m.Called(ctx, code).Error(0)
}

func (m *mockAuthCodeStore) GetAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthCode), args.Error(1)
}

func (m *mockAuthCodeStore) ConsumeAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthCode), args.Error(1)
}

func (m *mockAuthCodeStore) DeleteExpiredAuthCodes(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockDeviceCodeStore struct {
	mock.Mock
}

func (m *mockDeviceCodeStore) SaveDeviceAuth(ctx context.Context, auth *domain.DeviceCode) error {
	return m.Called(ctx, auth).Error(0)
}

func (m *mockDeviceCodeStore) GetDeviceAuthByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceCode, error) {
	args := m.Called(ctx, deviceCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceCode), args.Error(1)
}

func (m *mockDeviceCodeStore) GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*domain.DeviceCode, error) {
	args := m.Called(ctx, userCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceCode), args.Error(1)
}

func (m *mockDeviceCodeStore) ApproveDeviceAuth(ctx context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	args := m.Called(ctx, userCode, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceCode), args.Error(1)
}

func (m *mockDeviceCodeStore) UpdateDeviceAuthStatus(ctx context.Context, deviceCode string, status domain.DeviceCodeStatus) error {
	return m.Called(ctx, deviceCode, status).Error(0)
}

func (m *mockDeviceCodeStore) UpdateDeviceAuthLastPolledAt(ctx context.Context, deviceCode string) error {
	return m.Called(ctx, deviceCode).Error(0)
}

func (m *mockDeviceCodeStore) DeleteExpiredDeviceAuths(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) StoreToken(ctx context.Context, token *domain.Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockTokenRepo) GetAccessToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	args := m.Called(ctx, tokenValue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Token), args.Error(1)
}

func (m *mockTokenRepo) GetRefreshToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	args := m.Called(ctx, tokenValue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Token), args.Error(1)
}

func (m *mockTokenRepo) RevokeToken(ctx context.Context, tokenValue string) error {
	return m.Called(ctx, tokenValue).Error(0)
}

func (m *mockTokenRepo) RevokeAllUserTokens(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockTokenRepo) DeleteExpiredTokens(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockClientStore struct {
	mock.Mock
}

func (m *mockClientStore) CreateClient(ctx context.Context, cl *client.Client) error {
	return m.Called(ctx, cl).Error(0)
}

func (m *mockClientStore) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Client), args.Error(1)
}

func (m *mockClientStore) UpdateClient(ctx context.Context, cl *client.Client) error {
	return m.Called(ctx, cl).Error(0)
}

func (m *mockClientStore) DeleteClient(ctx context.Context, clientID string) error {
	return m.Called(ctx, clientID).Error(0)
}

func (m *mockClientStore) ListClients(ctx context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*client.Client), args.Error(1)
}

func (m *mockClientStore) ValidateClient(ctx context.Context, clientID, clientSecret string) (*client.Client, error) {
	args := m.Called(ctx, clientID, clientSecret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Client), args.Error(1)
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func webClient() *client.Client {
	return &client.Client{
		ID:                "web-app",
		Type:              client.Confidential,
		Secret:            "s3cret",
		TenantID:          "t1",
		IsActive:          true,
		AllowedScopes:     []string{"openid", "profile", "email"},
		AllowedGrantTypes: []string{"authorization_code", "refresh_token"},
		RedirectURIs:      []string{"https://app.example.com/cb"},
		RequirePKCE:       true,
	}
}

func newTestOAuthService(authCodes domain.AuthCodeStore, deviceCodes domain.DeviceCodeStore, repo domain.TokenRepository, users domain.UserService) *OAuthService {
	signer := NewTokenSigner()
	signer.AddKeySigner("test-key", "test-secret-test-secret-test-secret")
	tokens := NewTokenService(repo, signer, users, "https://idp.example.com")
	return NewOAuthService(nil, authCodes, deviceCodes, nil, tokens)
}

func TestExchangeAuthorizationCode_Success(t *testing.T) {
	authCodes := new(mockAuthCodeStore)
	repo := new(mockTokenRepo)
	users := new(mockUserService)

	verifier := "verifier-value-verifier-value-verifier-value"
	challenge := s256Challenge(verifier)

	authCodes.On("ConsumeAuthCode", mock.Anything, "code-1").Return(&domain.AuthCode{
		Code:                "code-1",
		ClientID:            "web-app",
		UserID:              "u-1",
		TenantID:            "t1",
		RedirectURI:         "https://app.example.com/cb",
		Scope:               "openid profile",
		ExpiresAt:           time.Now().Add(time.Minute),
		CodeChallenge:       challenge,
		CodeChallengeMethod: protocol.CodeChallengeMethodS256,
		Nonce:               "n-1",
		AuthTime:            time.Now().Add(-time.Minute),
	}, nil)
	repo.On("StoreToken", mock.Anything, mock.Anything).Return(nil)
	users.On("FindByID", mock.Anything, "u-1").Return(&domain.User{ID: "u-1", Email: "a@b.com", Roles: []string{"user"}}, nil)

	svc := newTestOAuthService(authCodes, nil, repo, users)
	resp, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:    protocol.GrantTypeAuthorizationCode,
		Code:         "code-1",
		RedirectURI:  "https://app.example.com/cb",
		CodeVerifier: verifier,
	}, webClient(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "openid profile", resp.Scope)
}

func TestExchangeAuthorizationCode_PKCEFailsClosed(t *testing.T) {
	authCodes := new(mockAuthCodeStore)
	authCodes.On("ConsumeAuthCode", mock.Anything, "code-1").Return(&domain.AuthCode{
		Code:                "code-1",
		ClientID:            "web-app",
		RedirectURI:         "https://app.example.com/cb",
		ExpiresAt:           time.Now().Add(time.Minute),
		CodeChallenge:       s256Challenge("right-verifier-right-verifier-right-verifier"),
		CodeChallengeMethod: protocol.CodeChallengeMethodS256,
	}, nil)

	svc := newTestOAuthService(authCodes, nil, new(mockTokenRepo), new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:    protocol.GrantTypeAuthorizationCode,
		Code:         "code-1",
		RedirectURI:  "https://app.example.com/cb",
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier",
	}, webClient(), "")
	requireOAuthError(t, err, serrors.InvalidGrant)
}

func TestExchangeAuthorizationCode_RedirectMismatch(t *testing.T) {
	authCodes := new(mockAuthCodeStore)
	authCodes.On("ConsumeAuthCode", mock.Anything, "code-1").Return(&domain.AuthCode{
		Code:        "code-1",
		ClientID:    "web-app",
		RedirectURI: "https://app.example.com/cb",
		ExpiresAt:   time.Now().Add(time.Minute),
	}, nil)

	svc := newTestOAuthService(authCodes, nil, new(mockTokenRepo), new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:   protocol.GrantTypeAuthorizationCode,
		Code:        "code-1",
		RedirectURI: "https://evil.example.com/cb",
	}, webClient(), "")
	requireOAuthError(t, err, serrors.InvalidGrant)
}

func TestExchangeAuthorizationCode_ReplayRejected(t *testing.T) {
	authCodes := new(mockAuthCodeStore)
	authCodes.On("ConsumeAuthCode", mock.Anything, "code-1").Return(nil, serrors.ErrConflict)

	svc := newTestOAuthService(authCodes, nil, new(mockTokenRepo), new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:   protocol.GrantTypeAuthorizationCode,
		Code:        "code-1",
		RedirectURI: "https://app.example.com/cb",
	}, webClient(), "")
	requireOAuthError(t, err, serrors.InvalidGrant)
}

func TestExchangeAuthorizationCode_DPoPBindingContinuity(t *testing.T) {
	authCodes := new(mockAuthCodeStore)
	authCodes.On("ConsumeAuthCode", mock.Anything, "code-1").Return(&domain.AuthCode{
		Code:              "code-1",
		ClientID:          "web-app",
		RedirectURI:       "https://app.example.com/cb",
		ExpiresAt:         time.Now().Add(time.Minute),
		DPoPKeyThumbprint: "jkt-original",
	}, nil)

	svc := newTestOAuthService(authCodes, nil, new(mockTokenRepo), new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:   protocol.GrantTypeAuthorizationCode,
		Code:        "code-1",
		RedirectURI: "https://app.example.com/cb",
	}, webClient(), "jkt-other")
	requireOAuthError(t, err, serrors.InvalidDPoPProof)
}

func TestRefreshTokenGrant_RotatesAndBinds(t *testing.T) {
	repo := new(mockTokenRepo)
	users := new(mockUserService)

	repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(&domain.Token{
		ID:                "tok-1",
		TokenType:         "refresh_token",
		TokenValue:        "rt-1",
		ClientID:          "web-app",
		UserID:            "u-1",
		TenantID:          "t1",
		Scope:             "openid profile",
		ExpiresAt:         time.Now().Add(time.Hour),
		DPoPKeyThumbprint: "jkt-1",
	}, nil)
	repo.On("RevokeToken", mock.Anything, "rt-1").Return(nil)
	repo.On("StoreToken", mock.Anything, mock.Anything).Return(nil)
	users.On("FindByID", mock.Anything, "u-1").Return(&domain.User{ID: "u-1"}, nil)

	svc := newTestOAuthService(new(mockAuthCodeStore), nil, repo, users)
	resp, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:    protocol.GrantTypeRefreshToken,
		RefreshToken: "rt-1",
	}, webClient(), "jkt-1")
	require.NoError(t, err)

	assert.Equal(t, "DPoP", resp.TokenType)
	assert.NotEqual(t, "rt-1", resp.RefreshToken)
	repo.AssertCalled(t, "RevokeToken", mock.Anything, "rt-1")
}

func TestRefreshTokenGrant_WrongKeyRejected(t *testing.T) {
	repo := new(mockTokenRepo)
	repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(&domain.Token{
		TokenValue:        "rt-1",
		ClientID:          "web-app",
		ExpiresAt:         time.Now().Add(time.Hour),
		DPoPKeyThumbprint: "jkt-1",
	}, nil)

	svc := newTestOAuthService(new(mockAuthCodeStore), nil, repo, new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:    protocol.GrantTypeRefreshToken,
		RefreshToken: "rt-1",
	}, webClient(), "jkt-stolen")
	requireOAuthError(t, err, serrors.InvalidDPoPProof)
}

func TestRefreshTokenGrant_ScopeNarrowingOnly(t *testing.T) {
	repo := new(mockTokenRepo)
	repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(&domain.Token{
		TokenValue: "rt-1",
		ClientID:   "web-app",
		UserID:     "u-1",
		Scope:      "openid profile",
		ExpiresAt:  time.Now().Add(time.Hour),
	}, nil)

	svc := newTestOAuthService(new(mockAuthCodeStore), nil, repo, new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:    protocol.GrantTypeRefreshToken,
		RefreshToken: "rt-1",
		Scope:        "openid email",
	}, webClient(), "")
	requireOAuthError(t, err, serrors.InvalidScope)
}

func TestDeviceCodeGrant_Lifecycle(t *testing.T) {
	deviceCodes := new(mockDeviceCodeStore)
	repo := new(mockTokenRepo)
	users := new(mockUserService)

	cl := webClient()
	cl.AllowedGrantTypes = []string{protocol.GrantTypeDeviceCode}

	pending := &domain.DeviceCode{
		DeviceCode: "dc-1",
		ClientID:   "web-app",
		Scope:      "openid",
		Status:     domain.DeviceCodeStatusPending,
		Interval:   5,
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	deviceCodes.On("GetDeviceAuthByDeviceCode", mock.Anything, "dc-1").Return(pending, nil)
	deviceCodes.On("UpdateDeviceAuthLastPolledAt", mock.Anything, "dc-1").Return(nil)

	svc := newTestOAuthService(new(mockAuthCodeStore), deviceCodes, repo, users)
	req := &protocol.TokenRequest{GrantType: protocol.GrantTypeDeviceCode, DeviceCode: "dc-1"}

	_, err := svc.Exchange(context.Background(), req, cl, "")
	assert.ErrorIs(t, err, serrors.ErrAuthorizationPending)

	// Polling again before the interval elapses is throttled.
	pending.LastPolledAt = time.Now()
	_, err = svc.Exchange(context.Background(), req, cl, "")
	assert.ErrorIs(t, err, serrors.ErrSlowDown)

	pending.Status = domain.DeviceCodeStatusAuthorized
	pending.UserID = "u-1"
	deviceCodes.On("UpdateDeviceAuthStatus", mock.Anything, "dc-1", domain.DeviceCodeStatusRedeemed).Return(nil)
	repo.On("StoreToken", mock.Anything, mock.Anything).Return(nil)
	users.On("FindByID", mock.Anything, "u-1").Return(&domain.User{ID: "u-1"}, nil)

	resp, err := svc.Exchange(context.Background(), req, cl, "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.IDToken)
}

func TestDeviceCodeGrant_Denied(t *testing.T) {
	deviceCodes := new(mockDeviceCodeStore)
	deviceCodes.On("GetDeviceAuthByDeviceCode", mock.Anything, "dc-1").Return(&domain.DeviceCode{
		DeviceCode: "dc-1",
		ClientID:   "web-app",
		Status:     domain.DeviceCodeStatusDenied,
		ExpiresAt:  time.Now().Add(time.Minute),
	}, nil)

	cl := webClient()
	cl.AllowedGrantTypes = []string{protocol.GrantTypeDeviceCode}

	svc := newTestOAuthService(new(mockAuthCodeStore), deviceCodes, new(mockTokenRepo), new(mockUserService))
	_, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType:  protocol.GrantTypeDeviceCode,
		DeviceCode: "dc-1",
	}, cl, "")
	assert.ErrorIs(t, err, serrors.ErrAccessDenied)
}

func TestClientCredentialsGrant(t *testing.T) {
	repo := new(mockTokenRepo)
	repo.On("StoreToken", mock.Anything, mock.MatchedBy(func(tok *domain.Token) bool {
		return tok.UserID == "" && tok.ClientID == "web-app"
	})).Return(nil)

	cl := webClient()
	cl.AllowedGrantTypes = []string{protocol.GrantTypeClientCredentials}

	svc := newTestOAuthService(new(mockAuthCodeStore), nil, repo, new(mockUserService))
	resp, err := svc.Exchange(context.Background(), &protocol.TokenRequest{
		GrantType: protocol.GrantTypeClientCredentials,
		Scope:     "profile",
	}, cl, "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, resp.IDToken)
}

func TestValidateClient(t *testing.T) {
	svc := newTestOAuthService(new(mockAuthCodeStore), nil, new(mockTokenRepo), new(mockUserService))
	clients := new(mockClientStore)
	svc.clients = clients

	cl := webClient()
	clients.On("GetClient", mock.Anything, "web-app").Return(cl, nil)

	got, err := svc.ValidateClient(context.Background(), "web-app", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "web-app", got.ID)

	_, err = svc.ValidateClient(context.Background(), "web-app", "wrong")
	requireOAuthError(t, err, serrors.InvalidClient)
}

func TestNarrowScope(t *testing.T) {
	got, err := narrowScope("openid profile email", "openid email")
	require.NoError(t, err)
	assert.Equal(t, "openid email", got)

	_, err = narrowScope("openid", "openid admin")
	requireOAuthError(t, err, serrors.InvalidScope)
}

func TestGenerateUserCode_Shape(t *testing.T) {
	code, err := generateUserCode()
	require.NoError(t, err)
	assert.Len(t, code, deviceUserCodeLen+1)
	assert.Contains(t, code, "-")
	assert.NotContains(t, code, "0")
	assert.NotContains(t, code, "O")
}
