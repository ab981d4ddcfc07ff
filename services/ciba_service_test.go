package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

type mockCibaStore struct {
	mock.Mock
}

func (m *mockCibaStore) StoreRequest(ctx context.Context, req *domain.CibaRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockCibaStore) GetByAuthReqID(ctx context.Context, authReqID string) (*domain.CibaRequest, error) {
	args := m.Called(ctx, authReqID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CibaRequest), args.Error(1)
}

func (m *mockCibaStore) GetPendingBySubject(ctx context.Context, subjectID string) ([]*domain.CibaRequest, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CibaRequest), args.Error(1)
}

func (m *mockCibaStore) UpdateStatus(ctx context.Context, authReqID string, from, to domain.CibaStatus, sessionID string) error {
	return m.Called(ctx, authReqID, from, to, sessionID).Error(0)
}

func (m *mockCibaStore) UpdateLastPolledAt(ctx context.Context, authReqID string) error {
	return m.Called(ctx, authReqID).Error(0)
}

func (m *mockCibaStore) RemoveRequest(ctx context.Context, authReqID string) error {
	return m.Called(ctx, authReqID).Error(0)
}

func (m *mockCibaStore) RemoveExpiredRequests(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserService) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserService) FindByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyUser(ctx context.Context, user *domain.User, req *domain.CibaRequest) error {
	return m.Called(ctx, user, req).Error(0)
}

type staticKeyStore struct {
	keys []domain.ValidationKey
}

func (s *staticKeyStore) GetValidationKeys(_ context.Context) ([]domain.ValidationKey, error) {
	return s.keys, nil
}

func pollClient() *client.Client {
	return &client.Client{
		ID:                    "ciba-client",
		TenantID:              "t1",
		CibaTokenDeliveryMode: "poll",
		CibaRequestLifetime:   2 * time.Minute,
		CibaPollingInterval:   5,
	}
}

func newCibaTestService(store domain.CibaStore, users domain.UserService, notifier domain.CibaUserNotificationService) *CibaService {
	return NewCibaService(store, users, &staticKeyStore{}, notifier)
}

func TestCibaAuthenticate_PollFlow(t *testing.T) {
	store := new(mockCibaStore)
	users := new(mockUserService)
	user := &domain.User{ID: "u-1", Email: "user@example.com"}

	users.On("FindByEmail", mock.Anything, "user@example.com").Return(user, nil)
	store.On("StoreRequest", mock.Anything, mock.MatchedBy(func(req *domain.CibaRequest) bool {
		return req.SubjectID == "u-1" &&
			req.ClientID == "ciba-client" &&
			req.Status == domain.CibaStatusPending
	})).Return(nil)

	svc := newCibaTestService(store, users, nil)
	resp, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "user@example.com",
		Scope:     "openid",
	}, pollClient())
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AuthReqID)
	// 32 random bytes encode to 43 unpadded base64url characters.
	assert.Len(t, resp.AuthReqID, 43)
	assert.NotContains(t, resp.AuthReqID, "+")
	assert.NotContains(t, resp.AuthReqID, "/")
	assert.NotContains(t, resp.AuthReqID, "=")
	assert.Equal(t, 120, resp.ExpiresIn)
	assert.Equal(t, 5, resp.Interval)
	store.AssertExpectations(t)
}

func TestCibaAuthenticate_RequestedExpiryIsCapped(t *testing.T) {
	store := new(mockCibaStore)
	users := new(mockUserService)
	user := &domain.User{ID: "u-1", Email: "user@example.com"}

	users.On("FindByEmail", mock.Anything, "user@example.com").Return(user, nil)
	store.On("StoreRequest", mock.Anything, mock.Anything).Return(nil)

	svc := newCibaTestService(store, users, nil)

	resp, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint:       "user@example.com",
		RequestedExpiry: 86400,
	}, pollClient())
	require.NoError(t, err)
	assert.Equal(t, 120, resp.ExpiresIn)

	resp, err = svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint:       "user@example.com",
		RequestedExpiry: 30,
	}, pollClient())
	require.NoError(t, err)
	assert.Equal(t, 30, resp.ExpiresIn)
}

func TestCibaAuthenticate_RequiresExactlyOneHint(t *testing.T) {
	svc := newCibaTestService(new(mockCibaStore), new(mockUserService), nil)

	_, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{}, pollClient())
	requireOAuthError(t, err, serrors.InvalidRequest)

	_, err = svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint:   "a@b.com",
		IDTokenHint: "eyJ...",
	}, pollClient())
	requireOAuthError(t, err, serrors.InvalidRequest)
}

func TestCibaAuthenticate_PingRequiresNotificationToken(t *testing.T) {
	svc := newCibaTestService(new(mockCibaStore), new(mockUserService), nil)

	cl := pollClient()
	cl.CibaTokenDeliveryMode = "ping"
	cl.CibaNotificationEndpoint = "https://client.example.com/ciba"

	_, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "user@example.com",
	}, cl)
	requireOAuthError(t, err, serrors.InvalidRequest)
}

func TestCibaAuthenticate_PingRequiresEndpoint(t *testing.T) {
	svc := newCibaTestService(new(mockCibaStore), new(mockUserService), nil)

	cl := pollClient()
	cl.CibaTokenDeliveryMode = "ping"

	_, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint:               "user@example.com",
		ClientNotificationToken: "tok",
	}, cl)
	requireOAuthError(t, err, serrors.InvalidRequest)
}

func TestCibaAuthenticate_UnresolvableHint(t *testing.T) {
	store := new(mockCibaStore)
	users := new(mockUserService)
	users.On("FindByEmail", mock.Anything, "ghost").Return(nil, errors.New("not found"))
	users.On("FindByUsername", mock.Anything, "ghost").Return(nil, errors.New("not found"))
	users.On("FindByID", mock.Anything, "ghost").Return(nil, errors.New("not found"))

	svc := newCibaTestService(store, users, nil)
	_, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "ghost",
	}, pollClient())
	requireOAuthError(t, err, serrors.UnknownUserID)
}

func TestCibaAuthenticate_UserCodeRequired(t *testing.T) {
	svc := newCibaTestService(new(mockCibaStore), new(mockUserService), nil)

	cl := pollClient()
	cl.CibaRequireUserCode = true

	_, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "user@example.com",
	}, cl)
	requireOAuthError(t, err, serrors.MissingUserCode)
}

func TestCibaAuthenticate_NotificationFailureIsNotFatal(t *testing.T) {
	store := new(mockCibaStore)
	users := new(mockUserService)
	notifier := new(mockNotifier)
	user := &domain.User{ID: "u-1", Email: "user@example.com"}

	users.On("FindByEmail", mock.Anything, "user@example.com").Return(user, nil)
	store.On("StoreRequest", mock.Anything, mock.Anything).Return(nil)
	notifier.On("NotifyUser", mock.Anything, user, mock.Anything).Return(errors.New("device unreachable"))

	svc := newCibaTestService(store, users, notifier)
	resp, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "user@example.com",
	}, pollClient())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AuthReqID)
	notifier.AssertExpectations(t)
}

func TestCibaGetStatus_UnknownRequest(t *testing.T) {
	store := new(mockCibaStore)
	store.On("GetByAuthReqID", mock.Anything, "nope").Return(nil, serrors.ErrCibaRequestNotFound)

	svc := newCibaTestService(store, new(mockUserService), nil)
	_, err := svc.GetStatus(context.Background(), "nope", "ciba-client")
	requireOAuthError(t, err, serrors.ExpiredToken)
}

func TestCibaGetStatus_WrongClient(t *testing.T) {
	store := new(mockCibaStore)
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(&domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "someone-else",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil)

	svc := newCibaTestService(store, new(mockUserService), nil)
	_, err := svc.GetStatus(context.Background(), "req-1", "ciba-client")
	requireOAuthError(t, err, serrors.AccessDenied)
}

func TestCibaGetStatus_ExpiryTransitionIsIdempotent(t *testing.T) {
	store := new(mockCibaStore)
	expired := &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "ciba-client",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(expired, nil)
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusPending, domain.CibaStatusExpired, "").
		Return(nil).Once()
	// The racing second sweep loses the CAS and must still report expired.
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusPending, domain.CibaStatusExpired, "").
		Return(serrors.ErrConflict)

	svc := newCibaTestService(store, new(mockUserService), nil)

	_, err := svc.GetStatus(context.Background(), "req-1", "ciba-client")
	requireOAuthError(t, err, serrors.ExpiredToken)

	expired.Status = domain.CibaStatusPending
	_, err = svc.GetStatus(context.Background(), "req-1", "ciba-client")
	requireOAuthError(t, err, serrors.ExpiredToken)
}

func TestCibaApprove_OnlyFromPending(t *testing.T) {
	store := new(mockCibaStore)
	pending := &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "ciba-client",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(pending, nil)
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusPending, domain.CibaStatusApproved, "sess-1").
		Return(nil).Once()

	svc := newCibaTestService(store, new(mockUserService), nil)

	ok, err := svc.Approve(context.Background(), "req-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	pending.Status = domain.CibaStatusApproved
	ok, err = svc.Approve(context.Background(), "req-1", "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCibaDeny_SecondCallReturnsFalse(t *testing.T) {
	store := new(mockCibaStore)
	pending := &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "ciba-client",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(pending, nil)
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusPending, domain.CibaStatusDenied, "").
		Return(nil).Once()

	svc := newCibaTestService(store, new(mockUserService), nil)

	ok, err := svc.Deny(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	pending.Status = domain.CibaStatusDenied
	ok, err = svc.Deny(context.Background(), "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCibaConsume(t *testing.T) {
	store := new(mockCibaStore)
	req := &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "ciba-client",
		SubjectID: "u-1",
		Status:    domain.CibaStatusApproved,
		SessionID: "sess-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(req, nil)
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusApproved, domain.CibaStatusConsumed, "sess-1").
		Return(nil).Once()
	store.On("UpdateStatus", mock.Anything, "req-1", domain.CibaStatusApproved, domain.CibaStatusConsumed, "sess-1").
		Return(serrors.ErrConflict)

	svc := newCibaTestService(store, new(mockUserService), nil)

	consumed, err := svc.Consume(context.Background(), "req-1", "ciba-client")
	require.NoError(t, err)
	assert.Equal(t, domain.CibaStatusConsumed, consumed.Status)

	// A racing redemption loses the CAS and must not mint tokens.
	req.Status = domain.CibaStatusApproved
	_, err = svc.Consume(context.Background(), "req-1", "ciba-client")
	requireOAuthError(t, err, serrors.ExpiredToken)
}

func TestCibaConsume_PendingSurfacesAuthorizationPending(t *testing.T) {
	store := new(mockCibaStore)
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(&domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "ciba-client",
		Status:    domain.CibaStatusPending,
		Interval:  5,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil)
	store.On("UpdateLastPolledAt", mock.Anything, "req-1").Return(nil)

	svc := newCibaTestService(store, new(mockUserService), nil)
	_, err := svc.Consume(context.Background(), "req-1", "ciba-client")
	assert.ErrorIs(t, err, serrors.ErrAuthorizationPending)
	store.AssertCalled(t, "UpdateLastPolledAt", mock.Anything, "req-1")
}

func TestCibaConsume_FastPollAnswersSlowDown(t *testing.T) {
	store := new(mockCibaStore)
	store.On("GetByAuthReqID", mock.Anything, "req-1").Return(&domain.CibaRequest{
		AuthReqID:    "req-1",
		ClientID:     "ciba-client",
		Status:       domain.CibaStatusPending,
		Interval:     5,
		LastPolledAt: time.Now().Add(-time.Second),
		ExpiresAt:    time.Now().Add(time.Minute),
	}, nil)

	svc := newCibaTestService(store, new(mockUserService), nil)
	_, err := svc.Consume(context.Background(), "req-1", "ciba-client")
	assert.ErrorIs(t, err, serrors.ErrSlowDown)
	store.AssertNotCalled(t, "UpdateLastPolledAt", mock.Anything, mock.Anything)
}

func TestCibaCheckUserCode(t *testing.T) {
	store := new(mockCibaStore)
	users := new(mockUserService)
	user := &domain.User{ID: "u-1", Email: "user@example.com"}

	var stored *domain.CibaRequest
	users.On("FindByEmail", mock.Anything, "user@example.com").Return(user, nil)
	store.On("StoreRequest", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*domain.CibaRequest)
	}).Return(nil)

	svc := newCibaTestService(store, users, nil)
	resp, err := svc.Authenticate(context.Background(), &CibaAuthenticationRequest{
		LoginHint: "user@example.com",
		UserCode:  "1234",
	}, pollClient())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "1234", stored.UserCodeHash)
	assert.True(t, strings.HasPrefix(stored.UserCodeHash, "$2"))

	store.On("GetByAuthReqID", mock.Anything, resp.AuthReqID).Return(stored, nil)

	ok, err := svc.CheckUserCode(context.Background(), resp.AuthReqID, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckUserCode(context.Background(), resp.AuthReqID, "9999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var oauthErr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, code, oauthErr.Code)
}
