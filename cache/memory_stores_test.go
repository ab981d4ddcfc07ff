package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

func TestMemoryAuthCodeStore_ConsumeIsExactlyOnce(t *testing.T) {
	store := NewMemoryAuthCodeStore()
	defer store.Close()
	ctx := context.Background()

	err := store.SaveAuthCode(ctx, &domain.AuthCode{
		Code:      "code-1",
		ClientID:  "web-app",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	first, err := store.ConsumeAuthCode(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, first.Used)

	_, err = store.ConsumeAuthCode(ctx, "code-1")
	assert.ErrorIs(t, err, serrors.ErrConflict)
}

func TestMemoryAuthCodeStore_ConcurrentConsumeHasOneWinner(t *testing.T) {
	store := NewMemoryAuthCodeStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveAuthCode(ctx, &domain.AuthCode{
		Code:      "code-1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}))

	const attempts = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthCode(ctx, "code-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryAuthCodeStore_UnknownCode(t *testing.T) {
	store := NewMemoryAuthCodeStore()
	defer store.Close()

	_, err := store.ConsumeAuthCode(context.Background(), "missing")
	assert.ErrorIs(t, err, serrors.ErrAuthCodeNotFound)
}

func TestMemoryCibaStore_UpdateStatusIsGuarded(t *testing.T) {
	store := NewMemoryCibaStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "poll-app",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	err := store.UpdateStatus(ctx, "req-1", domain.CibaStatusPending, domain.CibaStatusApproved, "sess-1")
	require.NoError(t, err)

	got, err := store.GetByAuthReqID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CibaStatusApproved, got.Status)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.False(t, got.ResolvedAt.IsZero())

	err = store.UpdateStatus(ctx, "req-1", domain.CibaStatusPending, domain.CibaStatusDenied, "")
	assert.ErrorIs(t, err, serrors.ErrConflict)
}

func TestMemoryCibaStore_ConcurrentConsumeHasOneWinner(t *testing.T) {
	store := NewMemoryCibaStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-1",
		Status:    domain.CibaStatusApproved,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	const attempts = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.UpdateStatus(ctx, "req-1", domain.CibaStatusApproved, domain.CibaStatusConsumed, "")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryCibaStore_GetPendingBySubject(t *testing.T) {
	store := NewMemoryCibaStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-1",
		SubjectID: "u-1",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))
	require.NoError(t, store.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-2",
		SubjectID: "u-1",
		Status:    domain.CibaStatusDenied,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))
	require.NoError(t, store.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-3",
		SubjectID: "u-2",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	pending, err := store.GetPendingBySubject(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "req-1", pending[0].AuthReqID)
}

func TestMemoryDeviceCodeStore_ApproveOnlyFromPending(t *testing.T) {
	store := NewMemoryDeviceCodeStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceAuth(ctx, &domain.DeviceCode{
		DeviceCode: "dev-1",
		UserCode:   "BCDF-GHJK",
		ClientID:   "tv-app",
		Status:     domain.DeviceCodeStatusPending,
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}))

	approved, err := store.ApproveDeviceAuth(ctx, "BCDF-GHJK", "u-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceCodeStatusAuthorized, approved.Status)
	assert.Equal(t, "u-1", approved.UserID)

	_, err = store.ApproveDeviceAuth(ctx, "BCDF-GHJK", "u-2")
	assert.ErrorIs(t, err, serrors.ErrConflict)

	byDevice, err := store.GetDeviceAuthByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byDevice.UserID)
}

func TestMemoryDeviceCodeStore_UserCodeLookup(t *testing.T) {
	store := NewMemoryDeviceCodeStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceAuth(ctx, &domain.DeviceCode{
		DeviceCode: "dev-1",
		UserCode:   "WXZB-CDFG",
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}))

	got, err := store.GetDeviceAuthByUserCode(ctx, "WXZB-CDFG")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.DeviceCode)

	_, err = store.GetDeviceAuthByUserCode(ctx, "XXXX-XXXX")
	assert.ErrorIs(t, err, serrors.ErrDeviceCodeNotFound)
}

func TestMemoryJourneyStateStore_RoundTrip(t *testing.T) {
	store := NewMemoryJourneyStateStore()
	defer store.Close()
	ctx := context.Background()

	state := &domain.JourneyState{
		JourneyID: "j-1",
		UserID:    "u-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)

	byUser, err := store.GetByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	require.NoError(t, store.Delete(ctx, "j-1"))
	_, err = store.Get(ctx, "j-1")
	assert.ErrorIs(t, err, serrors.ErrJourneyNotFound)
}

func TestMemoryJourneyPolicyStore_FindMatching(t *testing.T) {
	store := NewMemoryJourneyPolicyStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.JourneyPolicy{
		ID:       "global-login",
		Type:     domain.JourneyTypeLogin,
		Enabled:  true,
		Priority: 10,
	}))
	require.NoError(t, store.Save(ctx, &domain.JourneyPolicy{
		ID:       "tenant-login",
		Type:     domain.JourneyTypeLogin,
		TenantID: "t1",
		Enabled:  true,
		Priority: 10,
	}))

	matched, err := store.FindMatching(ctx, domain.PolicyMatchContext{
		Type:     domain.JourneyTypeLogin,
		TenantID: "t1",
	})
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, "tenant-login", matched.ID)

	none, err := store.FindMatching(ctx, domain.PolicyMatchContext{
		Type: domain.JourneyTypeSignup,
	})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryTokenRepository_RevocationAndTypeChecks(t *testing.T) {
	repo := NewMemoryTokenRepository()
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.StoreToken(ctx, &domain.Token{
		ID:         "tok-1",
		TokenType:  "refresh_token",
		TokenValue: "rt-1",
		UserID:     "u-1",
		ExpiresAt:  time.Now().Add(time.Hour),
	}))

	_, err := repo.GetAccessToken(ctx, "rt-1")
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)

	got, err := repo.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.False(t, got.IsRevoked)

	require.NoError(t, repo.RevokeAllUserTokens(ctx, "u-1"))
	got, err = repo.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
}
