package mongodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/mongodb/testutil"
)

func TestCibaRepository_StatusTransitions(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "idp_ciba_test")
	defer cleanup()

	repo := NewCibaRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-1",
		ClientID:  "poll-app",
		SubjectID: "u-1",
		Status:    domain.CibaStatusPending,
		ExpiresAt: time.Now().Add(5 * time.Minute).UTC(),
	}))

	err := repo.UpdateStatus(ctx, "req-1", domain.CibaStatusPending, domain.CibaStatusApproved, "sess-1")
	require.NoError(t, err)

	got, err := repo.GetByAuthReqID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CibaStatusApproved, got.Status)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.False(t, got.ResolvedAt.IsZero())

	err = repo.UpdateStatus(ctx, "req-1", domain.CibaStatusPending, domain.CibaStatusDenied, "")
	assert.ErrorIs(t, err, serrors.ErrConflict)

	err = repo.UpdateStatus(ctx, "missing", domain.CibaStatusPending, domain.CibaStatusApproved, "")
	assert.ErrorIs(t, err, serrors.ErrCibaRequestNotFound)
}

func TestCibaRepository_ConcurrentConsumeHasOneWinner(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "idp_ciba_test")
	defer cleanup()

	repo := NewCibaRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.StoreRequest(ctx, &domain.CibaRequest{
		AuthReqID: "req-1",
		Status:    domain.CibaStatusApproved,
		ExpiresAt: time.Now().Add(5 * time.Minute).UTC(),
	}))

	const attempts = 8
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.UpdateStatus(ctx, "req-1", domain.CibaStatusApproved, domain.CibaStatusConsumed, "")
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

func TestAuthCodeRepository_ConsumeIsExactlyOnce(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "idp_authcode_test")
	defer cleanup()

	repo := NewAuthCodeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveAuthCode(ctx, &domain.AuthCode{
		Code:      "code-1",
		ClientID:  "web-app",
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}))

	first, err := repo.ConsumeAuthCode(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, first.Used)

	_, err = repo.ConsumeAuthCode(ctx, "code-1")
	assert.ErrorIs(t, err, serrors.ErrConflict)

	_, err = repo.ConsumeAuthCode(ctx, "missing")
	assert.ErrorIs(t, err, serrors.ErrAuthCodeNotFound)
}
