package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newCibaRequest() *domain.CibaRequest {
	now := time.Now().UTC()
	return &domain.CibaRequest{
		ID:           "req-1",
		AuthReqID:    "auth-req-1",
		ClientID:     "client-1",
		SubjectID:    "user-1",
		Scope:        "openid profile",
		Status:       domain.CibaStatusPending,
		UserCodeHash: "$2a$10$abcdefghijklmnopqrstuv",
		Interval:     5,
		ExpiresAt:    now.Add(2 * time.Minute),
		CreatedAt:    now,
	}
}

func TestCibaStore_RoundTripKeepsUserCodeHash(t *testing.T) {
	ctx := context.Background()
	store := NewCibaStore(newTestClient(t), "idp")

	req := newCibaRequest()
	require.NoError(t, store.StoreRequest(ctx, req))

	got, err := store.GetByAuthReqID(ctx, req.AuthReqID)
	require.NoError(t, err)

	assert.Equal(t, req.AuthReqID, got.AuthReqID)
	assert.Equal(t, req.SubjectID, got.SubjectID)
	assert.Equal(t, domain.CibaStatusPending, got.Status)
	assert.Equal(t, req.UserCodeHash, got.UserCodeHash)
}

func TestCibaStore_UpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewCibaStore(newTestClient(t), "idp")

	req := newCibaRequest()
	require.NoError(t, store.StoreRequest(ctx, req))

	err := store.UpdateStatus(ctx, req.AuthReqID,
		domain.CibaStatusPending, domain.CibaStatusApproved, "sess-1")
	require.NoError(t, err)

	got, err := store.GetByAuthReqID(ctx, req.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, domain.CibaStatusApproved, got.Status)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, req.UserCodeHash, got.UserCodeHash)

	// The request already left Pending; a second approval loses the race.
	err = store.UpdateStatus(ctx, req.AuthReqID,
		domain.CibaStatusPending, domain.CibaStatusDenied, "")
	assert.ErrorIs(t, err, serrors.ErrConflict)
}

func TestCibaStore_GetUnknownRequest(t *testing.T) {
	store := NewCibaStore(newTestClient(t), "idp")

	_, err := store.GetByAuthReqID(context.Background(), "missing")
	assert.ErrorIs(t, err, serrors.ErrCibaRequestNotFound)
}
