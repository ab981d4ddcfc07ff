// Package redis provides shared grant-state stores on Redis for
// multi-instance deployments. The in-process stores in the parent package
// are the single-instance equivalents.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
)

// terminalRetention keeps resolved requests around after expiry so late
// polls get a definite answer instead of a not-found.
const terminalRetention = 10 * time.Minute

// casStatusScript transitions the status field only when it still holds
// the expected value. Running it server-side makes the compare-and-set
// atomic across instances.
var casStatusScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "resolved_at", ARGV[3])
if ARGV[4] ~= "" then
	redis.call("HSET", KEYS[1], "session_id", ARGV[4])
end
return 1
`)

// CibaStore implements domain.CibaStore using Redis hashes.
type CibaStore struct {
	client *redis.Client
	prefix string
}

// NewCibaStore creates a new Redis-backed CIBA request store.
func NewCibaStore(client *redis.Client, prefix string) *CibaStore {
	return &CibaStore{client: client, prefix: prefix}
}

func (r *CibaStore) key(authReqID string) string {
	return fmt.Sprintf("%s:ciba:%s", r.prefix, authReqID)
}

// StoreRequest implements domain.CibaStore.
func (r *CibaStore) StoreRequest(ctx context.Context, req *domain.CibaRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal ciba request: %w", err)
	}

	// UserCodeHash is json:"-" so it never leaks through API marshaling;
	// it has to travel in its own hash field here.
	key := r.key(req.AuthReqID)
	entry := map[string]interface{}{
		"data":           string(data),
		"status":         string(req.Status),
		"subject_id":     req.SubjectID,
		"session_id":     req.SessionID,
		"user_code_hash": req.UserCodeHash,
	}
	if _, err := r.client.HSet(ctx, key, entry).Result(); err != nil {
		return fmt.Errorf("failed to store ciba request: %w", err)
	}

	ttl := time.Until(req.ExpiresAt) + terminalRetention
	if _, err := r.client.Expire(ctx, key, ttl).Result(); err != nil {
		return fmt.Errorf("failed to set expiry for ciba request: %w", err)
	}

	return nil
}

// GetByAuthReqID implements domain.CibaStore.
func (r *CibaStore) GetByAuthReqID(ctx context.Context, authReqID string) (*domain.CibaRequest, error) {
	res, err := r.client.HGetAll(ctx, r.key(authReqID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ciba request: %w", err)
	}
	if len(res) == 0 {
		return nil, serrors.ErrCibaRequestNotFound
	}

	return decodeRequest(res)
}

// GetPendingBySubject implements domain.CibaStore. It scans the key space;
// the authentication device lists at most a handful of open requests, so a
// scan is acceptable here.
func (r *CibaStore) GetPendingBySubject(ctx context.Context, subjectID string) ([]*domain.CibaRequest, error) {
	var out []*domain.CibaRequest
	var cursor uint64
	pattern := r.key("*")

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan ciba requests: %w", err)
		}

		for _, key := range keys {
			res, err := r.client.HGetAll(ctx, key).Result()
			if err != nil || len(res) == 0 {
				continue
			}
			if res["subject_id"] != subjectID || res["status"] != string(domain.CibaStatusPending) {
				continue
			}
			req, err := decodeRequest(res)
			if err != nil {
				continue
			}
			out = append(out, req)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

// UpdateStatus implements domain.CibaStore. A lost compare-and-set returns
// ErrConflict.
func (r *CibaStore) UpdateStatus(ctx context.Context, authReqID string, from, to domain.CibaStatus, sessionID string) error {
	key := r.key(authReqID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check ciba request: %w", err)
	}
	if exists == 0 {
		return serrors.ErrCibaRequestNotFound
	}

	resolvedAt := time.Now().UTC().Format(time.RFC3339Nano)
	ok, err := casStatusScript.Run(ctx, r.client, []string{key},
		string(from), string(to), resolvedAt, sessionID).Int()
	if err != nil {
		return fmt.Errorf("failed to update ciba status: %w", err)
	}
	if ok == 0 {
		return serrors.ErrConflict
	}

	return nil
}

// UpdateLastPolledAt implements domain.CibaStore.
func (r *CibaStore) UpdateLastPolledAt(ctx context.Context, authReqID string) error {
	key := r.key(authReqID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check ciba request: %w", err)
	}
	if exists == 0 {
		return serrors.ErrCibaRequestNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.client.HSet(ctx, key, "last_polled_at", now).Result(); err != nil {
		return fmt.Errorf("failed to record ciba poll time: %w", err)
	}
	return nil
}

// RemoveRequest implements domain.CibaStore.
func (r *CibaStore) RemoveRequest(ctx context.Context, authReqID string) error {
	if _, err := r.client.Del(ctx, r.key(authReqID)).Result(); err != nil {
		return fmt.Errorf("failed to delete ciba request: %w", err)
	}
	return nil
}

// RemoveExpiredRequests implements domain.CibaStore. Redis evicts keys by
// TTL, so there is nothing to sweep.
func (r *CibaStore) RemoveExpiredRequests(_ context.Context) error {
	return nil
}

func decodeRequest(res map[string]string) (*domain.CibaRequest, error) {
	var req domain.CibaRequest
	if err := json.Unmarshal([]byte(res["data"]), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ciba request: %w", err)
	}

	// Status, session and resolution time may have advanced past the
	// snapshot in the data field.
	req.Status = domain.CibaStatus(res["status"])
	req.UserCodeHash = res["user_code_hash"]
	if sid := res["session_id"]; sid != "" {
		req.SessionID = sid
	}
	if raw := res["resolved_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			req.ResolvedAt = t
		}
	}
	if raw := res["last_polled_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			req.LastPolledAt = t
		}
	}

	return &req, nil
}
