package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.oluso.dev/idp/api"
	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/metrics"
)

const (
	// authReqIDBytes is the entropy of an auth_req_id before encoding.
	authReqIDBytes = 32
	// defaultPollInterval is the RFC default when the client sets none.
	defaultPollInterval = 5
	// defaultCibaLifetime caps requests of clients with no configured
	// lifetime.
	defaultCibaLifetime = 5 * time.Minute
)

// CibaAuthenticationRequest carries the parsed parameters of one
// backchannel authentication request.
type CibaAuthenticationRequest struct {
	LoginHint               string
	LoginHintToken          string
	IDTokenHint             string
	Scope                   string
	BindingMessage          string
	UserCode                string
	ClientNotificationToken string
	ACRValues               []string
	// RequestedExpiry is the client-requested lifetime in seconds; zero
	// means the client default.
	RequestedExpiry int
}

// hintCount reports how many of the three mutually exclusive hints are set.
func (r *CibaAuthenticationRequest) hintCount() int {
	n := 0
	if r.LoginHint != "" {
		n++
	}
	if r.LoginHintToken != "" {
		n++
	}
	if r.IDTokenHint != "" {
		n++
	}
	return n
}

// CibaService orchestrates out-of-band backchannel authentication: hint
// resolution, request lifecycle and poll/ping/push delivery.
type CibaService struct {
	store    domain.CibaStore
	resolver *hintResolver
	notifier domain.CibaUserNotificationService
	clock    domain.Clock
}

// NewCibaService creates a CibaService. The notifier may be nil for
// poll-only deployments.
func NewCibaService(
	store domain.CibaStore,
	users domain.UserService,
	keys domain.SigningCredentialStore,
	notifier domain.CibaUserNotificationService,
) *CibaService {
	return &CibaService{
		store:    store,
		resolver: newHintResolver(users, keys),
		notifier: notifier,
		clock:    domain.SystemClock{},
	}
}

// Authenticate starts a backchannel authentication ceremony for the client.
// Exactly one hint must resolve to a known user. For ping and push delivery
// the client must both have a registered notification endpoint and supply a
// client_notification_token.
func (s *CibaService) Authenticate(ctx context.Context, req *CibaAuthenticationRequest, cl *client.Client) (*api.CibaAuthResponse, error) {
	if req.hintCount() != 1 {
		return nil, serrors.NewInvalidRequest("exactly one of login_hint, login_hint_token or id_token_hint is required")
	}

	mode := domain.CibaDeliveryMode(cl.CibaTokenDeliveryMode)
	if mode == "" {
		mode = domain.CibaDeliveryPoll
	}
	if mode == domain.CibaDeliveryPing || mode == domain.CibaDeliveryPush {
		if cl.CibaNotificationEndpoint == "" {
			return nil, serrors.NewInvalidRequest("client has no registered backchannel notification endpoint")
		}
		if req.ClientNotificationToken == "" {
			return nil, serrors.NewInvalidRequest("client_notification_token is required for ping and push delivery")
		}
	}

	if cl.CibaRequireUserCode && req.UserCode == "" {
		return nil, &serrors.OAuth2Error{
			Code:        serrors.MissingUserCode,
			Description: "client requires a user_code",
		}
	}

	user := s.resolveHint(ctx, req, cl)
	if user == nil {
		return nil, serrors.NewUnknownUserID("hint did not resolve to a known user")
	}

	var userCodeHash string
	if req.UserCode != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.UserCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, serrors.NewServerError("failed to process user_code")
		}
		userCodeHash = string(hashed)
	}

	authReqID, err := generateAuthReqID()
	if err != nil {
		return nil, serrors.NewServerError("failed to generate auth_req_id")
	}

	lifetime := cl.CibaRequestLifetime
	if lifetime <= 0 {
		lifetime = defaultCibaLifetime
	}
	if req.RequestedExpiry > 0 {
		if requested := time.Duration(req.RequestedExpiry) * time.Second; requested < lifetime {
			lifetime = requested
		}
	}

	interval := cl.CibaPollingInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	now := s.clock.Now()
	cibaReq := &domain.CibaRequest{
		ID:             uuid.NewString(),
		AuthReqID:      authReqID,
		ClientID:       cl.ID,
		TenantID:       cl.TenantID,
		SubjectID:      user.ID,
		Scope:          req.Scope,
		Status:         domain.CibaStatusPending,
		BindingMessage: req.BindingMessage,
		UserCodeHash:   userCodeHash,
		Interval:       interval,
		ExpiresAt:      now.Add(lifetime),
		CreatedAt:      now,
	}
	if err := s.store.StoreRequest(ctx, cibaReq); err != nil {
		return nil, fmt.Errorf("failed to persist backchannel request: %w", err)
	}

	metrics.CibaRequestsTotal.WithLabelValues(string(mode)).Inc()

	// Delivery of the out-of-band signal is best effort; the ceremony is
	// already persisted and pollable.
	if s.notifier != nil {
		if err := s.notifier.NotifyUser(ctx, user, cibaReq); err != nil {
			log.Warn().Err(err).
				Str("auth_req_id", authReqID).
				Str("client_id", cl.ID).
				Msg("backchannel user notification failed")
		}
	}

	log.Info().
		Str("auth_req_id", authReqID).
		Str("client_id", cl.ID).
		Str("mode", string(mode)).
		Msg("backchannel authentication request created")

	return &api.CibaAuthResponse{
		AuthReqID: authReqID,
		ExpiresIn: int(lifetime.Seconds()),
		Interval:  interval,
	}, nil
}

func (s *CibaService) resolveHint(ctx context.Context, req *CibaAuthenticationRequest, cl *client.Client) *domain.User {
	switch {
	case req.LoginHint != "":
		return s.resolver.ResolveLoginHint(ctx, req.LoginHint)
	case req.LoginHintToken != "":
		return s.resolver.ResolveLoginHintToken(ctx, req.LoginHintToken)
	case req.IDTokenHint != "":
		return s.resolver.ResolveIDTokenHint(ctx, req.IDTokenHint, cl.ID)
	default:
		return nil
	}
}

// GetStatus returns the current state of a ceremony for the polling client.
// Unknown and wall-clock-expired requests surface as expired_token; a known
// request owned by another client surfaces as access_denied. The expiry
// transition performed here is idempotent and safe to race.
func (s *CibaService) GetStatus(ctx context.Context, authReqID, clientID string) (*domain.CibaRequest, error) {
	req, err := s.store.GetByAuthReqID(ctx, authReqID)
	if err != nil {
		return nil, serrors.NewExpiredToken("unknown auth_req_id")
	}

	if req.ClientID != clientID {
		return nil, serrors.NewAccessDenied("auth_req_id was issued to a different client")
	}

	if req.Status == domain.CibaStatusPending && req.Expired(s.clock.Now()) {
		err := s.store.UpdateStatus(ctx, authReqID, domain.CibaStatusPending, domain.CibaStatusExpired, "")
		if err != nil && !errorsIsConflict(err) {
			log.Warn().Err(err).Str("auth_req_id", authReqID).Msg("failed to mark backchannel request expired")
		}
		req.Status = domain.CibaStatusExpired
	}

	if req.Status == domain.CibaStatusExpired {
		return nil, serrors.NewExpiredToken("backchannel authentication request expired")
	}

	return req, nil
}

// Approve transitions a pending ceremony to approved, recording the session
// that authenticated the user. Any state other than pending is a no-op
// returning false, which makes double approval harmless.
func (s *CibaService) Approve(ctx context.Context, authReqID, sessionID string) (bool, error) {
	req, err := s.store.GetByAuthReqID(ctx, authReqID)
	if err != nil {
		return false, nil
	}
	if req.Status != domain.CibaStatusPending || req.Expired(s.clock.Now()) {
		return false, nil
	}

	err = s.store.UpdateStatus(ctx, authReqID, domain.CibaStatusPending, domain.CibaStatusApproved, sessionID)
	if err != nil {
		if errorsIsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to approve backchannel request: %w", err)
	}

	metrics.CibaOutcomesTotal.WithLabelValues(string(domain.CibaStatusApproved)).Inc()
	return true, nil
}

// Deny transitions a pending ceremony to denied. Non-pending states are a
// no-op returning false.
func (s *CibaService) Deny(ctx context.Context, authReqID string) (bool, error) {
	req, err := s.store.GetByAuthReqID(ctx, authReqID)
	if err != nil {
		return false, nil
	}
	if req.Status != domain.CibaStatusPending {
		return false, nil
	}

	err = s.store.UpdateStatus(ctx, authReqID, domain.CibaStatusPending, domain.CibaStatusDenied, "")
	if err != nil {
		if errorsIsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to deny backchannel request: %w", err)
	}

	metrics.CibaOutcomesTotal.WithLabelValues(string(domain.CibaStatusDenied)).Inc()
	return true, nil
}

// CheckUserCode compares a presented user_code against the hash recorded at
// request time. Requests created without a user_code accept any input.
func (s *CibaService) CheckUserCode(ctx context.Context, authReqID, userCode string) (bool, error) {
	req, err := s.store.GetByAuthReqID(ctx, authReqID)
	if err != nil {
		return false, err
	}
	if req.UserCodeHash == "" {
		return true, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(req.UserCodeHash), []byte(userCode)) == nil, nil
}

// Consume redeems an approved ceremony for token issuance. Exactly one of
// two concurrent redemptions succeeds; the loser observes the consumed
// state. Pending requests surface the standard polling errors.
func (s *CibaService) Consume(ctx context.Context, authReqID, clientID string) (*domain.CibaRequest, error) {
	req, err := s.GetStatus(ctx, authReqID, clientID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.CibaStatusPending:
		interval := time.Duration(req.Interval) * time.Second
		if !req.LastPolledAt.IsZero() && s.clock.Now().Sub(req.LastPolledAt) < interval {
			return nil, serrors.ErrSlowDown
		}
		if err := s.store.UpdateLastPolledAt(ctx, authReqID); err != nil {
			log.Warn().Err(err).Msg("failed to record backchannel poll time")
		}
		return nil, serrors.ErrAuthorizationPending
	case domain.CibaStatusDenied:
		return nil, serrors.ErrAccessDenied
	case domain.CibaStatusConsumed:
		return nil, serrors.NewExpiredToken("auth_req_id already redeemed")
	case domain.CibaStatusApproved:
		// Fall through to redemption.
	default:
		return nil, serrors.NewExpiredToken("backchannel authentication request expired")
	}

	err = s.store.UpdateStatus(ctx, authReqID, domain.CibaStatusApproved, domain.CibaStatusConsumed, req.SessionID)
	if err != nil {
		if errorsIsConflict(err) {
			return nil, serrors.NewExpiredToken("auth_req_id already redeemed")
		}
		return nil, fmt.Errorf("failed to consume backchannel request: %w", err)
	}

	metrics.CibaOutcomesTotal.WithLabelValues(string(domain.CibaStatusConsumed)).Inc()
	req.Status = domain.CibaStatusConsumed
	return req, nil
}

// RemoveExpired sweeps terminal and wall-clock-expired ceremonies.
func (s *CibaService) RemoveExpired(ctx context.Context) error {
	return s.store.RemoveExpiredRequests(ctx)
}

func generateAuthReqID() (string, error) {
	buf := make([]byte, authReqIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func errorsIsConflict(err error) bool {
	return errors.Is(err, serrors.ErrConflict)
}
