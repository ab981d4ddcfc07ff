package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/api"
	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/metrics"
	"go.oluso.dev/idp/protocol"
)

const (
	authCodeLifetime   = 10 * time.Minute
	deviceCodeLifetime = 15 * time.Minute
	deviceUserCodeLen  = 8
	devicePollInterval = 5
)

// OAuthService orchestrates the grant state machines behind the authorize
// and token endpoints. Each grant handler validates its own preconditions
// and delegates minting to the TokenService.
type OAuthService struct {
	clients     client.ClientStore
	authCodes   domain.AuthCodeStore
	deviceCodes domain.DeviceCodeStore
	ciba        *CibaService
	tokens      *TokenService
	clock       domain.Clock
}

// NewOAuthService creates a new OAuthService instance.
func NewOAuthService(
	clients client.ClientStore,
	authCodes domain.AuthCodeStore,
	deviceCodes domain.DeviceCodeStore,
	ciba *CibaService,
	tokens *TokenService,
) *OAuthService {
	return &OAuthService{
		clients:     clients,
		authCodes:   authCodes,
		deviceCodes: deviceCodes,
		ciba:        ciba,
		tokens:      tokens,
		clock:       domain.SystemClock{},
	}
}

// ValidateClient authenticates a client. Public clients authenticate by
// identifier only; confidential clients must present their secret.
func (s *OAuthService) ValidateClient(ctx context.Context, clientID, clientSecret string) (*client.Client, error) {
	cl, err := s.clients.GetClient(ctx, clientID)
	if err != nil || cl == nil {
		return nil, serrors.NewInvalidClient("unknown client")
	}
	if !cl.IsActive {
		return nil, serrors.NewInvalidClient("client is disabled")
	}
	if cl.IsConfidential() {
		if clientSecret == "" || cl.Secret != clientSecret {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
	}
	return cl, nil
}

// AuthCodeGrant captures what the authorize endpoint decided when it issued
// a code: the authenticated user and the authentication context to carry
// into the ID token.
type AuthCodeGrant struct {
	UserID   string
	TenantID string
	AuthTime time.Time
	ACR      string
	AMR      []string
}

// GenerateAuthCode issues a one-time authorization code for a validated
// authorize request and an authenticated user.
func (s *OAuthService) GenerateAuthCode(ctx context.Context, req *protocol.AuthorizeRequest, grant AuthCodeGrant) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(buf)

	now := s.clock.Now()
	record := &domain.AuthCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              grant.UserID,
		TenantID:            grant.TenantID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		ExpiresAt:           now.Add(authCodeLifetime),
		CreatedAt:           now,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		AuthTime:            grant.AuthTime,
		ACR:                 grant.ACR,
		AMR:                 grant.AMR,
		DPoPKeyThumbprint:   req.DPoPKeyThumbprint,
	}
	if err := s.authCodes.SaveAuthCode(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	metrics.AuthorizeRequestsTotal.WithLabelValues("code_issued").Inc()
	return code, nil
}

// Exchange redeems a validated token request. proofJKT is the thumbprint of
// the DPoP proof key when the transport validated one, empty otherwise.
func (s *OAuthService) Exchange(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	switch req.GrantType {
	case protocol.GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req, cl, proofJKT)
	case protocol.GrantTypeRefreshToken:
		return s.refreshTokenGrant(ctx, req, cl, proofJKT)
	case protocol.GrantTypeClientCredentials:
		return s.clientCredentialsGrant(ctx, req, cl, proofJKT)
	case protocol.GrantTypeDeviceCode:
		return s.deviceCodeGrant(ctx, req, cl, proofJKT)
	case protocol.GrantTypeCiba:
		return s.cibaGrant(ctx, req, cl, proofJKT)
	case protocol.GrantTypeTokenExchange:
		return s.tokenExchangeGrant(ctx, req, cl, proofJKT)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

func (s *OAuthService) exchangeAuthorizationCode(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	code, err := s.authCodes.ConsumeAuthCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, serrors.ErrConflict) {
			// The code was redeemed concurrently; treat as replay.
			log.Warn().Str("client_id", cl.ID).Msg("authorization code replay detected")
		}
		return nil, serrors.NewInvalidGrant("authorization code is not valid")
	}

	if code.ClientID != cl.ID {
		return nil, serrors.NewInvalidGrant("authorization code was issued to a different client")
	}
	if s.clock.Now().After(code.ExpiresAt) {
		return nil, serrors.NewInvalidGrant("authorization code has expired")
	}
	// Exact match against the redirect_uri the code was issued for.
	if code.RedirectURI != req.RedirectURI {
		return nil, serrors.NewInvalidGrant("redirect_uri does not match the authorization request")
	}
	if !VerifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
		return nil, serrors.NewInvalidGrant("code_verifier does not match code_challenge")
	}
	// A code pre-bound via dpop_jkt must be redeemed with a proof from the
	// same key.
	if code.DPoPKeyThumbprint != "" && code.DPoPKeyThumbprint != proofJKT {
		return nil, serrors.NewInvalidDPoPProof("proof key does not match the dpop_jkt binding")
	}

	return s.tokens.Issue(ctx, IssueInput{
		Client:              cl,
		GrantType:           req.GrantType,
		UserID:              code.UserID,
		TenantID:            code.TenantID,
		Scope:               code.Scope,
		DPoPKeyThumbprint:   proofJKT,
		IncludeRefreshToken: true,
		IncludeIDToken:      scopeContains(code.Scope, "openid"),
		Nonce:               code.Nonce,
		AuthTime:            code.AuthTime,
		ACR:                 code.ACR,
		AMR:                 code.AMR,
	})
}

func (s *OAuthService) refreshTokenGrant(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	record, err := s.tokens.LookupRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if record.ClientID != cl.ID {
		return nil, serrors.NewInvalidGrant("refresh token was issued to a different client")
	}
	// DPoP key continuity: a bound refresh token only rotates under a proof
	// from the same key (RFC 9449 section 5).
	if record.DPoPKeyThumbprint != "" && record.DPoPKeyThumbprint != proofJKT {
		return nil, serrors.NewInvalidDPoPProof("proof key does not match the bound refresh token")
	}

	scope := record.Scope
	if req.Scope != "" {
		narrowed, err := narrowScope(record.Scope, req.Scope)
		if err != nil {
			return nil, err
		}
		scope = narrowed
	}

	// Rotation: the presented token dies with this exchange.
	if err := s.tokens.Revoke(ctx, req.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	resp, err := s.tokens.Issue(ctx, IssueInput{
		Client:              cl,
		GrantType:           req.GrantType,
		UserID:              record.UserID,
		TenantID:            record.TenantID,
		Scope:               scope,
		DPoPKeyThumbprint:   proofJKT,
		IncludeRefreshToken: true,
		IncludeIDToken:      scopeContains(scope, "openid"),
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensRefreshedTotal.Inc()
	return resp, nil
}

func (s *OAuthService) clientCredentialsGrant(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	scope := req.Scope
	for _, sc := range strings.Fields(scope) {
		if !cl.HasScope(sc) {
			return nil, serrors.NewInvalidScope("scope " + sc + " is not allowed for this client")
		}
	}

	return s.tokens.Issue(ctx, IssueInput{
		Client:            cl,
		GrantType:         req.GrantType,
		TenantID:          cl.TenantID,
		Scope:             scope,
		DPoPKeyThumbprint: proofJKT,
	})
}

func (s *OAuthService) deviceCodeGrant(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	auth, err := s.deviceCodes.GetDeviceAuthByDeviceCode(ctx, req.DeviceCode)
	if err != nil || auth == nil {
		return nil, serrors.NewExpiredToken("device_code is not valid")
	}
	if auth.ClientID != cl.ID {
		return nil, serrors.NewInvalidGrant("device_code was issued to a different client")
	}

	now := s.clock.Now()
	if now.After(auth.ExpiresAt) && auth.Status == domain.DeviceCodeStatusPending {
		_ = s.deviceCodes.UpdateDeviceAuthStatus(ctx, req.DeviceCode, domain.DeviceCodeStatusExpired)
		return nil, serrors.ErrExpiredToken
	}

	switch auth.Status {
	case domain.DeviceCodeStatusPending:
		interval := time.Duration(auth.Interval) * time.Second
		if !auth.LastPolledAt.IsZero() && now.Sub(auth.LastPolledAt) < interval {
			return nil, serrors.ErrSlowDown
		}
		if err := s.deviceCodes.UpdateDeviceAuthLastPolledAt(ctx, req.DeviceCode); err != nil {
			log.Warn().Err(err).Msg("failed to record device poll time")
		}
		return nil, serrors.ErrAuthorizationPending
	case domain.DeviceCodeStatusDenied:
		return nil, serrors.ErrAccessDenied
	case domain.DeviceCodeStatusExpired, domain.DeviceCodeStatusRedeemed:
		return nil, serrors.ErrExpiredToken
	case domain.DeviceCodeStatusAuthorized:
		// Fall through to redemption.
	default:
		return nil, serrors.ErrExpiredToken
	}

	// Redemption is one-time.
	if err := s.deviceCodes.UpdateDeviceAuthStatus(ctx, req.DeviceCode, domain.DeviceCodeStatusRedeemed); err != nil {
		return nil, serrors.NewExpiredToken("device_code already redeemed")
	}

	return s.tokens.Issue(ctx, IssueInput{
		Client:              cl,
		GrantType:           req.GrantType,
		UserID:              auth.UserID,
		TenantID:            auth.TenantID,
		Scope:               auth.Scope,
		DPoPKeyThumbprint:   proofJKT,
		IncludeRefreshToken: true,
		IncludeIDToken:      scopeContains(auth.Scope, "openid"),
	})
}

func (s *OAuthService) cibaGrant(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	ceremony, err := s.ciba.Consume(ctx, req.AuthReqID, cl.ID)
	if err != nil {
		return nil, err
	}

	return s.tokens.Issue(ctx, IssueInput{
		Client:              cl,
		GrantType:           req.GrantType,
		UserID:              ceremony.SubjectID,
		TenantID:            ceremony.TenantID,
		Scope:               ceremony.Scope,
		DPoPKeyThumbprint:   proofJKT,
		IncludeRefreshToken: true,
		IncludeIDToken:      scopeContains(ceremony.Scope, "openid"),
	})
}

// tokenExchangeGrant implements RFC 8693 impersonation: the subject token's
// identity is carried into a new access token scoped for the requested
// audience.
func (s *OAuthService) tokenExchangeGrant(ctx context.Context, req *protocol.TokenRequest, cl *client.Client, proofJKT string) (*api.TokenResponse, error) {
	if req.SubjectTokenType != api.TokenTypeURNAccessToken {
		return nil, serrors.NewInvalidRequest("unsupported subject_token_type")
	}
	if req.RequestedTokenType != "" && req.RequestedTokenType != api.TokenTypeURNAccessToken {
		return nil, serrors.NewInvalidRequest("unsupported requested_token_type")
	}

	subject, err := s.tokens.ValidateAccessToken(ctx, req.SubjectToken)
	if err != nil {
		return nil, serrors.NewInvalidGrant("subject_token is not valid")
	}

	scope := subject.Scope
	if req.Scope != "" {
		narrowed, err := narrowScope(subject.Scope, req.Scope)
		if err != nil {
			return nil, err
		}
		scope = narrowed
	}

	return s.tokens.Issue(ctx, IssueInput{
		Client:            cl,
		GrantType:         req.GrantType,
		UserID:            subject.Subject,
		TenantID:          subject.TenantID,
		Scope:             scope,
		DPoPKeyThumbprint: proofJKT,
		IssuedTokenType:   api.TokenTypeURNAccessToken,
	})
}

// InitiateDeviceAuthorization starts an RFC 8628 device flow.
func (s *OAuthService) InitiateDeviceAuthorization(ctx context.Context, cl *client.Client, scope, verificationBaseURI string) (*api.DeviceAuthResponse, error) {
	for _, sc := range strings.Fields(scope) {
		if !cl.HasScope(sc) {
			return nil, serrors.NewInvalidScope("scope " + sc + " is not allowed for this client")
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate device_code: %w", err)
	}
	deviceCode := base64.RawURLEncoding.EncodeToString(buf)

	userCode, err := generateUserCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user_code: %w", err)
	}

	now := s.clock.Now()
	auth := &domain.DeviceCode{
		ID:         uuid.NewString(),
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   cl.ID,
		TenantID:   cl.TenantID,
		Scope:      scope,
		Status:     domain.DeviceCodeStatusPending,
		ExpiresAt:  now.Add(deviceCodeLifetime),
		Interval:   devicePollInterval,
		CreatedAt:  now,
	}
	if err := s.deviceCodes.SaveDeviceAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to store device authorization: %w", err)
	}

	return &api.DeviceAuthResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationBaseURI,
		VerificationURIComplete: verificationBaseURI + "?user_code=" + userCode,
		ExpiresIn:               int(deviceCodeLifetime.Seconds()),
		Interval:                devicePollInterval,
	}, nil
}

// ApproveDeviceAuth binds an authenticated user to a pending device grant.
func (s *OAuthService) ApproveDeviceAuth(ctx context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	auth, err := s.deviceCodes.GetDeviceAuthByUserCode(ctx, userCode)
	if err != nil || auth == nil {
		return nil, serrors.ErrUserCodeNotFound
	}
	if auth.Status != domain.DeviceCodeStatusPending || s.clock.Now().After(auth.ExpiresAt) {
		return nil, serrors.NewExpiredToken("user_code is no longer redeemable")
	}
	return s.deviceCodes.ApproveDeviceAuth(ctx, userCode, userID)
}

// DenyDeviceAuth marks a pending device grant denied.
func (s *OAuthService) DenyDeviceAuth(ctx context.Context, userCode string) error {
	auth, err := s.deviceCodes.GetDeviceAuthByUserCode(ctx, userCode)
	if err != nil || auth == nil {
		return serrors.ErrUserCodeNotFound
	}
	if auth.Status != domain.DeviceCodeStatusPending {
		return nil
	}
	return s.deviceCodes.UpdateDeviceAuthStatus(ctx, auth.DeviceCode, domain.DeviceCodeStatusDenied)
}

// Introspect implements RFC 7662. Inactive tokens, whatever the cause,
// produce {"active": false} with no further detail.
func (s *OAuthService) Introspect(ctx context.Context, tokenValue string) *api.IntrospectionResponse {
	claims, err := s.tokens.ValidateAccessToken(ctx, tokenValue)
	if err != nil {
		// Try as a refresh token before giving up.
		record, rerr := s.tokens.LookupRefreshToken(ctx, tokenValue)
		if rerr != nil {
			return &api.IntrospectionResponse{Active: false}
		}
		return &api.IntrospectionResponse{
			Active:    true,
			Scope:     record.Scope,
			ClientID:  record.ClientID,
			TokenType: api.TokenTypeRefreshToken,
			Sub:       record.UserID,
			Exp:       record.ExpiresAt.Unix(),
			Iss:       s.tokens.Issuer(),
		}
	}

	resp := &api.IntrospectionResponse{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		TokenType: "Bearer",
		Sub:       claims.Subject,
		Aud:       claims.ClientID,
		Iss:       s.tokens.Issuer(),
		Jti:       claims.JTI,
		Exp:       claims.ExpiresAt.Unix(),
		Iat:       claims.IssuedAt.Unix(),
	}
	if claims.JKT != "" {
		resp.TokenType = "DPoP"
		resp.Cnf = map[string]string{"jkt": claims.JKT}
	}
	return resp
}

// RevokeToken implements RFC 7009: revocation of unknown tokens succeeds.
func (s *OAuthService) RevokeToken(ctx context.Context, tokenValue string) error {
	return s.tokens.Revoke(ctx, tokenValue)
}

// scopeContains reports whether the space-separated scope string contains
// the named scope.
func scopeContains(scope, name string) bool {
	for _, s := range strings.Fields(scope) {
		if s == name {
			return true
		}
	}
	return false
}

// narrowScope intersects a requested scope with the originally granted one.
// Requesting anything outside the grant is invalid_scope.
func narrowScope(granted, requested string) (string, error) {
	grantedSet := make(map[string]struct{})
	for _, s := range strings.Fields(granted) {
		grantedSet[s] = struct{}{}
	}

	kept := make([]string, 0)
	for _, s := range strings.Fields(requested) {
		if _, ok := grantedSet[s]; !ok {
			return "", serrors.NewInvalidScope("scope " + s + " exceeds the original grant")
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " "), nil
}

// generateUserCode produces a short uppercase code like "BCDF-GHJK" from an
// alphabet without easily confused characters.
func generateUserCode() (string, error) {
	const alphabet = "BCDFGHJKLMNPQRSTVWXZ"
	buf := make([]byte, deviceUserCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 0, deviceUserCodeLen+1)
	for i, b := range buf {
		if i == deviceUserCodeLen/2 {
			code = append(code, '-')
		}
		code = append(code, alphabet[int(b)%len(alphabet)])
	}
	return string(code), nil
}
