package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/api"
	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/metrics"
)

// Server-wide fallback lifetimes for clients that configure none.
const (
	defaultAccessTokenLifetime  = time.Hour
	defaultRefreshTokenLifetime = 30 * 24 * time.Hour
	defaultIDTokenLifetime      = time.Hour
)

// TokenService mints access, ID and refresh tokens for validated grants.
// Access and ID tokens are JWTs; refresh tokens are opaque random values
// backed by the token repository.
type TokenService struct {
	repo   domain.TokenRepository
	signer *TokenSigner
	users  domain.UserService
	issuer string
	clock  domain.Clock
}

// NewTokenService creates a new TokenService instance.
func NewTokenService(repo domain.TokenRepository, signer *TokenSigner, users domain.UserService, issuer string) *TokenService {
	return &TokenService{
		repo:   repo,
		signer: signer,
		users:  users,
		issuer: issuer,
		clock:  domain.SystemClock{},
	}
}

// Issuer returns the issuer identifier minted into tokens.
func (s *TokenService) Issuer() string { return s.issuer }

// IssueInput describes one validated grant the engine should mint tokens
// for. The input is trusted: grant validation happened upstream.
type IssueInput struct {
	Client    *client.Client
	GrantType string

	// UserID is empty for client_credentials; the client is then its own
	// subject.
	UserID   string
	TenantID string
	Scope    string

	// DPoPKeyThumbprint binds the minted tokens to a client key. Empty
	// mints bearer tokens.
	DPoPKeyThumbprint string

	IncludeRefreshToken bool

	// OIDC context for the ID token. IncludeIDToken is set when the grant
	// carried the openid scope.
	IncludeIDToken bool
	Nonce          string
	AuthTime       time.Time
	ACR            string
	AMR            []string

	// IssuedTokenType is set for RFC 8693 responses.
	IssuedTokenType string
}

// Issue mints the token set for a validated grant.
func (s *TokenService) Issue(ctx context.Context, in IssueInput) (*api.TokenResponse, error) {
	lifetime := in.Client.AccessTokenLifetime
	if lifetime <= 0 {
		lifetime = defaultAccessTokenLifetime
	}

	subject := in.UserID
	if subject == "" {
		subject = in.Client.ID
	}

	var roles []string
	if in.UserID != "" && s.users != nil {
		user, err := s.users.FindByID(ctx, in.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", in.UserID).Msg("failed to load user for roles claim")
		} else if user != nil {
			roles = user.Roles
		}
	}

	now := s.clock.Now()
	jti := uuid.NewString()
	expiresAt := now.Add(lifetime)

	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": subject,
		"aud": jwt.ClaimStrings{in.Client.ID},
		"exp": jwt.NewNumericDate(expiresAt).Unix(),
		"iat": jwt.NewNumericDate(now).Unix(),
		"nbf": jwt.NewNumericDate(now).Unix(),
		"jti": jti,
	}
	if in.Scope != "" {
		claims["scope"] = in.Scope
	}
	if in.TenantID != "" {
		claims["tenant_id"] = in.TenantID
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	claims["client_id"] = in.Client.ID
	if in.DPoPKeyThumbprint != "" {
		claims["cnf"] = map[string]string{"jkt": in.DPoPKeyThumbprint}
	}

	accessToken, err := s.signer.Sign(claims, "")
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	record := &domain.Token{
		ID:                jti,
		TokenType:         api.TokenTypeAccessToken,
		TokenValue:        accessToken,
		ClientID:          in.Client.ID,
		UserID:            in.UserID,
		TenantID:          in.TenantID,
		Scope:             in.Scope,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		LastUsedAt:        now,
		Issuer:            s.issuer,
		DPoPKeyThumbprint: in.DPoPKeyThumbprint,
	}
	if err := s.repo.StoreToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	tokenType := "Bearer"
	if in.DPoPKeyThumbprint != "" {
		tokenType = "DPoP"
	}

	resp := &api.TokenResponse{
		AccessToken:     accessToken,
		TokenType:       tokenType,
		ExpiresIn:       int(lifetime.Seconds()),
		Scope:           in.Scope,
		IssuedTokenType: in.IssuedTokenType,
	}

	if in.IncludeRefreshToken {
		refresh, err := s.mintRefreshToken(ctx, in, now)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh
	}

	if in.IncludeIDToken && in.UserID != "" {
		idToken, err := s.mintIDToken(ctx, in, accessToken, now)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	metrics.TokensIssuedTotal.WithLabelValues(in.GrantType).Inc()
	return resp, nil
}

func (s *TokenService) mintRefreshToken(ctx context.Context, in IssueInput, now time.Time) (string, error) {
	lifetime := in.Client.RefreshTokenLifetime
	if lifetime <= 0 {
		lifetime = defaultRefreshTokenLifetime
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	record := &domain.Token{
		ID:                uuid.NewString(),
		TokenType:         api.TokenTypeRefreshToken,
		TokenValue:        value,
		ClientID:          in.Client.ID,
		UserID:            in.UserID,
		TenantID:          in.TenantID,
		Scope:             in.Scope,
		ExpiresAt:         now.Add(lifetime),
		CreatedAt:         now,
		LastUsedAt:        now,
		Issuer:            s.issuer,
		DPoPKeyThumbprint: in.DPoPKeyThumbprint,
	}
	if err := s.repo.StoreToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return value, nil
}

func (s *TokenService) mintIDToken(ctx context.Context, in IssueInput, accessToken string, now time.Time) (string, error) {
	lifetime := in.Client.IDTokenLifetime
	if lifetime <= 0 {
		lifetime = defaultIDTokenLifetime
	}

	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": in.UserID,
		"aud": jwt.ClaimStrings{in.Client.ID},
		"exp": jwt.NewNumericDate(now.Add(lifetime)).Unix(),
		"iat": jwt.NewNumericDate(now).Unix(),
	}
	if in.Nonce != "" {
		claims["nonce"] = in.Nonce
	}
	if !in.AuthTime.IsZero() {
		claims["auth_time"] = in.AuthTime.Unix()
	}
	if in.ACR != "" {
		claims["acr"] = in.ACR
	}
	if len(in.AMR) > 0 {
		claims["amr"] = in.AMR
	}
	if accessToken != "" {
		claims["at_hash"] = computeATHash(accessToken)
	}

	if user, err := s.users.FindByID(ctx, in.UserID); err == nil && user != nil {
		if user.Email != "" {
			claims["email"] = user.Email
		}
	}

	idToken, err := s.signer.Sign(claims, "")
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return idToken, nil
}

// computeATHash is the OIDC at_hash: base64url of the left half of the
// SHA-256 digest of the access token, matching an RS256/HS256 signed ID
// token.
func computeATHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// AccessTokenClaims is the validated claim set of an introspected access
// token.
type AccessTokenClaims struct {
	Subject  string
	ClientID string
	TenantID string
	Scope    string
	JTI      string
	// JKT is the cnf.jkt confirmation claim for DPoP-bound tokens.
	JKT       string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// ValidateAccessToken verifies a presented access token's signature,
// lifetime and revocation state.
func (s *TokenService) ValidateAccessToken(ctx context.Context, raw string) (*AccessTokenClaims, error) {
	keys, err := s.signer.GetValidationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation keys: %w", err)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "HS256"}))
	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, k := range keys {
			if kid != "" && k.KeyID != kid {
				continue
			}
			if k.Algorithm == token.Method.Alg() {
				return k.Key, nil
			}
		}
		return nil, errors.New("no matching validation key")
	})
	if err != nil {
		return nil, serrors.NewInvalidGrant("access token is not valid")
	}

	out := &AccessTokenClaims{}
	out.Subject, _ = claims["sub"].(string)
	out.Scope, _ = claims["scope"].(string)
	out.ClientID, _ = claims["client_id"].(string)
	out.TenantID, _ = claims["tenant_id"].(string)
	out.JTI, _ = claims["jti"].(string)
	if cnf, ok := claims["cnf"].(map[string]any); ok {
		out.JKT, _ = cnf["jkt"].(string)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}

	if out.JTI != "" {
		record, err := s.repo.GetAccessToken(ctx, raw)
		if err == nil && record != nil && record.IsRevoked {
			return nil, serrors.NewInvalidGrant("access token has been revoked")
		}
	}

	return out, nil
}

// LookupRefreshToken resolves an opaque refresh token to its stored record,
// rejecting revoked and expired values.
func (s *TokenService) LookupRefreshToken(ctx context.Context, value string) (*domain.Token, error) {
	record, err := s.repo.GetRefreshToken(ctx, value)
	if err != nil || record == nil {
		return nil, serrors.NewInvalidGrant("refresh token is not valid")
	}
	if record.IsRevoked {
		return nil, serrors.NewInvalidGrant("refresh token has been revoked")
	}
	if s.clock.Now().After(record.ExpiresAt) {
		return nil, serrors.NewInvalidGrant("refresh token has expired")
	}
	return record, nil
}

// Revoke invalidates a presented token value of either type. Unknown values
// are a silent success per RFC 7009.
func (s *TokenService) Revoke(ctx context.Context, value string) error {
	if err := s.repo.RevokeToken(ctx, value); err != nil {
		log.Debug().Err(err).Msg("revocation of unknown token value ignored")
	}
	return nil
}
