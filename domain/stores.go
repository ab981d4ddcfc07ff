package domain

import (
	"context"
	"time"
)

// CibaStore persists backchannel authentication requests. Implementations
// must provide at-most-once semantics for the Consume transition: of two
// concurrent consume attempts exactly one succeeds.
type CibaStore interface {
	StoreRequest(ctx context.Context, req *CibaRequest) error
	GetByAuthReqID(ctx context.Context, authReqID string) (*CibaRequest, error)
	GetPendingBySubject(ctx context.Context, subjectID string) ([]*CibaRequest, error)
	// UpdateStatus transitions a request from one status to another. It
	// returns ErrConflict when the request is no longer in the expected
	// status, making transitions idempotent guards.
	UpdateStatus(ctx context.Context, authReqID string, from, to CibaStatus, sessionID string) error
	// UpdateLastPolledAt records a token-endpoint poll for rate limiting.
	UpdateLastPolledAt(ctx context.Context, authReqID string) error
	RemoveRequest(ctx context.Context, authReqID string) error
	RemoveExpiredRequests(ctx context.Context) error
}

// JourneyStateStore keeps ephemeral journey state keyed by journey ID.
type JourneyStateStore interface {
	Get(ctx context.Context, journeyID string) (*JourneyState, error)
	Save(ctx context.Context, state *JourneyState) error
	Delete(ctx context.Context, journeyID string) error
	GetByUser(ctx context.Context, userID string) ([]*JourneyState, error)
	CleanupExpired(ctx context.Context) error
}

// PolicyMatchContext carries the request properties journey policies are
// matched against.
type PolicyMatchContext struct {
	Type      JourneyType
	TenantID  string
	ClientID  string
	ACRValues []string
	Scopes    []string
}

// JourneyPolicyStore persists journey policies.
type JourneyPolicyStore interface {
	GetByID(ctx context.Context, id string) (*JourneyPolicy, error)
	GetByType(ctx context.Context, journeyType JourneyType) ([]*JourneyPolicy, error)
	GetByTenant(ctx context.Context, tenantID string) ([]*JourneyPolicy, error)
	// FindMatching returns the best enabled policy for the context, or nil
	// when none matches. Callers must have a default-policy fallback.
	FindMatching(ctx context.Context, matchCtx PolicyMatchContext) (*JourneyPolicy, error)
	Save(ctx context.Context, policy *JourneyPolicy) error
	Delete(ctx context.Context, id string) error
}

// AuthCodeStore persists authorization codes. Consume must be atomic:
// concurrent redemption of the same code yields exactly one success.
type AuthCodeStore interface {
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCode(ctx context.Context, code string) (*AuthCode, error)
	// ConsumeAuthCode marks the code used and returns it, or
	// ErrAuthCodeNotFound / ErrConflict when it is unknown or already used.
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error)
	DeleteExpiredAuthCodes(ctx context.Context) error
}

// DeviceCodeStore persists device authorization grants.
type DeviceCodeStore interface {
	SaveDeviceAuth(ctx context.Context, auth *DeviceCode) error
	GetDeviceAuthByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	ApproveDeviceAuth(ctx context.Context, userCode, userID string) (*DeviceCode, error)
	UpdateDeviceAuthStatus(ctx context.Context, deviceCode string, status DeviceCodeStatus) error
	UpdateDeviceAuthLastPolledAt(ctx context.Context, deviceCode string) error
	DeleteExpiredDeviceAuths(ctx context.Context) error
}

// TokenRepository persists issued token records.
type TokenRepository interface {
	StoreToken(ctx context.Context, token *Token) error
	GetAccessToken(ctx context.Context, tokenValue string) (*Token, error)
	GetRefreshToken(ctx context.Context, tokenValue string) (*Token, error)
	RevokeToken(ctx context.Context, tokenValue string) error
	RevokeAllUserTokens(ctx context.Context, userID string) error
	DeleteExpiredTokens(ctx context.Context) error
}

// ValidationKey is one signing key exposed for token validation.
type ValidationKey struct {
	KeyID     string
	Algorithm string
	// Key is the verification key: *rsa.PublicKey for RS256, []byte for
	// HS256 shared secrets.
	Key any
}

// SigningCredentialStore supplies the keys used to validate JWTs minted by
// this issuer, including CIBA login_hint_token and id_token_hint values.
type SigningCredentialStore interface {
	GetValidationKeys(ctx context.Context) ([]ValidationKey, error)
}

// UserService resolves users for CIBA hints and journey identities. The
// account subsystem behind it is external to the core.
type UserService interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// CibaUserNotificationService delivers the out-of-band "authentication
// requested" signal to the user's device. Delivery failures are logged by
// callers and never fail the backchannel request.
type CibaUserNotificationService interface {
	NotifyUser(ctx context.Context, user *User, req *CibaRequest) error
}

// ExpirySweeper is implemented by stores that support periodic cleanup of
// expired records.
type ExpirySweeper interface {
	RemoveExpiredRequests(ctx context.Context) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
