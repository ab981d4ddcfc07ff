package errors

import "fmt"

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 / OIDC error codes. These strings are part of the wire
// contract (RFC 6749, RFC 8628, RFC 9449, OIDC CIBA) and must not be renamed.
const (
	InvalidRequest         = "invalid_request"
	UnauthorizedClient     = "unauthorized_client"
	AccessDenied           = "access_denied"
	UnsupportedGrantType   = "unsupported_grant_type"
	InvalidScope           = "invalid_scope"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	InvalidTarget          = "invalid_target"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"

	// Device flow and CIBA polling codes (RFC 8628 §3.5, CIBA §11)
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	ExpiredToken         = "expired_token"

	// CIBA backchannel authentication codes (CIBA §13)
	UnknownUserID      = "unknown_user_id"
	MissingUserCode    = "missing_user_code"
	InvalidUserCode    = "invalid_user_code"
	InvalidBindingMsg  = "invalid_binding_message"
	TransactionFailed  = "transaction_failed"

	// DPoP codes (RFC 9449 §5, §8)
	InvalidDPoPProof = "invalid_dpop_proof"
	UseDPoPNonce     = "use_dpop_nonce"
)

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidRequest, Description: description}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidClient, Description: description}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidGrant, Description: description}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidScope, Description: description}
}

func NewInvalidTarget(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidTarget, Description: description}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{Code: ServerError, Description: description}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: UnauthorizedClient, Description: description}
}

func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{Code: AccessDenied, Description: description}
}

func NewExpiredToken(description string) *OAuth2Error {
	return &OAuth2Error{Code: ExpiredToken, Description: description}
}

func NewUnknownUserID(description string) *OAuth2Error {
	return &OAuth2Error{Code: UnknownUserID, Description: description}
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: "The authorization grant type is not supported",
	}
}

// PKCE specific errors
func NewPKCERequired() *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: "PKCE is required for this client",
	}
}

func NewInvalidPKCE(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: fmt.Sprintf("PKCE validation failed: %s", description),
	}
}

// DPoP specific errors
func NewInvalidDPoPProof(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidDPoPProof, Description: description}
}

// NewUseDPoPNonce signals the client to retry with the supplied server nonce.
// The nonce itself travels in the DPoP-Nonce response header, not the body.
func NewUseDPoPNonce() *OAuth2Error {
	return &OAuth2Error{
		Code:        UseDPoPNonce,
		Description: "Authorization server requires nonce in DPoP proof",
	}
}
