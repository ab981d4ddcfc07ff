package protocol

import (
	"net/url"
	"strconv"

	"go.oluso.dev/idp/client"
	serrors "go.oluso.dev/idp/errors"
)

// Grant types the token endpoint accepts.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeCiba              = "urn:openid:params:grant-type:ciba"
	GrantTypeTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"
)

// TokenRequest models one token endpoint exchange.
type TokenRequest struct {
	GrantType string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// device_code
	DeviceCode string

	// ciba
	AuthReqID string
	UserCode  string

	// token exchange (RFC 8693)
	SubjectToken       string
	SubjectTokenType   string
	ActorToken         string
	ActorTokenType     string
	RequestedTokenType string
	Audience           string

	Scope     string
	Resources []string

	// DPoPProof is the DPoP header value; empty for bearer requests.
	DPoPProof string
}

// ParseTokenRequest reads a TokenRequest from form values. The DPoP header
// is attached by the transport layer.
func ParseTokenRequest(values url.Values) *TokenRequest {
	return &TokenRequest{
		GrantType:          values.Get("grant_type"),
		Code:               values.Get("code"),
		RedirectURI:        values.Get("redirect_uri"),
		CodeVerifier:       values.Get("code_verifier"),
		RefreshToken:       values.Get("refresh_token"),
		DeviceCode:         values.Get("device_code"),
		AuthReqID:          values.Get("auth_req_id"),
		UserCode:           values.Get("user_code"),
		SubjectToken:       values.Get("subject_token"),
		SubjectTokenType:   values.Get("subject_token_type"),
		ActorToken:         values.Get("actor_token"),
		ActorTokenType:     values.Get("actor_token_type"),
		RequestedTokenType: values.Get("requested_token_type"),
		Audience:           values.Get("audience"),
		Scope:              values.Get("scope"),
		Resources:          values["resource"],
	}
}

// Validate checks grant-specific parameter shape and the client's policy.
// A PKCE-required client must present a code_verifier; a RequireDPoP client
// must present a proof. Both are hard failures, never soft passes.
//
//nolint:cyclop
func (r *TokenRequest) Validate(cl *client.Client) error {
	if r.GrantType == "" {
		return serrors.NewInvalidRequest("grant_type is required")
	}
	if cl == nil {
		return serrors.NewInvalidClient("unknown client")
	}
	if !cl.HasGrantType(r.GrantType) {
		return serrors.NewUnauthorizedClient("client is not authorized for grant type " + r.GrantType)
	}
	if cl.RequireDPoP && r.DPoPProof == "" {
		return serrors.NewInvalidDPoPProof("client requires DPoP-bound tokens")
	}

	switch r.GrantType {
	case GrantTypeAuthorizationCode:
		if r.Code == "" {
			return serrors.NewInvalidRequest("code is required")
		}
		if r.RedirectURI == "" {
			return serrors.NewInvalidRequest("redirect_uri is required")
		}
		if cl.PKCERequired() && r.CodeVerifier == "" {
			return serrors.NewPKCERequired()
		}

	case GrantTypeRefreshToken:
		if r.RefreshToken == "" {
			return serrors.NewInvalidRequest("refresh_token is required")
		}

	case GrantTypeDeviceCode:
		if r.DeviceCode == "" {
			return serrors.NewInvalidRequest("device_code is required")
		}

	case GrantTypeCiba:
		if r.AuthReqID == "" {
			return serrors.NewInvalidRequest("auth_req_id is required")
		}

	case GrantTypeClientCredentials:
		if !cl.IsConfidential() {
			return serrors.NewUnauthorizedClient("client_credentials requires a confidential client")
		}

	case GrantTypeTokenExchange:
		if r.SubjectToken == "" || r.SubjectTokenType == "" {
			return serrors.NewInvalidRequest("subject_token and subject_token_type are required")
		}
		if r.ActorToken != "" && r.ActorTokenType == "" {
			return serrors.NewInvalidRequest("actor_token_type is required when actor_token is present")
		}

	default:
		return serrors.NewUnsupportedGrantType()
	}

	for _, resource := range r.Resources {
		u, err := url.Parse(resource)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return serrors.NewInvalidTarget("resource indicators must be absolute URIs without fragments")
		}
	}

	return nil
}

// CibaRequestedExpiry parses the requested_expiry form field, zero when
// absent or malformed.
func CibaRequestedExpiry(values url.Values) int {
	raw := values.Get("requested_expiry")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
