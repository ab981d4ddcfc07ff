package api

const (
	TokenTypeAccessToken  = "access_token"
	TokenTypeRefreshToken = "refresh_token"
	TokenTypeIDToken      = "id_token"
)

// RFC 8693 token type identifiers.
const (
	TokenTypeURNAccessToken  = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeURNRefreshToken = "urn:ietf:params:oauth:token-type:refresh_token"
	TokenTypeURNIDToken      = "urn:ietf:params:oauth:token-type:id_token"
)

// TokenResponse represents an OAuth 2.0 token response.
type TokenResponse struct {
	IDToken         string `json:"id_token,omitempty"`
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	Scope           string `json:"scope,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
	// DPoPNonce is set alongside a use_dpop_nonce challenge so clients can
	// retry without a second round trip.
	DPoPNonce string `json:"dpop_nonce,omitempty"`
}

// ErrorResponse is the RFC 6749 error body. Error codes are wire contract
// and must not be renamed.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	State            string `json:"state,omitempty"`
}

// DeviceAuthResponse is the response from the device authorization endpoint.
// See RFC 8628, Section 3.2.
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// CibaAuthResponse is the successful response from the backchannel
// authentication endpoint (OIDC CIBA Core, Section 7.3).
type CibaAuthResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int    `json:"expires_in"`
	Interval  int    `json:"interval,omitempty"`
}

// PushedAuthResponse is the response from the PAR endpoint (RFC 9126).
type PushedAuthResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// IntrospectionResponse is the RFC 7662 introspection body. Only Active is
// guaranteed; the remaining fields are present for active tokens.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
	// Cnf carries the jkt confirmation claim for DPoP-bound tokens.
	Cnf map[string]string `json:"cnf,omitempty"`
}

// OpenIDConfiguration represents the OpenID Connect discovery document.
//
//nolint:tagliatelle
type OpenIDConfiguration struct {
	Issuer                                     string   `json:"issuer"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint"`
	TokenEndpoint                              string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint                *string  `json:"device_authorization_endpoint,omitempty"`
	BackchannelAuthenticationEndpoint          *string  `json:"backchannel_authentication_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint         *string  `json:"pushed_authorization_request_endpoint,omitempty"`
	EndSessionEndpoint                         *string  `json:"end_session_endpoint,omitempty"`
	UserInfoEndpoint                           string   `json:"userinfo_endpoint"`
	JwksURI                                    string   `json:"jwks_uri"`
	RegistrationEndpoint                       *string  `json:"registration_endpoint,omitempty"`
	ScopesSupported                            []string `json:"scopes_supported"`
	ResponseTypesSupported                     []string `json:"response_types_supported"`
	ResponseModesSupported                     []string `json:"response_modes_supported"`
	GrantTypesSupported                        []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported"`
	TokenEndpointAuthSigningAlgSupported       []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	RevocationEndpoint                         *string  `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint                      *string  `json:"introspection_endpoint,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported,omitempty"`
	SubjectTypesSupported                      []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                            []string `json:"claims_supported,omitempty"`
	ClaimsParameterSupported                   bool     `json:"claims_parameter_supported"`
	RequestParameterSupported                  bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported               bool     `json:"request_uri_parameter_supported"`
	RequirePushedAuthorizationRequests         bool     `json:"require_pushed_authorization_requests,omitempty"`
	DPoPSigningAlgValuesSupported              []string `json:"dpop_signing_alg_values_supported,omitempty"`
	BackchannelTokenDeliveryModesSupported     []string `json:"backchannel_token_delivery_modes_supported,omitempty"`
	BackchannelUserCodeParameterSupported      bool     `json:"backchannel_user_code_parameter_supported,omitempty"`
	BackchannelAuthRequestSigningAlgsSupported []string `json:"backchannel_authentication_request_signing_alg_values_supported,omitempty"`
}

// UserInfo contains the standard OIDC claims served from the userinfo
// endpoint, gated by the granted scopes.
type UserInfo struct {
	Sub string `json:"sub"`

	Name              *string `json:"name,omitempty"`
	GivenName         *string `json:"given_name,omitempty"`
	FamilyName        *string `json:"family_name,omitempty"`
	PreferredUsername *string `json:"preferred_username,omitempty"`
	Locale            *string `json:"locale,omitempty"`
	UpdatedAt         *int64  `json:"updated_at,omitempty"`

	Email         *string `json:"email,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
}
