package protocol

import (
	"net/url"
	"strings"

	"go.oluso.dev/idp/client"
	serrors "go.oluso.dev/idp/errors"
)

// Response types and related authorize constants.
const (
	ResponseTypeCode = "code"

	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// Prompt values defined by OIDC Core 3.1.2.1.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// AuthorizeRequest models one authorization attempt. It is created on
// arrival at the authorize endpoint and either consumed immediately or
// persisted for later redemption (PAR); it is never mutated after
// validation.
type AuthorizeRequest struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	Nonce        string

	CodeChallenge       string
	CodeChallengeMethod string

	// DPoPKeyThumbprint is the dpop_jkt parameter pre-binding the issued
	// code to a client key (RFC 9449 section 10).
	DPoPKeyThumbprint string

	PromptModes []string
	ACRValues   []string
	// Resources are RFC 8707 resource indicators.
	Resources []string

	UIMode string
	// RequestURI references a pushed authorization request (RFC 9126).
	RequestURI string

	requestedScopes []string
}

// ParseAuthorizeRequest reads an AuthorizeRequest from query or form values.
// Parsing does not validate; call Validate with the resolved client.
func ParseAuthorizeRequest(values url.Values) *AuthorizeRequest {
	req := &AuthorizeRequest{
		ClientID:            values.Get("client_id"),
		ResponseType:        values.Get("response_type"),
		RedirectURI:         values.Get("redirect_uri"),
		Scope:               values.Get("scope"),
		State:               values.Get("state"),
		Nonce:               values.Get("nonce"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
		DPoPKeyThumbprint:   values.Get("dpop_jkt"),
		PromptModes:         splitSpace(values.Get("prompt")),
		ACRValues:           splitSpace(values.Get("acr_values")),
		Resources:           values["resource"],
		UIMode:              values.Get("ui_mode"),
		RequestURI:          values.Get("request_uri"),
	}
	req.requestedScopes = splitSpace(req.Scope)
	return req
}

// RequestedScopes returns the scope parameter tokenized on spaces.
func (r *AuthorizeRequest) RequestedScopes() []string {
	if r.requestedScopes == nil {
		r.requestedScopes = splitSpace(r.Scope)
	}
	return r.requestedScopes
}

// IsOpenIDRequest reports whether the openid scope was requested, which
// obligates the issuer to mint an ID token at redemption.
func (r *AuthorizeRequest) IsOpenIDRequest() bool {
	for _, s := range r.RequestedScopes() {
		if s == "openid" {
			return true
		}
	}
	return false
}

// Validate checks the request against the resolved client's policy. The
// returned errors use the protocol vocabulary and are safe to surface.
//
//nolint:cyclop
func (r *AuthorizeRequest) Validate(cl *client.Client) error {
	if r.ClientID == "" {
		return serrors.NewInvalidRequest("client_id is required")
	}
	if cl == nil || cl.ID != r.ClientID {
		return serrors.NewInvalidClient("unknown client")
	}

	if r.ResponseType != ResponseTypeCode {
		return serrors.NewInvalidRequest("unsupported response_type")
	}

	if r.RedirectURI == "" {
		return serrors.NewInvalidRequest("redirect_uri is required")
	}
	// Exact string match against the registered URIs, no normalization.
	if !cl.AllowsRedirectURI(r.RedirectURI) {
		return serrors.NewInvalidRequest("redirect_uri is not registered for this client")
	}

	for _, scope := range r.RequestedScopes() {
		if !cl.HasScope(scope) {
			return serrors.NewInvalidScope("scope " + scope + " is not allowed for this client")
		}
	}

	if cl.PKCERequired() && r.CodeChallenge == "" {
		return serrors.NewPKCERequired()
	}
	if r.CodeChallenge != "" {
		switch r.CodeChallengeMethod {
		case "", CodeChallengeMethodPlain, CodeChallengeMethodS256:
		default:
			return serrors.NewInvalidRequest("unsupported code_challenge_method")
		}
	}

	for _, mode := range r.PromptModes {
		switch mode {
		case PromptNone, PromptLogin, PromptConsent, PromptSelectAccount:
		default:
			return serrors.NewInvalidRequest("unsupported prompt value")
		}
	}
	// prompt=none excludes every other prompt value.
	if len(r.PromptModes) > 1 {
		for _, mode := range r.PromptModes {
			if mode == PromptNone {
				return serrors.NewInvalidRequest("prompt=none cannot be combined with other prompt values")
			}
		}
	}

	for _, resource := range r.Resources {
		u, err := url.Parse(resource)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return serrors.NewInvalidTarget("resource indicators must be absolute URIs without fragments")
		}
	}

	return nil
}

func splitSpace(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
