package client

import (
	"time"
)

// ClientType represents the type of OAuth2 client
type ClientType string

const (
	// Confidential clients can securely store secrets
	Confidential ClientType = "confidential"
	// Public clients cannot securely store secrets (mobile apps, SPAs)
	Public ClientType = "public"
)

// UIMode names how the authorize endpoint drives the user interaction.
type UIMode string

const (
	UIModeJourney    UIMode = "journey"
	UIModeStandalone UIMode = "standalone"
	UIModeHeadless   UIMode = "headless"
)

// Client represents an OAuth2/OIDC client application and the policy
// snapshot the protocol core validates requests against. It is resolved once
// per request and treated as immutable for the request's duration.
//
//nolint:tagliatelle
type Client struct {
	ID                string     `bson:"client_id" json:"client_id,omitempty"`
	Secret            string     `bson:"client_secret,omitempty" json:"secret,omitempty"`
	Type              ClientType `bson:"client_type" json:"type,omitempty"`
	TenantID          string     `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Name              string     `bson:"client_name" json:"name,omitempty"`
	Description       string     `bson:"description,omitempty" json:"description,omitempty"`
	RedirectURIs      []string   `bson:"redirect_uris" json:"redirect_uris,omitempty"`
	PostLogoutURIs    []string   `bson:"post_logout_redirect_uris,omitempty" json:"post_logout_uris,omitempty"`
	AllowedScopes     []string   `bson:"allowed_scopes" json:"allowed_scopes,omitempty"`
	AllowedGrantTypes []string   `bson:"allowed_grant_types" json:"allowed_grant_types,omitempty"`
	TokenEndpointAuth string     `bson:"token_endpoint_auth_method" json:"token_endpoint_auth,omitempty"`
	RequireConsent    bool       `bson:"require_consent" json:"require_consent,omitempty"`
	RequirePKCE       bool       `bson:"require_pkce" json:"require_pkce,omitempty"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at,omitempty"`
	IsActive          bool       `bson:"is_active" json:"is_active,omitempty"`

	// Token lifetimes. Zero values fall back to server defaults.
	AccessTokenLifetime  time.Duration `bson:"access_token_lifetime,omitempty" json:"access_token_lifetime,omitempty"`
	RefreshTokenLifetime time.Duration `bson:"refresh_token_lifetime,omitempty" json:"refresh_token_lifetime,omitempty"`
	IDTokenLifetime      time.Duration `bson:"id_token_lifetime,omitempty" json:"id_token_lifetime,omitempty"`

	// DPoP policy. A RequireDPoP client must never be issued an unbound
	// token; that failure is hard, not a degradation.
	RequireDPoP bool `bson:"require_dpop,omitempty" json:"require_dpop,omitempty"`

	// CIBA policy.
	CibaTokenDeliveryMode    string        `bson:"ciba_token_delivery_mode,omitempty" json:"ciba_token_delivery_mode,omitempty"` // poll | ping | push
	CibaNotificationEndpoint string        `bson:"ciba_notification_endpoint,omitempty" json:"ciba_notification_endpoint,omitempty"`
	CibaRequestLifetime      time.Duration `bson:"ciba_request_lifetime,omitempty" json:"ciba_request_lifetime,omitempty"`
	CibaPollingInterval      int           `bson:"ciba_polling_interval,omitempty" json:"ciba_polling_interval,omitempty"` // seconds
	CibaRequireUserCode      bool          `bson:"ciba_require_user_code,omitempty" json:"ciba_require_user_code,omitempty"`

	// AllowedUIModes restricts which ui_mode values the client may request.
	// Empty means all modes are allowed.
	AllowedUIModes []UIMode `bson:"allowed_ui_modes,omitempty" json:"allowed_ui_modes,omitempty"`
}

// HasGrantType reports whether the client may use the given grant type.
func (c *Client) HasGrantType(grantType string) bool {
	for _, gt := range c.AllowedGrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// HasScope reports whether a single scope is allowed for the client.
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered, using
// exact string comparison.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsUIMode reports whether the client may request the given UI mode.
func (c *Client) AllowsUIMode(mode UIMode) bool {
	if len(c.AllowedUIModes) == 0 {
		return true
	}
	for _, m := range c.AllowedUIModes {
		if m == mode {
			return true
		}
	}
	return false
}

// PKCERequired reports whether token requests from this client must carry a
// code_verifier. Public clients always require PKCE.
func (c *Client) PKCERequired() bool {
	return c.RequirePKCE || c.Type == Public
}

// IsConfidential reports whether the client can hold credentials.
func (c *Client) IsConfidential() bool {
	return c.Type == Confidential
}

// ClientFilter defines filtering options for listing clients
type ClientFilter struct {
	Type     ClientType
	TenantID string
	IsActive bool
	Search   string
}
