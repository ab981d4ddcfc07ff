package domain

import "time"

// AuthCode represents an OAuth 2.0 authorization code record.
// Redemption is one-time: once exchanged the backing store must delete or
// invalidate it, and a mismatched redirect_uri or PKCE verifier fails closed.
type AuthCode struct {
	Code        string    `bson:"_id" json:"code"`                // Unique authorization code
	ClientID    string    `bson:"client_id" json:"client_id"`     // Client application ID
	UserID      string    `bson:"user_id" json:"user_id"`         // User who authorized the request
	TenantID    string    `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	RedirectURI string    `bson:"redirect_uri" json:"redirect_uri"` // Client's callback URL
	Scope       string    `bson:"scope" json:"scope"`             // Granted scopes
	ExpiresAt   time.Time `bson:"expires_at" json:"expires_at"`
	Used        bool      `bson:"used" json:"used"` // Whether code has been exchanged
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`

	CodeChallenge       string `bson:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod string `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`

	// OIDC context captured at authorization time, carried into the ID token.
	Nonce    string    `bson:"nonce,omitempty" json:"nonce,omitempty"`
	AuthTime time.Time `bson:"auth_time,omitempty" json:"auth_time,omitempty"`
	ACR      string    `bson:"acr,omitempty" json:"acr,omitempty"`
	AMR      []string  `bson:"amr,omitempty" json:"amr,omitempty"`

	// DPoPKeyThumbprint is the jkt the code was bound to at the authorize
	// endpoint (dpop_jkt parameter). Empty when the code is unbound.
	DPoPKeyThumbprint string `bson:"dpop_jkt,omitempty" json:"dpop_jkt,omitempty"`
}
