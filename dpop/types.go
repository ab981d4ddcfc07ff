// Package dpop implements validation of DPoP proof JWTs (RFC 9449).
//
// A DPoP proof binds an HTTP request, and transitively the tokens issued or
// presented on it, to a client-held key. The validator checks the proof's
// signature against the key embedded in its header, verifies the htm/htu/iat
// claims against the current request, enforces JTI single use, and optionally
// requires a server-issued nonce.
package dpop

import "time"

const (
	// HeaderTyp is the required typ header value for DPoP proofs.
	HeaderTyp = "dpop+jwt"

	// maxProofSize caps accepted proofs. Oversized proofs are rejected
	// before any parsing work is done.
	maxProofSize = 8 * 1024
)

// ValidationContext carries everything needed to validate one proof. It is a
// per-request value object and is never persisted.
type ValidationContext struct {
	// Proof is the raw value of the DPoP request header.
	Proof string

	// HTTPMethod and HTTPURL describe the current request. The URL is
	// compared against the proof's htu claim with query and fragment
	// stripped, per RFC 9449 guidance.
	HTTPMethod string
	HTTPURL    string

	// ExpectedAccessTokenHash, when non-empty, requires the proof's ath
	// claim to equal it (resource-server validation). Compute it with
	// ComputeAccessTokenHash.
	ExpectedAccessTokenHash string

	// ExpectedThumbprint, when non-empty, requires the proof key's
	// RFC 7638 thumbprint to equal it (token-bound validation).
	ExpectedThumbprint string

	// RequireNonce demands a valid server nonce inside the proof. When the
	// nonce is missing or stale the result is NonceRequired, carrying a
	// freshly minted nonce; validation never silently succeeds.
	RequireNonce bool
}

// ValidationResult is the outcome of validating one proof. A Valid result
// always carries both the JWK thumbprint and the parsed key.
type ValidationResult struct {
	Valid bool

	// JwkThumbprint is the base64url SHA-256 thumbprint (RFC 7638) of the
	// proof key. This is the jkt tokens get bound to.
	JwkThumbprint string

	// JSONWebKey is the parsed public key from the proof header.
	JSONWebKey *JSONWebKey

	// JTI is the proof's unique identifier, recorded for replay protection.
	JTI string

	// NonceRequired is set when RequireNonce was demanded and the proof
	// carried no acceptable nonce. ServerNonce then holds a fresh nonce for
	// the client to retry with.
	NonceRequired bool
	ServerNonce   string

	// ErrorCode and ErrorDescription describe the failure in protocol
	// vocabulary (invalid_dpop_proof or use_dpop_nonce) when Valid is false.
	ErrorCode        string
	ErrorDescription string
}

// Config controls proof freshness acceptance.
type Config struct {
	// ClockSkew is the tolerated difference between the proof iat and
	// server time, in both directions. Default 60s per RFC 9449.
	ClockSkew time.Duration

	// ProofLifetime is how long a JTI is retained for replay detection.
	// A proof replayed inside this window is rejected.
	ProofLifetime time.Duration

	// NonceTTL is how long an issued server nonce stays acceptable.
	NonceTTL time.Duration
}

// DefaultConfig returns the default validator configuration.
func DefaultConfig() Config {
	return Config{
		ClockSkew:     60 * time.Second,
		ProofLifetime: 5 * time.Minute,
		NonceTTL:      10 * time.Minute,
	}
}
