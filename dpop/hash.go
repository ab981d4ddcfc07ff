package dpop

import (
	"crypto/sha256"
	"encoding/base64"
)

// ComputeAccessTokenHash returns the ath value for an access token:
// SHA-256 over the token's UTF-8 bytes, base64url-encoded without padding
// (RFC 9449 §4.3).
func ComputeAccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
