package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"go.oluso.dev/idp/protocol"
)

// VerifyPKCE checks a code_verifier against the challenge recorded when the
// authorization code was issued (RFC 7636). An empty method defaults to
// plain. Verification fails closed: any mismatch, unknown method or
// out-of-bounds verifier for a recorded challenge is a rejection.
func VerifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		// No challenge was recorded; nothing to verify.
		return true
	}
	// RFC 7636 section 4.1 bounds the verifier to 43..128 characters.
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}

	switch method {
	case "", protocol.CodeChallengeMethodPlain:
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case protocol.CodeChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	default:
		return false
	}
}
