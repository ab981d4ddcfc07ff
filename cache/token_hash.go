package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token string. Stores key records by hash so refresh
// token values never appear as plaintext keys, and lookups stay
// constant-length regardless of token size.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	hashedBytes := hasher.Sum(nil)
	return hex.EncodeToString(hashedBytes)
}
