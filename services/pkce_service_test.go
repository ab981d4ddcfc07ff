package services

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.oluso.dev/idp/protocol"
)

func TestVerifyPKCE(t *testing.T) {
	verifier := strings.Repeat("v", 43)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		want      bool
	}{
		{"s256 match", challenge, protocol.CodeChallengeMethodS256, verifier, true},
		{"s256 mismatch", challenge, protocol.CodeChallengeMethodS256, strings.Repeat("w", 43), false},
		{"plain match", verifier, protocol.CodeChallengeMethodPlain, verifier, true},
		{"empty method defaults to plain", verifier, "", verifier, true},
		{"no recorded challenge", "", protocol.CodeChallengeMethodS256, "", true},
		{"missing verifier", challenge, protocol.CodeChallengeMethodS256, "", false},
		{"verifier below 43 chars", challenge, protocol.CodeChallengeMethodS256, strings.Repeat("v", 42), false},
		{"verifier above 128 chars", challenge, protocol.CodeChallengeMethodS256, strings.Repeat("v", 129), false},
		{"unknown method", challenge, "S512", verifier, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPKCE(tt.challenge, tt.method, tt.verifier))
		})
	}
}
