package dpop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	serrors "go.oluso.dev/idp/errors"
)

// proofClaims is the payload of a DPoP proof JWT. jti and iat come from the
// registered claim set; htm, htu, ath and nonce are DPoP-specific.
type proofClaims struct {
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Validator validates DPoP proofs against the current request and the replay
// and nonce stores.
type Validator struct {
	config Config
	replay ReplayStore
	nonces NonceStore
}

// NewValidator creates a Validator.
func NewValidator(config Config, replay ReplayStore, nonces NonceStore) *Validator {
	if config.ClockSkew <= 0 {
		config.ClockSkew = DefaultConfig().ClockSkew
	}
	if config.ProofLifetime <= 0 {
		config.ProofLifetime = DefaultConfig().ProofLifetime
	}
	if config.NonceTTL <= 0 {
		config.NonceTTL = DefaultConfig().NonceTTL
	}
	return &Validator{config: config, replay: replay, nonces: nonces}
}

// Validate checks one proof. Protocol failures are reported inside the
// result; the returned error is reserved for infrastructure faults (store
// unavailability).
//
// The signature is verified against the key embedded in the proof's own jwk
// header. The accepted algorithms are a fixed allowlist; the header's alg is
// never used to select anything beyond membership in that list.
func (v *Validator) Validate(ctx context.Context, vc ValidationContext) (*ValidationResult, error) {
	if vc.Proof == "" {
		return failure("missing DPoP proof"), nil
	}
	if len(vc.Proof) > maxProofSize {
		return failure("proof exceeds maximum size"), nil
	}

	var jwk *JSONWebKey

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &proofClaims{}
	_, err := parser.ParseWithClaims(vc.Proof, claims, func(token *jwt.Token) (any, error) {
		typ, _ := token.Header["typ"].(string)
		if typ != HeaderTyp {
			return nil, fmt.Errorf("typ must be %q", HeaderTyp)
		}

		rawJWK, ok := token.Header["jwk"]
		if !ok {
			return nil, fmt.Errorf("jwk header is required")
		}
		encoded, err := json.Marshal(rawJWK)
		if err != nil {
			return nil, fmt.Errorf("malformed jwk header: %w", err)
		}
		parsed := &JSONWebKey{}
		if err := json.Unmarshal(encoded, parsed); err != nil {
			return nil, fmt.Errorf("malformed jwk header: %w", err)
		}
		key, err := parsed.PublicKey()
		if err != nil {
			return nil, err
		}
		jwk = parsed
		return key, nil
	})
	if err != nil {
		return failure(fmt.Sprintf("proof validation failed: %v", err)), nil
	}

	if claims.ID == "" {
		return failure("jti claim is required"), nil
	}
	if claims.HTM == "" || claims.HTU == "" {
		return failure("htm and htu claims are required"), nil
	}

	// htm is case-sensitive per RFC 9449.
	if claims.HTM != vc.HTTPMethod {
		return failure(fmt.Sprintf("htm mismatch: proof %q, request %q", claims.HTM, vc.HTTPMethod)), nil
	}

	proofURI, err := normalizeHTU(claims.HTU)
	if err != nil {
		return failure("invalid htu claim"), nil
	}
	requestURI, err := normalizeHTU(vc.HTTPURL)
	if err != nil {
		return failure("invalid request URI"), nil
	}
	if proofURI != requestURI {
		return failure(fmt.Sprintf("htu mismatch: proof %q, request %q", proofURI, requestURI)), nil
	}

	if claims.IssuedAt == nil {
		return failure("iat claim is required"), nil
	}
	now := time.Now()
	iat := claims.IssuedAt.Time
	if iat.After(now.Add(v.config.ClockSkew)) {
		return failure("proof iat is in the future"), nil
	}
	if now.Sub(iat) > v.config.ProofLifetime {
		return failure("proof is too old"), nil
	}

	if vc.RequireNonce {
		valid := false
		if claims.Nonce != "" {
			valid, err = v.nonces.Validate(ctx, claims.Nonce)
			if err != nil {
				return nil, fmt.Errorf("nonce store: %w", err)
			}
		}
		if !valid {
			fresh, err := v.nonces.Generate(ctx, v.config.NonceTTL)
			if err != nil {
				return nil, fmt.Errorf("nonce store: %w", err)
			}
			return &ValidationResult{
				NonceRequired:    true,
				ServerNonce:      fresh,
				ErrorCode:        serrors.UseDPoPNonce,
				ErrorDescription: "server nonce required in DPoP proof",
			}, nil
		}
	}

	if vc.ExpectedAccessTokenHash != "" && claims.ATH != vc.ExpectedAccessTokenHash {
		return failure("ath claim does not match presented access token"), nil
	}

	thumbprint, err := jwk.Thumbprint()
	if err != nil {
		return failure("cannot compute key thumbprint"), nil
	}
	if vc.ExpectedThumbprint != "" && thumbprint != vc.ExpectedThumbprint {
		return failure("proof key does not match token binding"), nil
	}

	replayed, err := v.replay.Record(ctx, claims.ID, v.config.ProofLifetime)
	if err != nil {
		return nil, fmt.Errorf("replay store: %w", err)
	}
	if replayed {
		log.Warn().Str("jti", claims.ID).Msg("DPoP proof replay detected")
		return failure("proof jti has already been used"), nil
	}

	return &ValidationResult{
		Valid:         true,
		JwkThumbprint: thumbprint,
		JSONWebKey:    jwk,
		JTI:           claims.ID,
	}, nil
}

func failure(description string) *ValidationResult {
	return &ValidationResult{
		ErrorCode:        serrors.InvalidDPoPProof,
		ErrorDescription: description,
	}
}

// normalizeHTU reduces a URI to scheme://host/path for comparison: scheme and
// host lowercased, default ports dropped, query and fragment ignored.
func normalizeHTU(rawURI string) (string, error) {
	if rawURI == "" {
		return "", fmt.Errorf("empty URI")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URI must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}
