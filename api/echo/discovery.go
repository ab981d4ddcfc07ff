package echoapi

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"

	"github.com/labstack/echo/v4"

	"go.oluso.dev/idp/api"
)

// OpenIDConfigurationHandler serves the OIDC discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	base := oa.issuer

	config := api.OpenIDConfiguration{
		Issuer:                             base,
		AuthorizationEndpoint:              base + "/oauth2/authorize",
		TokenEndpoint:                      base + "/oauth2/token",
		UserInfoEndpoint:                   base + "/oauth2/userinfo",
		JwksURI:                            base + "/.well-known/jwks.json",
		DeviceAuthorizationEndpoint:        toPtr(base + "/oauth2/device_authorization"),
		BackchannelAuthenticationEndpoint:  toPtr(base + "/oauth2/bc-authorize"),
		PushedAuthorizationRequestEndpoint: toPtr(base + "/oauth2/par"),
		IntrospectionEndpoint:              toPtr(base + "/oauth2/introspect"),
		RevocationEndpoint:                 toPtr(base + "/oauth2/revoke"),
		ScopesSupported:                    []string{"openid", "profile", "email", "offline_access"},
		ResponseTypesSupported:             []string{"code"},
		ResponseModesSupported:             []string{"query"},
		GrantTypesSupported: []string{
			"authorization_code",
			"refresh_token",
			"client_credentials",
			"urn:ietf:params:oauth:grant-type:device_code",
			"urn:openid:params:grant-type:ciba",
			"urn:ietf:params:oauth:grant-type:token-exchange",
		},
		TokenEndpointAuthMethodsSupported:      []string{"client_secret_basic", "client_secret_post", "none"},
		SubjectTypesSupported:                  []string{"public"},
		IDTokenSigningAlgValuesSupported:       []string{"RS256", "HS256"},
		CodeChallengeMethodsSupported:          []string{"plain", "S256"},
		ClaimsSupported:                        []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "acr", "amr", "nonce", "email", "preferred_username"},
		DPoPSigningAlgValuesSupported:          []string{"RS256", "ES256"},
		BackchannelTokenDeliveryModesSupported: []string{"poll", "ping", "push"},
		BackchannelUserCodeParameterSupported:  true,
	}

	return c.JSON(http.StatusOK, config)
}

// jwksDocument is the RFC 7517 key set body.
type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSHandler publishes the RSA validation keys. Symmetric keys never
// appear here.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	keys, err := oa.signer.GetValidationKeys(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	doc := jwksDocument{Keys: []jwksKey{}}
	for _, key := range keys {
		pub, ok := key.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		doc.Keys = append(doc.Keys, jwksKey{
			Kty: "RSA",
			Kid: key.KeyID,
			Use: "sig",
			Alg: key.Algorithm,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}

	return c.JSON(http.StatusOK, doc)
}

// toPtr returns a pointer to the given value, for the optional discovery
// fields.
func toPtr[T any](s T) *T {
	return &s
}
