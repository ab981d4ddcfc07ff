// Package echoapi exposes the provider's protocol endpoints over HTTP using
// the Echo framework.
package echoapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	"go.oluso.dev/idp/dpop"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/journey"
	"go.oluso.dev/idp/services"
)

// OAuth2API holds the endpoint handlers and their dependencies.
type OAuth2API struct {
	oauth    *services.OAuthService
	ciba     *services.CibaService
	tokens   *services.TokenService
	par      *services.PARService
	journeys *journey.Engine
	clients  client.ClientStore
	users    domain.UserService
	signer   *services.TokenSigner
	proofs   *dpop.Validator
	issuer   string
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(
	oauth *services.OAuthService,
	ciba *services.CibaService,
	tokens *services.TokenService,
	par *services.PARService,
	journeys *journey.Engine,
	clients client.ClientStore,
	users domain.UserService,
	signer *services.TokenSigner,
	proofs *dpop.Validator,
	issuer string,
) *OAuth2API {
	return &OAuth2API{
		oauth:    oauth,
		ciba:     ciba,
		tokens:   tokens,
		par:      par,
		journeys: journeys,
		clients:  clients,
		users:    users,
		signer:   signer,
		proofs:   proofs,
		issuer:   issuer,
	}
}

// RegisterRoutes registers the protocol routes. Middleware passed here is
// applied to the internal resolution endpoints only.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo, internalMW ...echo.MiddlewareFunc) {
	e.GET("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/token", oa.TokenHandler)
	e.POST("/oauth2/par", oa.PushedAuthorizationHandler)
	e.POST("/oauth2/device_authorization", oa.DeviceAuthorizationHandler)
	e.POST("/oauth2/bc-authorize", oa.BackchannelAuthenticationHandler)
	e.POST("/oauth2/introspect", oa.IntrospectHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)
	e.GET("/oauth2/userinfo", oa.UserInfoHandler)

	// Resolution endpoints for the authentication device and the device
	// verification UI. They are not client-facing; deployments guard them
	// with the internal middleware or network policy.
	internal := e.Group("/internal", internalMW...)
	internal.POST("/ciba/:auth_req_id/approve", oa.CibaApproveHandler)
	internal.POST("/ciba/:auth_req_id/deny", oa.CibaDenyHandler)
	internal.POST("/device/approve", oa.DeviceApproveHandler)
	internal.POST("/device/deny", oa.DeviceDenyHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
}

// statusForOAuthCode maps protocol error codes to HTTP status codes.
func statusForOAuthCode(code string) int {
	switch code {
	case serrors.InvalidClient:
		return http.StatusUnauthorized
	case serrors.ServerError:
		return http.StatusInternalServerError
	case serrors.TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// writeOAuthError renders any service error as an RFC 6749 error body.
// Sentinel flow-control errors carry their code as the error message;
// everything unrecognized collapses to server_error.
func writeOAuthError(c echo.Context, err error) error {
	var oauthErr *serrors.OAuth2Error
	if errors.As(err, &oauthErr) {
		return c.JSON(statusForOAuthCode(oauthErr.Code), oauthErr)
	}

	switch {
	case errors.Is(err, serrors.ErrAuthorizationPending),
		errors.Is(err, serrors.ErrSlowDown),
		errors.Is(err, serrors.ErrExpiredToken),
		errors.Is(err, serrors.ErrAccessDenied):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{Code: err.Error()})
	}

	log.Error().Err(err).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
}

// clientCredentials extracts client authentication from the Authorization
// header (client_secret_basic) or the form body (client_secret_post).
func clientCredentials(c echo.Context) (clientID, clientSecret string) {
	if id, secret, ok := c.Request().BasicAuth(); ok {
		return id, secret
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}
