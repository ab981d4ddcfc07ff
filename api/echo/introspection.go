package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/api"
	serrors "go.oluso.dev/idp/errors"
)

// IntrospectHandler implements RFC 7662 token introspection. Callers must
// authenticate; unknown, expired and revoked tokens all answer with
// active=false rather than an error.
func (oa *OAuth2API) IntrospectHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := clientCredentials(c)
	if _, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret); err != nil {
		return writeOAuthError(c, err)
	}

	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("token parameter is required"))
	}

	return c.JSON(http.StatusOK, oa.oauth.Introspect(ctx, token))
}

// RevokeHandler implements RFC 7009 token revocation. Revoking an unknown
// token still answers 200; the client learns nothing about token validity
// from this endpoint.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := clientCredentials(c)
	if _, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret); err != nil {
		return writeOAuthError(c, err)
	}

	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("token parameter is required"))
	}

	if err := oa.oauth.RevokeToken(ctx, token); err != nil {
		log.Error().Err(err).Msg("token revocation failed")
	}

	return c.JSON(http.StatusOK, echo.Map{})
}

// UserInfoHandler serves OIDC claims for the bearer of a valid access
// token, gated by the token's granted scopes.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	ctx := c.Request().Context()

	raw := bearerToken(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}

	claims, err := oa.tokens.ValidateAccessToken(ctx, raw)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}

	user, err := oa.users.FindByID(ctx, claims.Subject)
	if err != nil || user == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}

	info := api.UserInfo{Sub: user.ID}
	if scopeListContains(claims.Scope, "email") {
		info.Email = &user.Email
	}
	if scopeListContains(claims.Scope, "profile") {
		info.PreferredUsername = &user.Username
		updatedAt := user.UpdatedAt.Unix()
		info.UpdatedAt = &updatedAt
	}

	return c.JSON(http.StatusOK, info)
}

// bearerToken extracts the access token from the Authorization header,
// accepting both Bearer and DPoP schemes.
func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	switch parts[0] {
	case "Bearer", "DPoP":
		return parts[1]
	}
	return ""
}

func scopeListContains(scope, name string) bool {
	for _, s := range strings.Fields(scope) {
		if s == name {
			return true
		}
	}
	return false
}
