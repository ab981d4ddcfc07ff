// Package middleware holds HTTP middleware shared across route groups.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// InternalKeyAuth guards the internal resolution endpoints with a shared
// key, presented either as "Authorization: Bearer <key>" or in the
// X-Internal-Key header. An empty configured key disables the check for
// deployments that fence the endpoints off at the network layer.
func InternalKeyAuth(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return next(c)
			}

			presented := c.Request().Header.Get("X-Internal-Key")
			if presented == "" {
				auth := c.Request().Header.Get(echo.HeaderAuthorization)
				if strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
