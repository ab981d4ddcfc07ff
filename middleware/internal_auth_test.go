package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedEcho(key string) *echo.Echo {
	e := echo.New()
	g := e.Group("/internal", InternalKeyAuth(key))
	g.POST("/action", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	})
	return e
}

func TestInternalKeyAuth_AcceptsMatchingKey(t *testing.T) {
	e := newGuardedEcho("sekrit")

	req := httptest.NewRequest(http.MethodPost, "/internal/action", nil)
	req.Header.Set("X-Internal-Key", "sekrit")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternalKeyAuth_AcceptsBearerScheme(t *testing.T) {
	e := newGuardedEcho("sekrit")

	req := httptest.NewRequest(http.MethodPost, "/internal/action", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer sekrit")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternalKeyAuth_RejectsMissingOrWrongKey(t *testing.T) {
	e := newGuardedEcho("sekrit")

	for _, header := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/action", nil)
		if header != "" {
			req.Header.Set("X-Internal-Key", header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestInternalKeyAuth_EmptyKeyDisablesCheck(t *testing.T) {
	e := newGuardedEcho("")

	req := httptest.NewRequest(http.MethodPost, "/internal/action", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
