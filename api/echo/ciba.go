package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/audit"
	"go.oluso.dev/idp/protocol"
	"go.oluso.dev/idp/services"
)

// BackchannelAuthenticationHandler implements the CIBA backchannel
// authentication endpoint. The client authenticates, names the user with
// exactly one hint, and receives an auth_req_id to poll the token endpoint
// with.
func (oa *OAuth2API) BackchannelAuthenticationHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := clientCredentials(c)
	cl, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret)
	if err != nil {
		return writeOAuthError(c, err)
	}

	values, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
	}

	req := &services.CibaAuthenticationRequest{
		LoginHint:               values.Get("login_hint"),
		LoginHintToken:          values.Get("login_hint_token"),
		IDTokenHint:             values.Get("id_token_hint"),
		Scope:                   values.Get("scope"),
		BindingMessage:          values.Get("binding_message"),
		UserCode:                values.Get("user_code"),
		ClientNotificationToken: values.Get("client_notification_token"),
		ACRValues:               splitParam(values.Get("acr_values")),
		RequestedExpiry:         protocol.CibaRequestedExpiry(values),
	}

	resp, err := oa.ciba.Authenticate(ctx, req, cl)
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// cibaResolveRequest is the body of the internal approve endpoint.
type cibaResolveRequest struct {
	SessionID string `json:"session_id"`
	UserCode  string `json:"user_code,omitempty"`
}

// CibaApproveHandler records the user's approval from the authentication
// device. Approval is idempotent; approving a request that already left the
// pending state reports ok=false without error.
func (oa *OAuth2API) CibaApproveHandler(c echo.Context) error {
	ctx := c.Request().Context()
	authReqID := c.Param("auth_req_id")

	var body cibaResolveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
	}

	valid, err := oa.ciba.CheckUserCode(ctx, authReqID, body.UserCode)
	if err != nil {
		return writeOAuthError(c, err)
	}
	if !valid {
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.InvalidUserCode,
			Description: "user code does not match",
		})
	}

	ok, err := oa.ciba.Approve(ctx, authReqID, body.SessionID)
	audit.Record(audit.Event{
		Action:  audit.ActionCibaApprove,
		Actor:   body.SessionID,
		Target:  authReqID,
		Applied: ok,
		Err:     err,
	})
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"ok": ok})
}

// CibaDenyHandler records the user's refusal.
func (oa *OAuth2API) CibaDenyHandler(c echo.Context) error {
	ctx := c.Request().Context()
	authReqID := c.Param("auth_req_id")

	ok, err := oa.ciba.Deny(ctx, authReqID)
	audit.Record(audit.Event{
		Action:  audit.ActionCibaDeny,
		Target:  authReqID,
		Applied: ok,
		Err:     err,
	})
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"ok": ok})
}

// DeviceAuthorizationHandler implements the RFC 8628 device authorization
// endpoint.
func (oa *OAuth2API) DeviceAuthorizationHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := clientCredentials(c)
	cl, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret)
	if err != nil {
		return writeOAuthError(c, err)
	}

	resp, err := oa.oauth.InitiateDeviceAuthorization(ctx, cl, c.FormValue("scope"), oa.issuer+"/device")
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// deviceResolveRequest is the body of the device verification endpoints.
type deviceResolveRequest struct {
	UserCode string `json:"user_code"`
	UserID   string `json:"user_id,omitempty"`
}

// DeviceApproveHandler records the user's approval from the verification UI.
func (oa *OAuth2API) DeviceApproveHandler(c echo.Context) error {
	ctx := c.Request().Context()

	var body deviceResolveRequest
	if err := c.Bind(&body); err != nil || body.UserCode == "" || body.UserID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code and user_id are required"))
	}

	auth, err := oa.oauth.ApproveDeviceAuth(ctx, body.UserCode, body.UserID)
	audit.Record(audit.Event{
		Action:  audit.ActionDeviceApprove,
		Actor:   body.UserID,
		Target:  body.UserCode,
		Applied: err == nil,
		Err:     err,
	})
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"ok": true, "client_id": auth.ClientID, "scope": auth.Scope})
}

// DeviceDenyHandler records the user's refusal from the verification UI.
func (oa *OAuth2API) DeviceDenyHandler(c echo.Context) error {
	ctx := c.Request().Context()

	var body deviceResolveRequest
	if err := c.Bind(&body); err != nil || body.UserCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code is required"))
	}

	err := oa.oauth.DenyDeviceAuth(ctx, body.UserCode)
	audit.Record(audit.Event{
		Action:  audit.ActionDeviceDeny,
		Target:  body.UserCode,
		Applied: err == nil,
		Err:     err,
	})
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
