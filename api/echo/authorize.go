package echoapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/api"
	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/metrics"
	"go.oluso.dev/idp/journey"
	"go.oluso.dev/idp/protocol"
	"go.oluso.dev/idp/services"
)

// journeyResponse is returned while an authorization journey waits for user
// input. The caller advances it by POSTing the prompts back with the
// journey_id.
type journeyResponse struct {
	JourneyID     string   `json:"journey_id"`
	Status        string   `json:"status"`
	Prompts       []string `json:"prompts,omitempty"`
	UIMode        string   `json:"ui_mode,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// AuthorizeHandler drives the authorization code flow. The first request
// starts an authentication journey; subsequent POSTs carrying journey_id
// advance it. Once the journey completes, an authorization code is issued
// and the user agent is redirected back to the client.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	values := oa.requestValues(c)
	req := protocol.ParseAuthorizeRequest(values)

	// A pushed request replaces the inline parameters wholesale.
	if req.RequestURI != "" {
		stored, ok := oa.par.Resolve(ctx, req.ClientID, req.RequestURI)
		if !ok {
			metrics.AuthorizeRequestsTotal.WithLabelValues("invalid_request").Inc()
			return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("unknown or expired request_uri"))
		}
		if req.State != "" {
			stored.State = req.State
		}
		req = stored
	}

	cl, err := oa.clients.GetClient(ctx, req.ClientID)
	if err != nil || cl == nil || !cl.IsActive {
		metrics.AuthorizeRequestsTotal.WithLabelValues("invalid_client").Inc()
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidClient("unknown client"))
	}

	if err := req.Validate(cl); err != nil {
		metrics.AuthorizeRequestsTotal.WithLabelValues("invalid_request").Inc()
		return oa.authorizeError(c, cl, req, err)
	}

	// The correlation ID rides the journey round trip: minted on the first
	// request, posted back by the UI on every advance.
	pctx := protocol.NewContext(protocol.EndpointAuthorize).
		WithCorrelationID(values.Get("correlation_id"))
	pctx.ClientID = cl.ID
	pctx.TenantID = cl.TenantID
	pctx.UIMode = protocol.ResolveUIMode(cl, req.UIMode)
	c.Response().Header().Set("X-Correlation-Id", pctx.CorrelationID)

	input := collectJourneyInput(values)

	if journeyID := values.Get("journey_id"); journeyID != "" {
		pctx.JourneyID = journeyID
		return oa.advanceAuthorization(c, pctx, cl, req, journeyID, input)
	}
	return oa.startAuthorization(c, pctx, cl, req, input)
}

func (oa *OAuth2API) startAuthorization(c echo.Context, pctx *protocol.Context, cl *client.Client, req *protocol.AuthorizeRequest, input map[string]string) error {
	ctx := c.Request().Context()

	matchCtx := domain.PolicyMatchContext{
		Type:      domain.JourneyTypeLogin,
		TenantID:  cl.TenantID,
		ClientID:  cl.ID,
		ACRValues: req.ACRValues,
		Scopes:    req.RequestedScopes(),
	}

	outcome, err := oa.journeys.Start(ctx, matchCtx, input)
	if err != nil {
		if errors.Is(err, serrors.ErrJourneyPolicyNotFound) {
			log.Warn().Str("client_id", cl.ID).Msg("no journey policy matches authorization request")
			return oa.authorizeError(c, cl, req, serrors.NewServerError("no authentication journey configured"))
		}
		return oa.authorizeError(c, cl, req, serrors.NewServerError("journey start failed"))
	}

	return oa.finishAuthorization(c, pctx, cl, req, outcome)
}

func (oa *OAuth2API) advanceAuthorization(c echo.Context, pctx *protocol.Context, cl *client.Client, req *protocol.AuthorizeRequest, journeyID string, input map[string]string) error {
	ctx := c.Request().Context()

	outcome, err := oa.journeys.Advance(ctx, journeyID, input)
	if err != nil {
		if errors.Is(err, serrors.ErrJourneyNotFound) {
			return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("unknown or expired journey"))
		}
		return oa.authorizeError(c, cl, req, serrors.NewServerError("journey advance failed"))
	}

	return oa.finishAuthorization(c, pctx, cl, req, outcome)
}

func (oa *OAuth2API) finishAuthorization(c echo.Context, pctx *protocol.Context, cl *client.Client, req *protocol.AuthorizeRequest, outcome *journey.JourneyOutcome) error {
	ctx := c.Request().Context()

	pctx.JourneyID = outcome.State.JourneyID
	pctx.PolicyID = outcome.State.PolicyID

	switch {
	case outcome.Failed != nil:
		metrics.AuthorizeRequestsTotal.WithLabelValues("denied").Inc()
		return oa.redirectError(c, req, serrors.NewAccessDenied("authentication failed"))

	case outcome.Pending != nil:
		// A headless client has no user agent to prompt; the journey either
		// completes on the inline input or not at all.
		if pctx.UIMode == client.UIModeHeadless {
			metrics.AuthorizeRequestsTotal.WithLabelValues("denied").Inc()
			return oa.redirectError(c, req, serrors.NewAccessDenied("authentication requires interactive input"))
		}
		return c.JSON(http.StatusOK, journeyResponse{
			JourneyID:     outcome.State.JourneyID,
			Status:        "pending",
			Prompts:       outcome.Pending.Prompts,
			UIMode:        string(pctx.UIMode),
			CorrelationID: pctx.CorrelationID,
		})
	}

	if outcome.State.UserID == "" {
		metrics.AuthorizeRequestsTotal.WithLabelValues("denied").Inc()
		return oa.redirectError(c, req, serrors.NewAccessDenied("journey completed without an authenticated user"))
	}

	grant := services.AuthCodeGrant{
		UserID:   outcome.State.UserID,
		TenantID: outcome.State.TenantID,
		AuthTime: time.Now().UTC(),
		ACR:      stringFromJourneyData(outcome.State, "acr"),
	}

	code, err := oa.oauth.GenerateAuthCode(ctx, req, grant)
	if err != nil {
		return oa.authorizeError(c, cl, req, err)
	}

	redirect, _ := url.Parse(req.RedirectURI)
	q := redirect.Query()
	q.Set("code", code)
	q.Set("iss", oa.issuer)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, redirect.String())
}

// authorizeError renders a validation failure. Errors are redirected to the
// client only when the redirect URI itself validated; everything else is
// answered directly so an attacker cannot bounce users to arbitrary URIs.
func (oa *OAuth2API) authorizeError(c echo.Context, cl *client.Client, req *protocol.AuthorizeRequest, err error) error {
	var oauthErr *serrors.OAuth2Error
	if !errors.As(err, &oauthErr) {
		oauthErr = serrors.NewServerError("authorization failed")
	}

	if req.RedirectURI != "" && cl.AllowsRedirectURI(req.RedirectURI) &&
		oauthErr.Code != serrors.InvalidClient {
		return oa.redirectError(c, req, oauthErr)
	}

	return c.JSON(statusForOAuthCode(oauthErr.Code), oauthErr)
}

func (oa *OAuth2API) redirectError(c echo.Context, req *protocol.AuthorizeRequest, oauthErr *serrors.OAuth2Error) error {
	redirect, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		return c.JSON(http.StatusBadRequest, oauthErr)
	}

	q := redirect.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, redirect.String())
}

// PushedAuthorizationHandler implements RFC 9126. The client authenticates
// and pushes its authorize parameters; the response is a one-time
// request_uri for the front channel.
func (oa *OAuth2API) PushedAuthorizationHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := clientCredentials(c)
	cl, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret)
	if err != nil {
		return writeOAuthError(c, err)
	}

	values := oa.requestValues(c)
	req := protocol.ParseAuthorizeRequest(values)
	req.ClientID = cl.ID
	if req.RequestURI != "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("request_uri must not be pushed"))
	}
	if err := req.Validate(cl); err != nil {
		return writeOAuthError(c, err)
	}

	requestURI, expiresIn, err := oa.par.Push(ctx, cl.ID, req)
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusCreated, api.PushedAuthResponse{
		RequestURI: requestURI,
		ExpiresIn:  expiresIn,
	})
}

// requestValues merges query and form parameters into one url.Values.
func (oa *OAuth2API) requestValues(c echo.Context) url.Values {
	values := url.Values{}
	for k, vs := range c.QueryParams() {
		values[k] = vs
	}
	if form, err := c.FormParams(); err == nil {
		for k, vs := range form {
			values[k] = vs
		}
	}
	return values
}

// collectJourneyInput extracts user-supplied journey input, skipping
// protocol parameters.
func collectJourneyInput(values url.Values) map[string]string {
	input := make(map[string]string)
	for k, vs := range values {
		if isProtocolParam(k) || len(vs) == 0 {
			continue
		}
		input[k] = vs[0]
	}
	return input
}

func isProtocolParam(name string) bool {
	switch name {
	case "client_id", "redirect_uri", "response_type", "scope", "state",
		"nonce", "code_challenge", "code_challenge_method", "prompt",
		"acr_values", "resource", "ui_mode", "request_uri", "journey_id",
		"correlation_id", "dpop_jkt":
		return true
	}
	return strings.HasPrefix(name, "client_")
}

func stringFromJourneyData(state *domain.JourneyState, key string) string {
	if state.JourneyData == nil {
		return ""
	}
	if v, ok := state.JourneyData[key].(string); ok {
		return v
	}
	return ""
}
