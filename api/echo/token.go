package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/dpop"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/protocol"
)

// TokenHandler handles token requests for every supported grant type. It
// authenticates the client, validates an attached DPoP proof when present,
// and dispatches to the grant state machines.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	ctx := c.Request().Context()

	values, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
	}

	clientID, clientSecret := clientCredentials(c)
	cl, err := oa.oauth.ValidateClient(ctx, clientID, clientSecret)
	if err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("client authentication failed")
		return writeOAuthError(c, err)
	}

	req := protocol.ParseTokenRequest(values)
	req.DPoPProof = c.Request().Header.Get("DPoP")

	if err := req.Validate(cl); err != nil {
		return writeOAuthError(c, err)
	}

	proofJKT, handled, dpopErr := oa.validateProof(c, req.DPoPProof)
	if handled {
		return dpopErr
	}

	resp, err := oa.oauth.Exchange(ctx, req, cl, proofJKT)
	if err != nil {
		return writeOAuthError(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// validateProof checks the DPoP header when one is attached. When handled
// is true the failure response has already been rendered and the caller
// returns the accompanying error as-is.
func (oa *OAuth2API) validateProof(c echo.Context, proof string) (jkt string, handled bool, err error) {
	if proof == "" {
		return "", false, nil
	}

	result, err := oa.proofs.Validate(c.Request().Context(), dpop.ValidationContext{
		Proof:      proof,
		HTTPMethod: c.Request().Method,
		HTTPURL:    oa.issuer + c.Request().URL.Path,
	})
	if err != nil {
		return "", true, writeOAuthError(c, err)
	}

	if result.NonceRequired {
		c.Response().Header().Set("DPoP-Nonce", result.ServerNonce)
		return "", true, c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.UseDPoPNonce,
			Description: "server requires a nonce in the DPoP proof",
		})
	}
	if !result.Valid {
		return "", true, c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.InvalidDPoPProof,
			Description: result.ErrorDescription,
		})
	}

	return result.JwkThumbprint, false, nil
}
