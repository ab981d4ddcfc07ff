// Package protocol holds the per-request value objects of the OAuth/OIDC
// front door: endpoint dispatch, UI mode resolution and the validated
// authorize/token request models. Nothing here talks to storage; validation
// is pure and the result objects are immutable for the request's duration.
package protocol

import (
	"github.com/google/uuid"

	"go.oluso.dev/idp/client"
)

// EndpointType identifies which protocol endpoint a request targets.
type EndpointType string

const (
	EndpointAuthorize                 EndpointType = "authorize"
	EndpointToken                     EndpointType = "token"
	EndpointMetadata                  EndpointType = "metadata"
	EndpointUserInfo                  EndpointType = "userinfo"
	EndpointLogout                    EndpointType = "logout"
	EndpointIntrospection             EndpointType = "introspection"
	EndpointRevocation                EndpointType = "revocation"
	EndpointDeviceAuthorization       EndpointType = "device_authorization"
	EndpointPushedAuthorization       EndpointType = "pushed_authorization"
	EndpointBackchannelAuthentication EndpointType = "backchannel_authentication"
	EndpointJWKS                      EndpointType = "jwks"
)

// Context binds one protocol request to its endpoint, resolved UI mode and
// correlation ID. The correlation ID survives user-agent redirects so state
// can be recovered across the round trip. Context is a value object and
// holds no behavior beyond construction.
type Context struct {
	Endpoint      EndpointType
	UIMode        client.UIMode
	TenantID      string
	ClientID      string
	JourneyID     string
	PolicyID      string
	CorrelationID string
}

// NewContext creates a request context with a fresh correlation ID.
func NewContext(endpoint EndpointType) *Context {
	return &Context{
		Endpoint:      endpoint,
		UIMode:        client.UIModeJourney,
		CorrelationID: uuid.NewString(),
	}
}

// WithCorrelationID resumes a context whose correlation ID arrived back from
// a redirect. Empty IDs fall back to a fresh one.
func (c *Context) WithCorrelationID(id string) *Context {
	if id != "" {
		c.CorrelationID = id
	}
	return c
}

// ResolveUIMode picks the UI mode for the request. The default is the
// journey UI; a ui_mode request parameter overrides it when the client's
// configuration allows that mode. Disallowed or unknown requests keep the
// default.
func ResolveUIMode(cl *client.Client, requested string) client.UIMode {
	mode := client.UIModeJourney
	if requested == "" {
		return mode
	}

	switch client.UIMode(requested) {
	case client.UIModeJourney, client.UIModeStandalone, client.UIModeHeadless:
		candidate := client.UIMode(requested)
		if cl == nil || cl.AllowsUIMode(candidate) {
			mode = candidate
		}
	}
	return mode
}
