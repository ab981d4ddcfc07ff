package errors

import "errors"

// Sentinel errors used for flow control inside the grant state machines.
// The endpoint layer maps these onto the protocol error vocabulary above.
var (
	ErrAuthorizationPending = errors.New(AuthorizationPending)
	ErrSlowDown             = errors.New(SlowDown)
	ErrExpiredToken         = errors.New(ExpiredToken)
	ErrAccessDenied         = errors.New(AccessDenied)

	ErrAuthCodeNotFound    = errors.New("authorization code not found")
	ErrCibaRequestNotFound = errors.New("backchannel authentication request not found")
	ErrDeviceCodeNotFound  = errors.New("device code not found")
	ErrUserCodeNotFound    = errors.New("user code not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrClientNotFound      = errors.New("client not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrConflict            = errors.New("concurrent state transition lost")

	ErrJourneyNotFound       = errors.New("journey state not found")
	ErrJourneyPolicyNotFound = errors.New("journey policy not found")
)
