package domain

import "time"

// CibaStatus represents the status of a backchannel authentication request.
type CibaStatus string

const (
	CibaStatusPending  CibaStatus = "pending"
	CibaStatusApproved CibaStatus = "approved"
	CibaStatusDenied   CibaStatus = "denied"
	CibaStatusExpired  CibaStatus = "expired"
	CibaStatusConsumed CibaStatus = "consumed"
)

// Terminal reports whether no further status transition is allowed.
// Transitions are monotonic: once a request leaves Pending it never returns,
// and Approved only advances to Consumed at token redemption.
func (s CibaStatus) Terminal() bool {
	return s == CibaStatusDenied || s == CibaStatusExpired || s == CibaStatusConsumed
}

// CibaRequest holds the state of one CIBA (Client-Initiated Backchannel
// Authentication) attempt. It is created at the bc-authorize endpoint,
// resolved out-of-band on the user's authentication device, and consumed
// exactly once at the token endpoint.
type CibaRequest struct {
	ID             string     `bson:"_id" json:"id"`
	AuthReqID      string     `bson:"auth_req_id" json:"auth_req_id"`
	ClientID       string     `bson:"client_id" json:"client_id"`
	TenantID       string     `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	SubjectID      string     `bson:"subject_id" json:"subject_id"` // Resolved user
	Scope          string     `bson:"scope" json:"scope"`
	Status         CibaStatus `bson:"status" json:"status"`
	BindingMessage string     `bson:"binding_message,omitempty" json:"binding_message,omitempty"`
	// UserCodeHash is a bcrypt hash of the user_code, when the client
	// requires one. The plaintext code is never persisted.
	UserCodeHash string `bson:"user_code_hash,omitempty" json:"-"`
	// SessionID is recorded at approval time and binds the grant to the
	// authentication-device session that approved it.
	SessionID    string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Interval     int       `bson:"interval" json:"interval"` // Minimum poll interval, seconds
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	ResolvedAt   time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	LastPolledAt time.Time `bson:"last_polled_at,omitempty" json:"last_polled_at,omitempty"`

	// DPoPKeyThumbprint is set when the token request that redeems this
	// grant is DPoP-bound; carried so refresh tokens keep the binding.
	DPoPKeyThumbprint string `bson:"dpop_jkt,omitempty" json:"dpop_jkt,omitempty"`
}

// Expired reports whether the request's wall-clock lifetime has passed.
func (r *CibaRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CibaDeliveryMode is how the outcome of a backchannel request reaches the
// client: poll (client polls the token endpoint), ping (server notifies the
// client, client then polls), push (server delivers tokens directly).
type CibaDeliveryMode string

const (
	CibaDeliveryPoll CibaDeliveryMode = "poll"
	CibaDeliveryPing CibaDeliveryMode = "ping"
	CibaDeliveryPush CibaDeliveryMode = "push"
)
