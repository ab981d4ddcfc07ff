// Package audit records grant resolution decisions as structured events.
// Audit entries go to the standard log stream tagged with audit=true so
// operators can route them separately.
package audit

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Actions recorded by the resolution endpoints.
const (
	ActionCibaApprove   = "ciba.approve"
	ActionCibaDeny      = "ciba.deny"
	ActionDeviceApprove = "device.approve"
	ActionDeviceDeny    = "device.deny"
)

// Event is one recorded decision. Target identifies the request being
// resolved (auth_req_id or user_code); Actor is the resolving identity
// when one is known.
type Event struct {
	Action  string
	Actor   string
	Target  string
	Applied bool
	Err     error
}

// Record writes the event.
func Record(evt Event) {
	var e *zerolog.Event
	if evt.Err != nil {
		e = log.Warn().Err(evt.Err)
	} else {
		e = log.Info()
	}
	e = e.Bool("audit", true).
		Str("action", evt.Action).
		Bool("applied", evt.Applied)
	if evt.Actor != "" {
		e = e.Str("actor", evt.Actor)
	}
	if evt.Target != "" {
		e = e.Str("target", evt.Target)
	}
	e.Msg("grant resolution")
}
