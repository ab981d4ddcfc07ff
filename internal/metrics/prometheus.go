package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_tokens_issued_total",
		Help: "Total number of tokens issued, by grant type.",
	}, []string{"grant_type"})

	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_tokens_refreshed_total",
		Help: "Total number of refresh token rotations.",
	})

	CibaRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_ciba_requests_total",
		Help: "Total number of backchannel authentication requests, by delivery mode.",
	}, []string{"mode"})

	CibaOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_ciba_outcomes_total",
		Help: "Terminal outcomes of backchannel authentication requests.",
	}, []string{"outcome"})

	DPoPProofsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_dpop_proofs_total",
		Help: "DPoP proof validations, by result.",
	}, []string{"result"})

	JourneysStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_journeys_started_total",
		Help: "Total number of journeys started.",
	})

	JourneysCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_journeys_completed_total",
		Help: "Total number of journeys completed.",
	})

	JourneysFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_journeys_failed_total",
		Help: "Total number of journeys that ended in a failed step.",
	})

	AuthorizeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_authorize_requests_total",
		Help: "Authorization endpoint requests, by outcome.",
	}, []string{"outcome"})
)

// Register registers the custom metrics on the given registry. It should be
// called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}
	collectors := []prometheus.Collector{
		TokensIssuedTotal,
		TokensRefreshedTotal,
		CibaRequestsTotal,
		CibaOutcomesTotal,
		DPoPProofsTotal,
		JourneysStartedTotal,
		JourneysCompletedTotal,
		JourneysFailedTotal,
		AuthorizeRequestsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register Prometheus metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
