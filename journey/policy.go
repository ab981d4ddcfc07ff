package journey

import (
	"sort"

	"go.oluso.dev/idp/domain"
)

// MatchPolicies selects the best policy for a journey type and tenant from a
// candidate set. Candidates are filtered to enabled policies scoped to the
// context's tenant or global, ordered by descending priority with
// tenant-specific policies ahead of global ones at equal priority. The first
// candidate whose type matches and whose conditions all hold wins; no match
// returns nil, and callers must fall back to a default policy.
//
// Store implementations use this to serve FindMatching.
func MatchPolicies(policies []*domain.JourneyPolicy, matchCtx domain.PolicyMatchContext) *domain.JourneyPolicy {
	candidates := make([]*domain.JourneyPolicy, 0, len(policies))
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !p.Global() && p.TenantID != matchCtx.TenantID {
			continue
		}
		if p.Type != matchCtx.Type {
			continue
		}
		candidates = append(candidates, p)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		// Tenant-specific before global at equal priority.
		return !candidates[i].Global() && candidates[j].Global()
	})

	for _, p := range candidates {
		if policyApplies(p, matchCtx) {
			return p
		}
	}
	return nil
}

// policyApplies reports whether every condition of the policy holds.
// A policy without conditions always applies.
func policyApplies(p *domain.JourneyPolicy, matchCtx domain.PolicyMatchContext) bool {
	for _, cond := range p.Conditions {
		if !EvaluatePolicyCondition(cond, matchCtx) {
			return false
		}
	}
	return true
}
