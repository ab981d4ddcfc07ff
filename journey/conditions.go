package journey

import (
	"strings"

	"go.oluso.dev/idp/domain"
)

// evaluate applies one comparison operator over a set of candidate values;
// any element may satisfy it. All comparisons are case-insensitive.
func evaluate(operator, operand string, values []string) bool {
	op := strings.ToLower(strings.TrimSpace(operator))
	needle := strings.ToLower(operand)

	nonEmpty := false
	for _, v := range values {
		if v != "" {
			nonEmpty = true
			break
		}
	}

	switch op {
	case "exists":
		return nonEmpty
	case "not_exists":
		return !nonEmpty
	case "eq", "equals":
		for _, v := range values {
			if strings.ToLower(v) == needle {
				return true
			}
		}
		return false
	case "not_equals":
		for _, v := range values {
			if strings.ToLower(v) == needle {
				return false
			}
		}
		return true
	case "contains":
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	case "starts_with":
		for _, v := range values {
			if strings.HasPrefix(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	case "ends_with":
		for _, v := range values {
			if strings.HasSuffix(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	default:
		// Unknown operators never match; the policy falls through to the
		// next candidate instead of failing the request.
		return false
	}
}

// EvaluateStepCondition evaluates one step condition against accumulated
// journey data and the current user input.
func EvaluateStepCondition(cond domain.StepCondition, state *domain.JourneyState, input map[string]string) bool {
	var values []string

	switch strings.ToLower(cond.Source) {
	case "input":
		if v, ok := input[cond.Key]; ok {
			values = []string{v}
		}
	case "data", "":
		if v, ok := state.JourneyData[cond.Key]; ok {
			values = []string{toString(v)}
		}
	}

	return evaluate(cond.Operator, cond.Value, values)
}

// EvaluatePolicyCondition evaluates one policy condition against the request
// context a policy is being matched for.
func EvaluatePolicyCondition(cond domain.PolicyCondition, matchCtx domain.PolicyMatchContext) bool {
	var values []string

	switch strings.ToLower(cond.Field) {
	case "client_id":
		values = []string{matchCtx.ClientID}
	case "tenant_id":
		values = []string{matchCtx.TenantID}
	case "acr_values":
		values = matchCtx.ACRValues
	case "scopes":
		values = matchCtx.Scopes
	}

	return evaluate(cond.Operator, cond.Value, values)
}
