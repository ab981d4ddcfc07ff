package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.oluso.dev/idp/domain"
)

func loginPolicy(id, tenantID string, priority int, conditions ...domain.PolicyCondition) *domain.JourneyPolicy {
	return &domain.JourneyPolicy{
		ID:         id,
		Name:       id,
		Type:       domain.JourneyTypeLogin,
		TenantID:   tenantID,
		Enabled:    true,
		Priority:   priority,
		Conditions: conditions,
	}
}

func TestMatchPolicies_HighestPriorityWins(t *testing.T) {
	policies := []*domain.JourneyPolicy{
		loginPolicy("low", "t1", 10),
		loginPolicy("high", "t1", 50),
		loginPolicy("mid", "t1", 20),
	}

	got := MatchPolicies(policies, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Equal(t, "high", got.ID)
}

func TestMatchPolicies_TenantBeatsGlobalAtSamePriority(t *testing.T) {
	policies := []*domain.JourneyPolicy{
		loginPolicy("global", "", 10),
		loginPolicy("tenant", "t1", 10),
	}

	got := MatchPolicies(policies, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Equal(t, "tenant", got.ID)
}

func TestMatchPolicies_OtherTenantExcluded(t *testing.T) {
	policies := []*domain.JourneyPolicy{
		loginPolicy("other", "t2", 99),
		loginPolicy("global", "", 1),
	}

	got := MatchPolicies(policies, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Equal(t, "global", got.ID)
}

func TestMatchPolicies_DisabledExcluded(t *testing.T) {
	disabled := loginPolicy("disabled", "t1", 99)
	disabled.Enabled = false
	policies := []*domain.JourneyPolicy{
		disabled,
		loginPolicy("enabled", "t1", 1),
	}

	got := MatchPolicies(policies, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Equal(t, "enabled", got.ID)
}

func TestMatchPolicies_TypeMustMatch(t *testing.T) {
	signup := loginPolicy("signup", "t1", 10)
	signup.Type = domain.JourneyTypeSignup

	got := MatchPolicies([]*domain.JourneyPolicy{signup}, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Nil(t, got)
}

func TestMatchPolicies_ConditionFallThrough(t *testing.T) {
	policies := []*domain.JourneyPolicy{
		loginPolicy("mfa", "t1", 50, domain.PolicyCondition{Field: "acr_values", Operator: "contains", Value: "mfa"}),
		loginPolicy("default", "t1", 10),
	}

	got := MatchPolicies(policies, domain.PolicyMatchContext{
		Type:      domain.JourneyTypeLogin,
		TenantID:  "t1",
		ACRValues: []string{"urn:acr:mfa"},
	})
	assert.Equal(t, "mfa", got.ID)

	got = MatchPolicies(policies, domain.PolicyMatchContext{
		Type:     domain.JourneyTypeLogin,
		TenantID: "t1",
	})
	assert.Equal(t, "default", got.ID)
}

func TestMatchPolicies_NoMatchReturnsNil(t *testing.T) {
	got := MatchPolicies(nil, domain.PolicyMatchContext{Type: domain.JourneyTypeLogin, TenantID: "t1"})
	assert.Nil(t, got)
}

func TestEvaluatePolicyCondition_Operators(t *testing.T) {
	matchCtx := domain.PolicyMatchContext{
		ClientID: "web-app",
		TenantID: "t1",
		Scopes:   []string{"openid", "profile"},
	}

	assert.True(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "client_id", Operator: "equals", Value: "WEB-APP"}, matchCtx))
	assert.True(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "client_id", Operator: "starts_with", Value: "web"}, matchCtx))
	assert.True(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "scopes", Operator: "equals", Value: "profile"}, matchCtx))
	assert.False(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "scopes", Operator: "equals", Value: "email"}, matchCtx))
	assert.True(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "acr_values", Operator: "not_exists"}, matchCtx))
	// Unknown operators never match.
	assert.False(t, EvaluatePolicyCondition(domain.PolicyCondition{Field: "client_id", Operator: "matches_glob", Value: "*"}, matchCtx))
}

func TestEvaluateStepCondition_Sources(t *testing.T) {
	state := &domain.JourneyState{JourneyData: map[string]any{"country": "HU"}}
	input := map[string]string{"email": "a@b.com"}

	assert.True(t, EvaluateStepCondition(domain.StepCondition{Source: "data", Key: "country", Operator: "equals", Value: "hu"}, state, input))
	assert.True(t, EvaluateStepCondition(domain.StepCondition{Source: "input", Key: "email", Operator: "ends_with", Value: "b.com"}, state, input))
	assert.False(t, EvaluateStepCondition(domain.StepCondition{Source: "input", Key: "phone", Operator: "exists"}, state, input))
}
