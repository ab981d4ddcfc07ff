package domain

import "time"

// JourneyState is the mutable bag of data accumulated while a user walks a
// multi-step authentication flow. It is owned exclusively by the journey
// engine for the lifetime of one flow and deleted on completion or expiry.
type JourneyState struct {
	JourneyID   string         `bson:"_id" json:"journey_id"`
	PolicyID    string         `bson:"policy_id" json:"policy_id"`
	TenantID    string         `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID    string         `bson:"client_id,omitempty" json:"client_id,omitempty"`
	UserID      string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	CurrentStep int            `bson:"current_step" json:"current_step"`
	Completed   bool           `bson:"completed" json:"completed"`
	JourneyData map[string]any `bson:"journey_data" json:"journey_data"`
	ExpiresAt   time.Time      `bson:"expires_at" json:"expires_at"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}

// JourneyType identifies what a journey is for.
type JourneyType string

const (
	JourneyTypeLogin          JourneyType = "login"
	JourneyTypeSignup         JourneyType = "signup"
	JourneyTypeDataCollection JourneyType = "data_collection"
)

// JourneyPolicy is the declarative configuration for one journey: an ordered
// list of steps plus the conditions under which the policy applies. Policies
// are immutable at runtime; the engine never mutates them.
type JourneyPolicy struct {
	ID         string            `bson:"_id" json:"id"`
	Name       string            `bson:"name" json:"name"`
	Type       JourneyType       `bson:"type" json:"type"`
	TenantID   string            `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"` // Empty means global
	Enabled    bool              `bson:"enabled" json:"enabled"`
	Priority   int               `bson:"priority" json:"priority"`
	Conditions []PolicyCondition `bson:"conditions,omitempty" json:"conditions,omitempty"`
	Steps      []JourneyStep     `bson:"steps" json:"steps"`
	CreatedAt  time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at" json:"updated_at"`
}

// Global reports whether the policy applies to every tenant.
func (p *JourneyPolicy) Global() bool { return p.TenantID == "" }

// PolicyCondition gates a policy on a property of the request context.
type PolicyCondition struct {
	// Field is what to inspect: client_id, tenant_id, acr_values, scopes.
	Field string `bson:"field" json:"field"`
	// Operator is one of eq, not_equals, contains, starts_with, ends_with,
	// exists, not_exists. Comparison is case-insensitive.
	Operator string `bson:"operator" json:"operator"`
	Value    string `bson:"value,omitempty" json:"value,omitempty"`
}

// JourneyStep is one step of a journey policy, dispatched to a step handler
// by Type.
type JourneyStep struct {
	ID       string          `bson:"id" json:"id"`
	Type     string          `bson:"type" json:"type"` // transform, condition, collect, ...
	Name     string          `bson:"name,omitempty" json:"name,omitempty"`
	Rules    []TransformRule `bson:"rules,omitempty" json:"rules,omitempty"`
	// Conditions gate the whole step; a step whose conditions do not hold
	// is skipped, not failed.
	Conditions []StepCondition `bson:"conditions,omitempty" json:"conditions,omitempty"`
	// Prompts lists the input keys a collect step expects from the user.
	Prompts []string `bson:"prompts,omitempty" json:"prompts,omitempty"`
	// Config holds operator-supplied settings transform rules with the
	// config source read from.
	Config map[string]string `bson:"config,omitempty" json:"config,omitempty"`
}

// TransformRule maps one input to one output key through a named transform.
// Rules are immutable configuration; each rule executes independently.
type TransformRule struct {
	// Source selects where the input value comes from:
	// constant | input | config | data.
	Source string `bson:"source" json:"source"`
	// InputKey is the key to read when Source is input or data.
	InputKey string `bson:"input_key,omitempty" json:"input_key,omitempty"`
	// Type is the transform to apply; unknown types pass the value through.
	Type string `bson:"type" json:"type"`
	// OutputKey is where the result lands in the journey data.
	OutputKey string `bson:"output_key" json:"output_key"`
	// Required aborts the step when this rule fails; optional rule failures
	// are logged and skipped.
	Required bool `bson:"required,omitempty" json:"required,omitempty"`

	// Transform parameters. Which of these apply depends on Type.
	Value        string            `bson:"value,omitempty" json:"value,omitempty"`                 // constant source / constant transform
	Algorithm    string            `bson:"algorithm,omitempty" json:"algorithm,omitempty"`         // hash
	Prefix       string            `bson:"prefix,omitempty" json:"prefix,omitempty"`               // prefix
	Suffix       string            `bson:"suffix,omitempty" json:"suffix,omitempty"`               // suffix
	Match        string            `bson:"match,omitempty" json:"match,omitempty"`                 // replace (literal)
	Replacement  string            `bson:"replacement,omitempty" json:"replacement,omitempty"`     // replace / regex_replace
	Pattern      string            `bson:"pattern,omitempty" json:"pattern,omitempty"`             // regex_replace / regex_match
	StartIndex   int               `bson:"start_index,omitempty" json:"start_index,omitempty"`     // substring
	Length       int               `bson:"length,omitempty" json:"length,omitempty"`               // substring (0 means to end)
	Delimiter    string            `bson:"delimiter,omitempty" json:"delimiter,omitempty"`         // split / combine
	Index        int               `bson:"index,omitempty" json:"index,omitempty"`                 // split
	CombineKeys  []string          `bson:"combine_keys,omitempty" json:"combine_keys,omitempty"`   // combine
	Template     string            `bson:"template,omitempty" json:"template,omitempty"`           // template
	Mapping      map[string]string `bson:"mapping,omitempty" json:"mapping,omitempty"`             // map
	DefaultValue string            `bson:"default_value,omitempty" json:"default_value,omitempty"` // map / conditional
	Cases        []ConditionalCase `bson:"cases,omitempty" json:"cases,omitempty"`                 // conditional
}

// ConditionalCase is one arm of a conditional transform: the first case whose
// condition matches yields its ThenValue.
type ConditionalCase struct {
	Operator  string `bson:"operator" json:"operator"` // equals, not-equals, contains, starts-with, exists, not-exists
	Operand   string `bson:"operand,omitempty" json:"operand,omitempty"`
	ThenValue string `bson:"then_value" json:"then_value"`
}

// StepCondition gates a journey step on accumulated data or user input.
type StepCondition struct {
	// Source is data or input.
	Source   string `bson:"source" json:"source"`
	Key      string `bson:"key" json:"key"`
	Operator string `bson:"operator" json:"operator"`
	Value    string `bson:"value,omitempty" json:"value,omitempty"`
}
