package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/metrics"
)

// StepStatus is the outcome of executing one step.
type StepStatus string

const (
	// StepCompleted advances the journey to the next step.
	StepCompleted StepStatus = "completed"
	// StepPending means the step needs user input before it can complete;
	// the journey stays parked on it.
	StepPending StepStatus = "pending"
	// StepSkipped means the step's gating conditions did not hold.
	StepSkipped StepStatus = "skipped"
	// StepFailed aborts the journey.
	StepFailed StepStatus = "failed"
)

// StepResult is what a handler reports back to the engine.
type StepResult struct {
	Status    StepStatus
	ErrorCode string
	// Prompts lists the input keys still needed when Status is StepPending.
	Prompts []string
}

// ExecContext is everything a step handler may read or write: the mutable
// journey state, the step's immutable configuration, the user input for this
// round trip, and the resolved user if one is known yet.
type ExecContext struct {
	State  *domain.JourneyState
	Step   *domain.JourneyStep
	Input  map[string]string
	Config map[string]string
	User   *domain.User
}

// StepHandler executes one kind of journey step.
type StepHandler interface {
	Type() string
	Execute(ctx context.Context, exec *ExecContext) (*StepResult, error)
}

// Engine interprets journey policies. It owns journey state exclusively for
// the lifetime of a flow and deletes it on completion.
type Engine struct {
	states   domain.JourneyStateStore
	policies domain.JourneyPolicyStore
	users    domain.UserService
	handlers map[string]StepHandler
	stateTTL time.Duration
	clock    domain.Clock
}

// NewEngine creates an Engine with the built-in step handlers registered.
func NewEngine(states domain.JourneyStateStore, policies domain.JourneyPolicyStore, users domain.UserService, stateTTL time.Duration) *Engine {
	e := &Engine{
		states:   states,
		policies: policies,
		users:    users,
		handlers: make(map[string]StepHandler),
		stateTTL: stateTTL,
		clock:    domain.SystemClock{},
	}
	e.Register(NewTransformHandler())
	e.Register(NewConditionHandler())
	e.Register(NewCollectHandler())
	if users != nil {
		e.Register(NewPasswordHandler(users))
	}
	return e
}

// Register adds or replaces the handler for a step type.
func (e *Engine) Register(h StepHandler) {
	e.handlers[h.Type()] = h
}

// JourneyOutcome is the engine's answer after a Start or Advance call.
type JourneyOutcome struct {
	State *domain.JourneyState
	// Done is true once every step has completed; the state has then been
	// deleted from the store and State is the final snapshot.
	Done bool
	// Pending carries the prompts of a step waiting for user input.
	Pending *StepResult
	// Failed carries the failing step's result.
	Failed *StepResult
}

// Start resolves the best matching policy for the context and creates a new
// journey, immediately executing steps until one needs input or the journey
// finishes.
func (e *Engine) Start(ctx context.Context, matchCtx domain.PolicyMatchContext, input map[string]string) (*JourneyOutcome, error) {
	policy, err := e.policies.FindMatching(ctx, matchCtx)
	if err != nil {
		return nil, fmt.Errorf("policy lookup failed: %w", err)
	}
	if policy == nil {
		return nil, serrors.ErrJourneyPolicyNotFound
	}

	now := e.clock.Now()
	state := &domain.JourneyState{
		JourneyID:   uuid.NewString(),
		PolicyID:    policy.ID,
		TenantID:    matchCtx.TenantID,
		ClientID:    matchCtx.ClientID,
		JourneyData: make(map[string]any),
		ExpiresAt:   now.Add(e.stateTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	metrics.JourneysStartedTotal.Inc()
	log.Debug().
		Str("journey_id", state.JourneyID).
		Str("policy_id", policy.ID).
		Str("type", string(policy.Type)).
		Msg("journey started")

	return e.run(ctx, state, policy, input)
}

// Advance resumes an existing journey with fresh user input.
func (e *Engine) Advance(ctx context.Context, journeyID string, input map[string]string) (*JourneyOutcome, error) {
	state, err := e.states.Get(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if e.clock.Now().After(state.ExpiresAt) {
		_ = e.states.Delete(ctx, journeyID)
		return nil, serrors.ErrJourneyNotFound
	}

	policy, err := e.policies.GetByID(ctx, state.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("policy lookup failed: %w", err)
	}

	return e.run(ctx, state, policy, input)
}

// run executes steps from the journey's current position until one pends,
// fails, or the policy is exhausted.
func (e *Engine) run(ctx context.Context, state *domain.JourneyState, policy *domain.JourneyPolicy, input map[string]string) (*JourneyOutcome, error) {
	var user *domain.User
	if state.UserID != "" && e.users != nil {
		// Best effort; steps that need the user handle nil.
		user, _ = e.users.FindByID(ctx, state.UserID)
	}

	for state.CurrentStep < len(policy.Steps) {
		step := policy.Steps[state.CurrentStep]

		if !stepConditionsHold(&step, state, input) {
			log.Trace().
				Str("journey_id", state.JourneyID).
				Str("step", step.ID).
				Msg("step conditions not met, skipping")
			state.CurrentStep++
			continue
		}

		handler, ok := e.handlers[step.Type]
		if !ok {
			// Unknown step types are skipped rather than failing the
			// journey, mirroring the transform passthrough stance.
			log.Warn().
				Str("journey_id", state.JourneyID).
				Str("step_type", step.Type).
				Msg("no handler registered for step type, skipping")
			state.CurrentStep++
			continue
		}

		result, err := handler.Execute(ctx, &ExecContext{
			State:  state,
			Step:   &step,
			Input:  input,
			Config: step.Config,
			User:   user,
		})
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}

		switch result.Status {
		case StepCompleted, StepSkipped:
			state.CurrentStep++

		case StepPending:
			state.UpdatedAt = e.clock.Now()
			if err := e.states.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("failed to save journey state: %w", err)
			}
			return &JourneyOutcome{State: state, Pending: result}, nil

		case StepFailed:
			metrics.JourneysFailedTotal.Inc()
			_ = e.states.Delete(ctx, state.JourneyID)
			return &JourneyOutcome{State: state, Failed: result}, nil
		}
	}

	state.Completed = true
	state.UpdatedAt = e.clock.Now()
	metrics.JourneysCompletedTotal.Inc()

	// State is deleted on completion; the snapshot is handed to the caller.
	if err := e.states.Delete(ctx, state.JourneyID); err != nil {
		log.Warn().Err(err).Str("journey_id", state.JourneyID).Msg("failed to delete completed journey state")
	}

	return &JourneyOutcome{State: state, Done: true}, nil
}

func stepConditionsHold(step *domain.JourneyStep, state *domain.JourneyState, input map[string]string) bool {
	for _, cond := range step.Conditions {
		if !EvaluateStepCondition(cond, state, input) {
			return false
		}
	}
	return true
}

// ConditionHandler gates a journey on its step conditions having been
// evaluated true. Since the engine already skips steps whose conditions do
// not hold, an executing condition step simply completes; it exists so a
// policy can terminate a branch explicitly by requiring a condition.
type ConditionHandler struct{}

// NewConditionHandler creates a ConditionHandler.
func NewConditionHandler() *ConditionHandler { return &ConditionHandler{} }

// Type implements StepHandler.
func (h *ConditionHandler) Type() string { return "condition" }

// Execute implements StepHandler.
func (h *ConditionHandler) Execute(_ context.Context, exec *ExecContext) (*StepResult, error) {
	for _, cond := range exec.Step.Conditions {
		if !EvaluateStepCondition(cond, exec.State, exec.Input) {
			return &StepResult{Status: StepFailed, ErrorCode: "condition_not_met"}, nil
		}
	}
	return &StepResult{Status: StepCompleted}, nil
}

// CollectHandler gathers user input. The step declares the input keys it
// needs; until all of them arrive the step pends, reporting the missing keys
// as prompts. Collected values are merged into the journey data.
type CollectHandler struct{}

// NewCollectHandler creates a CollectHandler.
func NewCollectHandler() *CollectHandler { return &CollectHandler{} }

// Type implements StepHandler.
func (h *CollectHandler) Type() string { return "collect" }

// Execute implements StepHandler.
func (h *CollectHandler) Execute(_ context.Context, exec *ExecContext) (*StepResult, error) {
	missing := make([]string, 0)
	for _, prompt := range exec.Step.Prompts {
		if _, ok := exec.Input[prompt]; !ok {
			missing = append(missing, prompt)
		}
	}
	if len(missing) > 0 {
		return &StepResult{Status: StepPending, Prompts: missing}, nil
	}

	for _, prompt := range exec.Step.Prompts {
		exec.State.JourneyData[prompt] = exec.Input[prompt]
	}
	return &StepResult{Status: StepCompleted}, nil
}
