package journey

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.oluso.dev/idp/domain"
)

// PasswordHandler authenticates the journey's subject with a username (or
// email) and password. On success the journey state carries the resolved
// user from then on.
type PasswordHandler struct {
	users domain.UserService
}

// NewPasswordHandler creates a PasswordHandler backed by the given user
// resolver.
func NewPasswordHandler(users domain.UserService) *PasswordHandler {
	return &PasswordHandler{users: users}
}

// Type implements StepHandler.
func (h *PasswordHandler) Type() string { return "password" }

// Execute implements StepHandler. The step pends until both credentials are
// present; a wrong username and a wrong password fail identically.
func (h *PasswordHandler) Execute(ctx context.Context, exec *ExecContext) (*StepResult, error) {
	username := exec.Input["username"]
	password := exec.Input["password"]

	var missing []string
	if username == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return &StepResult{Status: StepPending, Prompts: missing}, nil
	}

	user, err := h.users.FindByUsername(ctx, username)
	if err != nil || user == nil {
		user, err = h.users.FindByEmail(ctx, username)
	}
	if err != nil || user == nil || !user.IsActive {
		log.Debug().Str("journey_id", exec.State.JourneyID).Msg("password step: unknown or inactive user")
		return &StepResult{Status: StepFailed, ErrorCode: "invalid_credentials"}, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return &StepResult{Status: StepFailed, ErrorCode: "invalid_credentials"}, nil
	}

	exec.State.UserID = user.ID
	if exec.State.TenantID == "" {
		exec.State.TenantID = user.TenantID
	}
	return &StepResult{Status: StepCompleted}, nil
}
