package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.oluso.dev/idp/domain"
	serrors "go.oluso.dev/idp/errors"
	"go.oluso.dev/idp/internal/auth"
	"go.oluso.dev/idp/mongodb"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Provision users",
}

var userCreateFlags struct {
	email    string
	username string
	tenantID string
	password string
	roles    []string
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with a password credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo := mongodb.NewUserRepository(mongodb.DB())

		if _, err := repo.FindByUsername(cmd.Context(), userCreateFlags.username); err == nil {
			return fmt.Errorf("user %q already exists", userCreateFlags.username)
		} else if !errors.Is(err, serrors.ErrUserNotFound) {
			return fmt.Errorf("check username: %w", err)
		}

		password := userCreateFlags.password
		if password == "" {
			var err error
			password, err = promptPassword()
			if err != nil {
				return err
			}
		}

		hasher := auth.NewBcryptPasswordHasher(0)
		hash, err := hasher.Hash(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		now := time.Now().UTC()
		user := &domain.User{
			ID:        uuid.NewString(),
			TenantID:  userCreateFlags.tenantID,
			Email:     userCreateFlags.email,
			Username:  userCreateFlags.username,
			Password:  hash,
			IsActive:  true,
			Roles:     userCreateFlags.roles,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateUser(cmd.Context(), user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user created")
		fmt.Printf("user_id: %s\n", user.ID)
		return nil
	},
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(pw) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(pw), nil
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userCreateFlags.email, "email", "", "user email address")
	f.StringVar(&userCreateFlags.username, "username", "", "login username")
	f.StringVar(&userCreateFlags.tenantID, "tenant", "", "tenant the user belongs to")
	f.StringVar(&userCreateFlags.password, "password", "", "password (prompted when empty)")
	f.StringSliceVar(&userCreateFlags.roles, "role", nil, "role claim value (repeatable)")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userCreateCmd)
}
