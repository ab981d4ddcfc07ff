package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.oluso.dev/idp/domain"
	"go.oluso.dev/idp/mongodb"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage journey policies",
}

var policyApplyFile string

var policyApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update a journey policy from a JSON file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, err := os.ReadFile(policyApplyFile)
		if err != nil {
			return fmt.Errorf("read policy file: %w", err)
		}

		var policy domain.JourneyPolicy
		if err := json.Unmarshal(raw, &policy); err != nil {
			return fmt.Errorf("parse policy file: %w", err)
		}
		if policy.ID == "" {
			return errors.New("policy file must set an id")
		}
		if len(policy.Steps) == 0 {
			return errors.New("policy file must declare at least one step")
		}
		if policy.CreatedAt.IsZero() {
			policy.CreatedAt = time.Now().UTC()
		}
		policy.UpdatedAt = time.Now().UTC()

		repo := mongodb.NewJourneyPolicyRepository(mongodb.DB())
		if err := repo.Save(cmd.Context(), &policy); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}

		log.Info().Str("policy_id", policy.ID).Str("type", string(policy.Type)).Msg("policy applied")
		return nil
	},
}

var policyListTenant string

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journey policies for a tenant (and global ones)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo := mongodb.NewJourneyPolicyRepository(mongodb.DB())

		policies, err := repo.GetByTenant(cmd.Context(), policyListTenant)
		if err != nil {
			return fmt.Errorf("list policies: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tTENANT\tPRIORITY\tENABLED\tSTEPS")
		for _, p := range policies {
			tenant := p.TenantID
			if p.Global() {
				tenant = "(global)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%d\n",
				p.ID, p.Name, p.Type, tenant, p.Priority, p.Enabled, len(p.Steps))
		}
		return w.Flush()
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <policy-id>",
	Short: "Delete a journey policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := mongodb.NewJourneyPolicyRepository(mongodb.DB())
		if err := repo.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete policy: %w", err)
		}
		log.Info().Str("policy_id", args[0]).Msg("policy deleted")
		return nil
	},
}

func init() {
	policyApplyCmd.Flags().StringVarP(&policyApplyFile, "file", "f", "", "path to the policy JSON file")
	_ = policyApplyCmd.MarkFlagRequired("file")

	policyListCmd.Flags().StringVar(&policyListTenant, "tenant", "", "tenant to list policies for")

	policyCmd.AddCommand(policyApplyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyDeleteCmd)
}
