package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/mongodb"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage OAuth2 client registrations",
}

var clientCreateFlags struct {
	id           string
	name         string
	tenantID     string
	clientType   string
	redirectURIs []string
	scopes       []string
	grantTypes   []string
	requirePKCE  bool
	requireDPoP  bool
}

var clientCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new OAuth2 client",
	Long: `Registers an OAuth2 client. Confidential clients get a freshly
generated secret which is printed exactly once; store it, it cannot be
recovered later.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo := mongodb.NewClientRepository(mongodb.DB())

		cl := &client.Client{
			ID:                clientCreateFlags.id,
			Name:              clientCreateFlags.name,
			TenantID:          clientCreateFlags.tenantID,
			Type:              client.ClientType(clientCreateFlags.clientType),
			RedirectURIs:      clientCreateFlags.redirectURIs,
			AllowedScopes:     clientCreateFlags.scopes,
			AllowedGrantTypes: clientCreateFlags.grantTypes,
			RequirePKCE:       clientCreateFlags.requirePKCE,
			RequireDPoP:       clientCreateFlags.requireDPoP,
			IsActive:          true,
		}
		if cl.ID == "" {
			cl.ID = uuid.NewString()
		}
		if cl.Type != client.Public && cl.Type != client.Confidential {
			return fmt.Errorf("unknown client type %q", clientCreateFlags.clientType)
		}

		var secret string
		if cl.Type == client.Confidential {
			secret = newClientSecret()
			cl.Secret = secret
		}

		if err := repo.CreateClient(cmd.Context(), cl); err != nil {
			return fmt.Errorf("create client: %w", err)
		}

		log.Info().Str("client_id", cl.ID).Str("type", string(cl.Type)).Msg("client registered")
		fmt.Printf("client_id: %s\n", cl.ID)
		if secret != "" {
			fmt.Printf("client_secret: %s\n", secret)
		}
		return nil
	},
}

var clientListFlags struct {
	tenantID string
	output   string
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo := mongodb.NewClientRepository(mongodb.DB())

		clients, err := repo.ListClients(cmd.Context(), client.ClientFilter{
			TenantID: clientListFlags.tenantID,
		})
		if err != nil {
			return fmt.Errorf("list clients: %w", err)
		}

		if clientListFlags.output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(clients)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT ID\tNAME\tTYPE\tTENANT\tACTIVE")
		for _, cl := range clients {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", cl.ID, cl.Name, cl.Type, cl.TenantID, cl.IsActive)
		}
		return w.Flush()
	},
}

func newClientSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func init() {
	f := clientCreateCmd.Flags()
	f.StringVar(&clientCreateFlags.id, "id", "", "client ID (generated when empty)")
	f.StringVar(&clientCreateFlags.name, "name", "", "human readable client name")
	f.StringVar(&clientCreateFlags.tenantID, "tenant", "", "tenant the client belongs to")
	f.StringVar(&clientCreateFlags.clientType, "type", string(client.Confidential), "client type: confidential or public")
	f.StringSliceVar(&clientCreateFlags.redirectURIs, "redirect-uri", nil, "allowed redirect URI (repeatable)")
	f.StringSliceVar(&clientCreateFlags.scopes, "scope", nil, "allowed scope (repeatable)")
	f.StringSliceVar(&clientCreateFlags.grantTypes, "grant", []string{"authorization_code", "refresh_token"}, "allowed grant type (repeatable)")
	f.BoolVar(&clientCreateFlags.requirePKCE, "require-pkce", false, "reject authorization requests without PKCE")
	f.BoolVar(&clientCreateFlags.requireDPoP, "require-dpop", false, "reject token requests without a DPoP proof")
	_ = clientCreateCmd.MarkFlagRequired("name")

	clientListCmd.Flags().StringVar(&clientListFlags.tenantID, "tenant", "", "filter by tenant")
	clientListCmd.Flags().StringVarP(&clientListFlags.output, "output", "o", "table", "output format: table or json")

	clientCmd.AddCommand(clientCreateCmd)
	clientCmd.AddCommand(clientListCmd)
}
