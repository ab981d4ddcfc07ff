package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.oluso.dev/idp/mongodb"
)

var (
	mongoURI string
	mongoDB  string
)

var rootCmd = &cobra.Command{
	Use:   "olusoctl",
	Short: "Administer an Oluso IdP deployment",
	Long: `olusoctl manages the entities the protocol endpoints do not expose:
OAuth2 clients, users and journey policies. It talks directly to the
deployment's MongoDB storage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return mongodb.Connect(cmd.Context(), mongoURI, mongoDB)
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		mongodb.Close(cmd.Context())
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	rootCmd.PersistentFlags().StringVar(&mongoDB, "db", "oluso_idp", "MongoDB database name")

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(policyCmd)
}
