package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CFGPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "cfgport",
		Short: "Export and import access management configuration",
		Long: `cfgport serializes the configuration of an access management deployment
(scripts, nodes, journeys, OAuth2 clients, secret stores, policies, resource
types and variables) into portable JSON documents, and re-applies such
documents to another deployment in dependency order.

Connection settings come from a YAML profile (--profile) and may be
overridden by flags or CFGPORT_* environment variables, e.g. CFGPORT_TOKEN.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("profile", "p", "", "connection profile (YAML)")
	flags.String("host", "", "deployment base URL, e.g. https://am.example.com/am")
	flags.StringP("realm", "r", "", "realm")
	flags.String("deployment-type", "", "deployment type (classic, cloud, forgeops)")
	flags.String("token", "", "bearer token")
	flags.String("journal", "", "SQLite journal path; enables the journal")
	flags.Bool("json", false, "output in JSON format")
	for _, name := range []string{"profile", "host", "realm", "deployment-type", "token", "journal", "json"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	env := &environment{viper: v, version: version}

	rootCmd.AddCommand(newExportCommand(env))
	rootCmd.AddCommand(newImportCommand(env))
	rootCmd.AddCommand(newPlanCommand(env))
	rootCmd.AddCommand(newOrphansCommand(env))
	rootCmd.AddCommand(newJournalCommand(env))
	rootCmd.AddCommand(newProfileCommand(env))

	return rootCmd
}
