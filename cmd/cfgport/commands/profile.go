package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/cfgport/pkg/config"
)

func newProfileCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect connection profiles",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective profile after flags and environment overrides",
		Long: `Print the profile the other commands would use, with defaults filled in
and flag and CFGPORT_* overrides applied. The token is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := env.profile()
			if err != nil {
				return err
			}
			if env.jsonOutput() {
				out := *p
				out.Connection.Token = ""
				return printJSON(cmd.OutOrStdout(), out)
			}
			data, err := p.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a profile file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.NewLoader().LoadFile(args[0]); err != nil {
				return err
			}
			cmd.Printf("%s is valid\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}
