package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/stores"
)

func newJournalCommand(env *environment) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the import journal and the export archive",
		Long: `The journal is a SQLite database recording every import run with the
outcome of each entity, and archiving named export documents.

Enable it with --journal <path> or the journal section of the profile.`,
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", 20, "maximum number of rows")
	cmd.PersistentFlags().IntVar(&offset, "offset", 0, "rows to skip")

	// withStore opens only the journal; these commands never contact the target.
	withStore := func(cmd *cobra.Command, fn func(store *stores.SQLiteStore) error) (err error) {
		p, err := env.resolve()
		if err != nil {
			return err
		}
		cfg, ok := p.StoreConfig()
		if !ok || cfg.Path == "" {
			return fmt.Errorf("no journal configured: use --journal or the profile's journal section")
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		return fn(store)
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List import runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				runs, err := store.ListImportRuns(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if env.jsonOutput() {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				tw := newTable(cmd.OutOrStdout(), "ID", "STARTED", "ORIGIN", "TARGET", "MODE", "STATUS", "OK", "FAILED", "TOTAL")
				for _, r := range runs {
					tw.Append([]string{
						r.ID,
						formatTime(&r.StartedAt),
						r.Origin,
						r.Target,
						string(r.Mode),
						string(r.Status),
						fmt.Sprintf("%d", r.Succeeded),
						fmt.Sprintf("%d", r.Failed),
						fmt.Sprintf("%d", r.Total),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-entity results of an import run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				run, err := store.GetImportRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results, err := store.ListImportResults(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if env.jsonOutput() {
					return printJSON(cmd.OutOrStdout(), struct {
						Run     *stores.ImportRunRecord      `json:"run"`
						Results []*stores.ImportResultRecord `json:"results"`
					}{run, results})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:       %s\n", run.ID)
				fmt.Fprintf(out, "Origin:    %s\n", run.Origin)
				fmt.Fprintf(out, "Target:    %s\n", run.Target)
				fmt.Fprintf(out, "Mode:      %s\n", run.Mode)
				fmt.Fprintf(out, "Status:    %s (%d succeeded, %d failed, %d planned)\n", run.Status, run.Succeeded, run.Failed, run.Total)
				fmt.Fprintf(out, "Started:   %s\n", formatTime(&run.StartedAt))
				fmt.Fprintf(out, "Completed: %s\n", formatTime(run.CompletedAt))
				if run.Error != nil {
					fmt.Fprintf(out, "Error:\n%s\n", *run.Error)
				}

				tw := newTable(out, "TYPE", "ID", "APPLIED ID", "NAME", "OPERATION", "STATE", "HISTORY")
				for _, r := range results {
					history := make([]string, len(r.History))
					for i, st := range r.History {
						history[i] = string(st)
					}
					tw.Append([]string{
						string(r.EntityType),
						r.EntityID,
						ptrS(r.AppliedID),
						ptrS(r.DisplayName),
						string(r.Operation),
						string(r.State),
						strings.Join(history, " > "),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	exportsCmd := &cobra.Command{
		Use:   "exports",
		Short: "List archived export documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				records, err := store.ListExports(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if env.jsonOutput() {
					return printJSON(cmd.OutOrStdout(), records)
				}
				tw := newTable(cmd.OutOrStdout(), "NAME", "ORIGIN", "EXPORTED BY", "EXPORT DATE", "ENTITIES", "UPDATED")
				for _, r := range records {
					tw.Append([]string{
						r.Name,
						r.Origin,
						r.ExportedBy,
						r.ExportDate,
						fmt.Sprintf("%d", r.Entities),
						formatTime(&r.UpdatedAt),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	var outFile string
	getExportCmd := &cobra.Command{
		Use:   "get-export <name>",
		Short: "Write an archived export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				doc, err := store.LoadExport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := doc.MarshalJSON()
				if err != nil {
					return err
				}
				return writeOutput(outFile, append(data, '\n'))
			})
		},
	}
	getExportCmd.Flags().StringVarP(&outFile, "file", "o", "", "output file (default stdout)")

	deleteExportCmd := &cobra.Command{
		Use:   "delete-export <name>",
		Short: "Delete an archived export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				if err := store.DeleteExport(cmd.Context(), args[0]); err != nil {
					return err
				}
				log.Info().Str("name", args[0]).Msg("Export deleted")
				return nil
			})
		},
	}

	deleteRunCmd := &cobra.Command{
		Use:   "delete-run <run-id>",
		Short: "Delete an import run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				if err := store.DeleteImportRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				log.Info().Str("run", args[0]).Msg("Import run deleted")
				return nil
			})
		},
	}

	cmd.AddCommand(runsCmd, showCmd, exportsCmd, getExportCmd, deleteExportCmd, deleteRunCmd)
	return cmd
}
