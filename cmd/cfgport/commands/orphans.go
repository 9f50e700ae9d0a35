package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/engine"
)

type orphanView struct {
	ID       string `json:"id"`
	NodeType string `json:"nodeType"`
	Name     string `json:"name,omitempty"`
}

func newOrphansCommand(env *environment) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Find and remove nodes no journey uses",
		Long: `A node is orphaned when no journey references it, neither directly nor
through a page node or an inner tree.`,
	}
	cmd.PersistentFlags().IntVar(&concurrency, "concurrency", engine.DefaultScanConcurrency, "node types scanned in parallel")

	scan := func(s *session) (*engine.OrphanReport, error) {
		report, err := engine.NewOrphanDetector(s.client, s.conn).
			WithConcurrency(concurrency).
			WithProgress(s.progress()).
			WithPrinter(s.logger).
			Scan(s.ctx)
		if err != nil {
			return nil, err
		}
		for _, skipped := range report.SkippedTypes {
			log.Warn().Str("nodeType", skipped.NodeType).Err(skipped.Err).Msg("Node type skipped")
		}
		return report, nil
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List orphaned nodes",
		Example: `  # List orphaned nodes of the alpha realm
  cfgport orphans list -r alpha`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			report, err := scan(s)
			if err != nil {
				return err
			}

			views := make([]orphanView, 0, len(report.Orphans))
			for _, n := range report.Orphans {
				views = append(views, orphanView{ID: n.ID, NodeType: n.Subtype(), Name: n.DisplayName()})
			}
			if env.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), views)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "NODE TYPE", "NAME")
			for _, v := range views {
				tw.Append([]string{v.ID, v.NodeType, v.Name})
			}
			tw.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d nodes are orphaned\n", len(report.Orphans), len(report.AllNodes))
			return nil
		},
	}

	var yes bool
	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete orphaned nodes",
		Example: `  # Delete every orphaned node of the alpha realm
  cfgport orphans remove -r alpha --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !yes {
				return fmt.Errorf("refusing to delete nodes without --yes")
			}
			s, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			report, err := scan(s)
			if err != nil {
				return err
			}
			if len(report.SkippedTypes) > 0 {
				return fmt.Errorf("%d node types could not be scanned; not removing anything", len(report.SkippedTypes))
			}
			if len(report.Orphans) == 0 {
				log.Info().Str("realm", report.Realm).Msg("No orphaned nodes")
				return nil
			}

			failed, err := engine.NewOrphanDetector(s.client, s.conn).
				WithProgress(s.progress()).
				RemoveOrphans(s.ctx, report.Orphans)
			log.Info().
				Int("removed", len(report.Orphans)-len(failed)).
				Int("failed", len(failed)).
				Msg("Orphaned nodes removed")
			return err
		},
	}
	removeCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cmd.AddCommand(listCmd, removeCmd)
	return cmd
}
