package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/engine"
)

type planUnitView struct {
	Level     int      `json:"level"`
	Unit      string   `json:"unit"`
	SourceID  string   `json:"sourceId"`
	Name      string   `json:"name,omitempty"`
	Selected  bool     `json:"selected"`
	DependsOn []string `json:"dependsOn,omitempty"`
	External  []string `json:"external,omitempty"`
}

func refKeys(refs []engine.DependencyRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Key().String())
	}
	return out
}

func newPlanCommand(env *environment) *cobra.Command {
	var (
		flags   importFlags
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the order in which an import would apply entities",
		Long: `Compute the import plan of an export document without touching the target.

Entities are grouped by level: an entity only depends on entities of lower
levels. References to entities outside the document are listed as external;
they must already exist on the target.`,
		Example: `  # Show the plan of a journey export
  cfgport plan -f login.json

  # Write the dependency graph for Graphviz
  cfgport plan -f login.json --re-uuid --dot plan.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := flags.check(); err != nil {
				return err
			}

			s, err := env.open(cmd.Context(), flags.archive != "")
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			opts, err := flags.options(s, cmd.Flags())
			if err != nil {
				return err
			}
			doc, err := flags.document(s)
			if err != nil {
				return err
			}

			plan, err := engine.NewImporter(s.client, s.conn).Plan(doc, opts)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := writeOutput(dotFile, []byte(plan.DOT())); err != nil {
					return err
				}
			}

			views := make([]planUnitView, 0, len(plan.Units))
			for _, u := range plan.Units {
				views = append(views, planUnitView{
					Level:     u.Level,
					Unit:      u.ID,
					SourceID:  u.SourceID,
					Name:      u.Entity.DisplayName(),
					Selected:  u.Selected,
					DependsOn: refKeys(u.Dependencies),
					External:  refKeys(u.External),
				})
			}

			if env.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), views)
			}
			tw := newTable(cmd.OutOrStdout(), "LEVEL", "UNIT", "SOURCE ID", "NAME", "SELECTED", "DEPENDS ON", "EXTERNAL")
			for _, v := range views {
				tw.Append([]string{
					fmt.Sprintf("%d", v.Level),
					v.Unit,
					v.SourceID,
					v.Name,
					fmt.Sprintf("%t", v.Selected),
					strings.Join(v.DependsOn, ", "),
					strings.Join(v.External, ", "),
				})
			}
			tw.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d entities in %d levels\n", len(plan.Units), len(plan.Levels))
			return nil
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format to this file")
	return cmd
}
