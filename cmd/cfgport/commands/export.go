package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/engine"
)

func newExportCommand(env *environment) *cobra.Command {
	var (
		all            bool
		journey        string
		subtype        string
		outFile        string
		archive        string
		noDeps         bool
		noCoords       bool
		includeDefault bool
		noDecode       bool
		stringArrays   bool
	)

	cmd := &cobra.Command{
		Use:   "export [type] [id]",
		Short: "Export configuration entities",
		Long: `Export one entity, every entity of a type, or a whole journey into a
portable JSON document.

Types: script, node, tree, oauth2Client, secretStore, policy, resourceType,
variable. Dependencies (scripts of nodes, nodes of journeys, ...) are
exported along unless --no-deps is given.`,
		Example: `  # Export a journey with its nodes and scripts
  cfgport export --journey Login -o login.json

  # Export all OAuth2 clients of the profile's realm
  cfgport export oauth2Client --all -o clients.json

  # Export one node of a given node type
  cfgport export node 5c7a9ad3 --subtype PageNode

  # Export and archive the document in the journal
  cfgport export --journey Login --archive login-2024-06`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var t engine.EntityType
			var id string
			switch {
			case journey != "":
				if len(args) > 0 {
					return fmt.Errorf("--journey takes no arguments")
				}
			case len(args) == 0:
				return fmt.Errorf("an entity type is required")
			default:
				t = engine.EntityType(args[0])
				if err := t.Validate(); err != nil {
					return err
				}
				if len(args) == 2 {
					id = args[1]
				}
				if all == (id != "") {
					return fmt.Errorf("give either an entity id or --all")
				}
			}

			s, err := env.open(cmd.Context(), archive != "")
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			opts := s.profile.ExportOptions()
			if cmd.Flags().Changed("no-deps") {
				opts.Deps = !noDeps
			}
			if cmd.Flags().Changed("no-coords") {
				opts.Coords = !noCoords
			}
			if cmd.Flags().Changed("include-default") {
				opts.IncludeDefault = includeDefault
			}
			if cmd.Flags().Changed("no-decode") {
				opts.NoDecode = noDecode
			}
			if cmd.Flags().Changed("string-arrays") {
				opts.UseStringArrays = stringArrays
			}

			exporter := engine.NewExporter(s.client, s.conn, s.templateFactory(), opts).
				WithProgress(s.progress()).
				WithPrinter(s.logger)

			log.Info().
				Str("realm", s.conn.Realm).
				Str("type", string(t)).
				Str("id", id).
				Str("journey", journey).
				Bool("all", all).
				Bool("deps", opts.Deps).
				Msg("Exporting")

			scope := engine.Scope{Subtype: subtype}
			var doc *engine.ExportDocument
			var exportErr error
			switch {
			case journey != "":
				doc, exportErr = exporter.ExportJourney(s.ctx, "", journey)
			case all:
				doc, exportErr = exporter.ExportAll(s.ctx, t, scope)
			default:
				doc, exportErr = exporter.ExportEntity(s.ctx, t, scope, id)
			}
			// ExportAll returns the partial document alongside its failures.
			if doc == nil || doc.Len() == 0 {
				if exportErr != nil {
					return exportErr
				}
				return fmt.Errorf("nothing to export")
			}
			if exportErr != nil && !all {
				return exportErr
			}

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode export: %w", err)
			}
			if err := writeOutput(outFile, append(data, '\n')); err != nil {
				return err
			}

			if archive != "" {
				rec, err := s.store.SaveExport(s.ctx, archive, doc)
				if err != nil {
					return multierr.Append(exportErr, err)
				}
				log.Info().Str("archive", rec.Name).Str("id", rec.ID).Int("entities", rec.Entities).Msg("Export archived")
			}
			return exportErr
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "export every entity of the type")
	cmd.Flags().StringVarP(&journey, "journey", "j", "", "export the journey (tree) with this id")
	cmd.Flags().StringVar(&subtype, "subtype", "", "node type or secret store type")
	cmd.Flags().StringVarP(&outFile, "file", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&archive, "archive", "", "also save the document in the journal under this name")
	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "do not export dependencies")
	cmd.Flags().BoolVar(&noCoords, "no-coords", false, "drop node coordinates from journeys")
	cmd.Flags().BoolVar(&includeDefault, "include-default", false, "include built-in default entities")
	cmd.Flags().BoolVar(&noDecode, "no-decode", false, "keep variable values base64-encoded")
	cmd.Flags().BoolVar(&stringArrays, "string-arrays", true, "write script source as an array of lines")

	return cmd
}
