package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/engine"
)

// importFlags are shared by import and plan.
type importFlags struct {
	file     string
	archive  string
	reUUID   bool
	noDeps   bool
	noRename bool
	entityID string
	name     string
	mode     string
}

func (f *importFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.file, "file", "f", "", "export document to import")
	fs.StringVar(&f.archive, "archive", "", "import the archived document with this name from the journal")
	fs.BoolVar(&f.reUUID, "re-uuid", false, "regenerate ids of scripts, nodes and resource types")
	fs.BoolVar(&f.noDeps, "no-deps", false, "skip dependency entries; they must already exist on the target")
	fs.BoolVar(&f.noRename, "no-rename", false, "fail on name collisions instead of importing under a new name")
	fs.StringVar(&f.entityID, "id", "", "import only the entity with this id")
	fs.StringVar(&f.name, "name", "", "import only the entity with this name")
	fs.StringVar(&f.mode, "mode", "", "failure mode: fail-fast, best-effort or collect")
}

func (f *importFlags) options(s *session, fs *pflag.FlagSet) (engine.ImportOptions, error) {
	opts := s.profile.ImportOptions()
	if fs.Changed("re-uuid") {
		opts.ReUUID = f.reUUID
	}
	if fs.Changed("no-deps") {
		opts.Deps = !f.noDeps
	}
	if fs.Changed("no-rename") {
		opts.NoRename = f.noRename
	}
	if f.mode != "" {
		opts.Mode = engine.ImportMode(f.mode)
	}
	opts.EntityID = f.entityID
	opts.EntityName = f.name
	return opts, opts.Validate()
}

func (f *importFlags) check() error {
	if (f.file == "") == (f.archive == "") {
		return fmt.Errorf("give exactly one of --file or --archive")
	}
	return nil
}

// document reads the document named by --file or --archive.
func (f *importFlags) document(s *session) (*engine.ExportDocument, error) {
	if f.archive != "" {
		return s.store.LoadExport(s.ctx, f.archive)
	}
	data, err := os.ReadFile(f.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.file, err)
	}
	doc, err := engine.ParseExportDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.file, err)
	}
	return doc, nil
}

type importResultView struct {
	Type      engine.EntityType    `json:"type"`
	ID        string               `json:"id"`
	AppliedID string               `json:"appliedId,omitempty"`
	Name      string               `json:"name,omitempty"`
	Operation engine.OperationType `json:"operation"`
	State     engine.ImportState   `json:"state"`
	History   []engine.ImportState `json:"history"`
	Error     string               `json:"error,omitempty"`
}

func newImportResultView(res engine.Result) importResultView {
	v := importResultView{
		Type:      res.Key.Type,
		ID:        res.Key.ID,
		Operation: res.Operation,
		State:     res.State,
		History:   res.History,
	}
	if res.Entity != nil {
		v.AppliedID = res.Entity.ID
		v.Name = res.Entity.DisplayName()
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

func newImportCommand(env *environment) *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an export document",
		Long: `Apply an export document to the target in dependency order.

Existing entities are updated in place, missing ones are created. A create
that collides with an existing display name is retried under
"<name> - imported (n)" unless --no-rename is given.

Failure modes:
  fail-fast    stop at the first failure (default)
  best-effort  report each failure and continue
  collect      continue and report one aggregate error at the end

Entities that depend on a failed entity are not applied.`,
		Example: `  # Import a journey export
  cfgport import -f login.json

  # Import a copy next to the original
  cfgport import -f login.json --re-uuid

  # Import only one script, continuing on failures
  cfgport import -f scripts.json --name "Check Username" --mode best-effort

  # Import an archived document and journal the run
  cfgport import --archive login-2024-06 --journal cfgport.db`,
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

			importer := engine.NewImporter(s.client, s.conn).
				WithProgress(s.progress()).
				WithPrinter(s.logger)
			if s.store != nil {
				importer = importer.WithJournal(s.store)
			}

			log.Info().
				Str("realm", s.conn.Realm).
				Int("entities", doc.Len()).
				Str("mode", string(opts.Mode)).
				Bool("reUuid", opts.ReUUID).
				Bool("deps", opts.Deps).
				Bool("rename", !opts.NoRename).
				Msg("Importing")

			var views []importResultView
			var failures []error
			for res := range importer.Apply(s.ctx, doc, opts) {
				views = append(views, newImportResultView(res))
				if res.Err != nil {
					failures = append(failures, res.Err)
				}
			}

			if env.jsonOutput() {
				if err := printJSON(cmd.OutOrStdout(), views); err != nil {
					return err
				}
			} else {
				tw := newTable(cmd.OutOrStdout(), "TYPE", "ID", "APPLIED ID", "NAME", "OPERATION", "STATE", "ERROR")
				for _, v := range views {
					errText, _, _ := strings.Cut(v.Error, "\n")
					tw.Append([]string{string(v.Type), v.ID, v.AppliedID, v.Name, string(v.Operation), string(v.State), errText})
				}
				tw.Render()
			}

			switch {
			case len(failures) == 0:
				return nil
			case len(failures) == 1:
				return failures[0]
			default:
				return engine.NewError(fmt.Sprintf("Error importing %d of %d entities", len(failures), len(views)), failures...)
			}
		},
	}

	flags.register(cmd.Flags())
	return cmd
}
