package engine

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/cfgport/pkg/telemetry"
)

// DefaultMaxRenameAttempts bounds how often a name collision is retried under a new name.
const DefaultMaxRenameAttempts = 25

// ImportOptions control how a document is applied.
type ImportOptions struct {
	// ReUUID regenerates the ids of nodes, scripts and resource types and
	// rewrites every reference to them.
	ReUUID bool

	// Deps applies the document's dependency entries before their dependents.
	// Without it, dependency-only entries are skipped and every reference
	// must already exist on the target.
	Deps bool

	// NoRename fails a create that hit a display-name collision instead of
	// retrying it under NextName.
	NoRename bool

	// EntityID restricts the import to the entity with this id (and what it needs).
	EntityID string

	// EntityName restricts the import to the entity with this display name.
	EntityName string

	// Mode selects the failure behaviour. Empty means ModeFailFast.
	Mode ImportMode

	// Realm overrides the connection realm.
	Realm string

	// MaxRenameAttempts bounds renames per entity. Zero means DefaultMaxRenameAttempts.
	MaxRenameAttempts int
}

// DefaultImportOptions returns the options used when none are given.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Deps:              true,
		Mode:              ModeFailFast,
		MaxRenameAttempts: DefaultMaxRenameAttempts,
	}
}

func (o ImportOptions) withDefaults() ImportOptions {
	if o.Mode == "" {
		o.Mode = ModeFailFast
	}
	if o.MaxRenameAttempts <= 0 {
		o.MaxRenameAttempts = DefaultMaxRenameAttempts
	}
	return o
}

// Validate checks the options.
func (o ImportOptions) Validate() error {
	if err := o.Mode.Validate(); err != nil {
		return NewValidationError(err.Error(), nil)
	}
	if o.EntityID != "" && o.EntityName != "" {
		return NewValidationError("entity id and entity name filters are mutually exclusive", nil)
	}
	return nil
}

// Result is the outcome of applying one entity.
type Result struct {
	// Key identifies the entity as written in the document.
	Key Key

	// Entity is the entity as applied to the target; nil when nothing was applied.
	Entity *Skeleton

	// Operation is the write that was performed.
	Operation OperationType

	// State is the final state: StateDone or StateFailed.
	State ImportState

	// History lists every state the entity went through, in order.
	History []ImportState

	// Err is the failure, nil on success.
	Err error
}

func (r *Result) transition(next ImportState) {
	r.State = next
	r.History = append(r.History, next)
}

// ImportPlan is the ordered set of entities an import would apply.
type ImportPlan struct {
	// Units are the entities in application order.
	Units []*PlanUnit

	// Levels groups unit ids by topological level.
	Levels [][]string

	// IDMap maps document keys to regenerated ids.
	IDMap map[Key]string

	dot string
}

// DOT renders the plan as a Graphviz digraph.
func (p *ImportPlan) DOT() string {
	return p.dot
}

// Importer applies export documents to a target.
type Importer struct {
	target   Target
	conn     Connection
	progress Progress
	printer  Printer
	journal  Journal
	newID    func() string
}

// NewImporter creates an importer writing to target.
func NewImporter(target Target, conn Connection) *Importer {
	return &Importer{
		target:   target,
		conn:     conn,
		progress: NopProgress{},
		printer:  NopPrinter{},
		newID:    uuid.NewString,
	}
}

// WithProgress sets the progress collaborator.
func (im *Importer) WithProgress(p Progress) *Importer {
	im.progress = p
	return im
}

// WithPrinter sets the warning collaborator.
func (im *Importer) WithPrinter(p Printer) *Importer {
	im.printer = p
	return im
}

// WithJournal records every run and result in j.
func (im *Importer) WithJournal(j Journal) *Importer {
	im.journal = j
	return im
}

// WithIDGenerator replaces the id generator used by ReUUID.
func (im *Importer) WithIDGenerator(gen func() string) *Importer {
	im.newID = gen
	return im
}

// regeneratedTypes are the types whose ids are opaque and may be replaced.
var regeneratedTypes = map[EntityType]bool{
	TypeScript:       true,
	TypeNode:         true,
	TypeResourceType: true,
}

// Plan computes which entities an import applies and in which order,
// without touching the target.
func (im *Importer) Plan(doc *ExportDocument, opts ImportOptions) (*ImportPlan, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, NewValidationError("no import data", nil)
	}

	skeletons, err := doc.Skeletons()
	if err != nil {
		return nil, err
	}

	for _, s := range skeletons {
		if !im.conn.Supports(s.Type) {
			return nil, NewValidationError(
				fmt.Sprintf("%s %s: %s is not available on %s deployments", s.Type, s.ID, s.Type, im.conn.DeploymentType), nil)
		}
	}

	byKey := make(map[Key]Skeleton, len(skeletons))
	for _, s := range skeletons {
		byKey[s.Key()] = s
	}

	refs := make(map[Key][]DependencyRef, len(skeletons))
	ownedTarget := make(map[Key]bool)
	depTarget := make(map[Key]bool)
	for _, s := range skeletons {
		refs[s.Key()] = ResolveDependencies(s)
		for _, r := range refs[s.Key()] {
			if _, ok := byKey[r.Key()]; !ok {
				continue
			}
			if r.Owned {
				ownedTarget[r.Key()] = true
			} else {
				depTarget[r.Key()] = true
			}
		}
	}

	selected := make(map[Key]bool)
	direct := make(map[Key]bool)
	if opts.EntityID != "" || opts.EntityName != "" {
		var roots []Key
		for _, s := range skeletons {
			if (opts.EntityID != "" && s.ID == opts.EntityID) ||
				(opts.EntityName != "" && s.DisplayName() == opts.EntityName) {
				roots = append(roots, s.Key())
			}
		}
		if len(roots) == 0 {
			filter := opts.EntityID
			if filter == "" {
				filter = opts.EntityName
			}
			return nil, newKindError(KindNotFound, fmt.Sprintf("no entity %q in import data", filter))
		}
		queue := append([]Key{}, roots...)
		for _, k := range roots {
			direct[k] = true
			selected[k] = true
		}
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			for _, r := range refs[k] {
				if _, ok := byKey[r.Key()]; !ok || selected[r.Key()] {
					continue
				}
				if r.Owned || opts.Deps {
					selected[r.Key()] = true
					queue = append(queue, r.Key())
				}
			}
		}
	} else {
		for _, s := range skeletons {
			k := s.Key()
			if opts.Deps || ownedTarget[k] || !depTarget[k] {
				selected[k] = true
				direct[k] = true
			}
		}
	}

	idMap := make(map[Key]string)
	if opts.ReUUID {
		for _, s := range skeletons {
			if selected[s.Key()] && regeneratedTypes[s.Type] {
				idMap[s.Key()] = im.newID()
			}
		}
	}

	units := make([]*PlanUnit, 0, len(selected))
	newKeys := make(map[Key]bool, len(selected))
	for _, s := range skeletons {
		if !selected[s.Key()] {
			continue
		}
		entity := RewriteReferences(s, idMap)
		if nid, ok := idMap[s.Key()]; ok {
			entity = entity.WithID(nid)
		}
		newKeys[entity.Key()] = true
		units = append(units, &PlanUnit{
			ID:       entity.Key().String(),
			SourceID: s.ID,
			Entity:   entity,
			Selected: direct[s.Key()],
		})
	}
	for _, u := range units {
		for _, r := range ResolveDependencies(u.Entity) {
			if newKeys[r.Key()] {
				u.Dependencies = append(u.Dependencies, r)
			} else {
				u.External = append(u.External, r)
			}
		}
	}

	builder := NewDAGBuilder()
	if err := builder.Build(units); err != nil {
		return nil, err
	}

	return &ImportPlan{
		Units:  builder.Ordered(),
		Levels: builder.GetLevels(),
		IDMap:  idMap,
		dot:    builder.ToDOT(),
	}, nil
}

// Apply imports doc and yields one result per processed entity. Filtered
// out entities produce no result. When no plan can be made, a single failed
// result without entity is yielded.
func (im *Importer) Apply(ctx context.Context, doc *ExportDocument, opts ImportOptions) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		opts = opts.withDefaults()
		plan, err := im.Plan(doc, opts)
		if err != nil {
			yield(Result{
				State:     StateFailed,
				History:   []ImportState{StateFailed},
				Operation: OperationNone,
				Err:       NewError("Error planning import", err),
			})
			return
		}

		runID := uuid.NewString()
		ctx = telemetry.WithRunContext(ctx, runID)
		logger := telemetry.FromContext(ctx).NewComponentLogger("importer")
		realm := opts.Realm
		if realm == "" {
			realm = im.conn.Realm
		}

		im.beginJournal(ctx, logger, runID, doc, opts, len(plan.Units))
		im.progress.Create(len(plan.Units), fmt.Sprintf("Importing %d entities...", len(plan.Units)))

		summary := ImportSummary{Status: RunStatusSucceeded}
		var runErr error
		defer func() {
			switch {
			case summary.Status == RunStatusCancelled:
			case summary.Failed > 0 && summary.Succeeded > 0:
				summary.Status = RunStatusPartial
			case summary.Failed > 0:
				summary.Status = RunStatusFailed
			}
			if runErr != nil {
				summary.Error = runErr.Error()
			}
			im.endJournal(ctx, logger, runID, summary)
			telemetry.EndRunContext(ctx, string(summary.Status), runErr)

			msg := fmt.Sprintf("Imported %d entities, %d failed", summary.Succeeded, summary.Failed)
			switch summary.Status {
			case RunStatusSucceeded:
				im.progress.Stop(ProgressSuccess, msg)
			case RunStatusPartial, RunStatusCancelled:
				im.progress.Stop(ProgressWarning, msg)
			default:
				im.progress.Stop(ProgressFailure, msg)
			}
		}()

		failed := make(map[string]bool)
		for _, unit := range plan.Units {
			if err := ctx.Err(); err != nil {
				summary.Status = RunStatusCancelled
				runErr = err
				yield(Result{
					Key:       Key{Type: unit.Entity.Type, ID: unit.SourceID},
					State:     StateFailed,
					History:   []ImportState{StateFailed},
					Operation: OperationNone,
					Err:       NewError("Import cancelled", err),
				})
				return
			}

			res := im.applyUnit(ctx, unit, realm, failed, opts)
			if res.Err != nil {
				res.Err = NewError(fmt.Sprintf("Error importing %s %s", unit.Entity.Type, unit.SourceID), res.Err)
				summary.Failed++
				if res.Entity == nil {
					failed[unit.ID] = true
				}
				logger.WithEntity(string(unit.Entity.Type), unit.SourceID).WithError(res.Err).Warn("entity import failed")
			} else {
				summary.Succeeded++
			}
			im.recordJournal(ctx, logger, runID, res)
			im.progress.Update(fmt.Sprintf("%s %s: %s", unit.Entity.Type, unit.Entity.DisplayName(), res.State))

			if res.Err != nil && opts.Mode == ModeFailFast {
				runErr = res.Err
				yield(res)
				return
			}
			if !yield(res) {
				summary.Status = RunStatusCancelled
				return
			}
		}
	}
}

func (im *Importer) applyUnit(ctx context.Context, unit *PlanUnit, realm string, failed map[string]bool, opts ImportOptions) (res Result) {
	s := unit.Entity
	res = Result{
		Key:       Key{Type: s.Type, ID: unit.SourceID},
		Operation: OperationNone,
	}
	res.transition(StatePending)

	ctx = telemetry.WithEntityContext(ctx, "import", string(s.Type), s.ID)
	defer func() {
		outcome := string(res.Operation)
		if res.Err != nil {
			outcome = "failed"
		}
		telemetry.EndEntityContext(ctx, "import", string(s.Type), outcome, string(KindOf(res.Err)), res.Err)
	}()

	fail := func(err error) Result {
		res.transition(StateFailed)
		res.Err = err
		return res
	}

	for _, ref := range unit.Dependencies {
		if failed[ref.Key().String()] {
			return fail(newKindError(KindDependencyMissing,
				fmt.Sprintf("dependency %s %s (field %s) failed to import", ref.Type, ref.ID, ref.Field)))
		}
	}
	for _, ref := range unit.External {
		found, err := im.target.Find(ctx, ref.Type, Scope{Realm: realm, Subtype: ref.Subtype}, ref.ID)
		if err != nil {
			return fail(NewError(fmt.Sprintf("Error checking dependency %s", ref.Key()), err))
		}
		if found == nil {
			return fail(NewDependencyMissingError(ref, nil))
		}
	}

	body := fromDocument(s)
	var subs []Subresource
	if store, ok := body.Payload.(*SecretStore); ok {
		subs = store.Mappings()
		store.SetMappings(nil)
	}
	scope := Scope{Realm: realm, Subtype: body.Subtype()}

	existing, err := im.target.Find(ctx, body.Type, scope, body.ID)
	if err != nil {
		return fail(err)
	}

	var applied Skeleton
	if existing != nil {
		res.transition(StateIDConflict)
		body.Revision = existing.Revision
		applied, err = im.update(ctx, body, scope, &res)
	} else {
		applied, err = im.create(ctx, body, scope, opts, &res)
	}
	if err != nil {
		return fail(err)
	}

	if len(subs) > 0 {
		res.transition(StateApplyingSubresources)
		var subErrs []error
		for _, sub := range subs {
			if err := im.target.PutSubresource(ctx, applied, scope, sub); err != nil {
				subErrs = append(subErrs, NewError(fmt.Sprintf("Error importing %s %s", sub.Kind, sub.ID), err))
				if opts.Mode == ModeFailFast {
					break
				}
			}
		}
		if len(subErrs) > 0 {
			res.Entity = &applied
			return fail(NewError(
				fmt.Sprintf("Error importing %d of %d %s of %s %s", len(subErrs), len(subs), subs[0].Kind, s.Type, s.ID),
				subErrs...))
		}
	}

	res.Entity = &applied
	res.transition(StateDone)
	return res
}

func (im *Importer) update(ctx context.Context, body Skeleton, scope Scope, res *Result) (Skeleton, error) {
	res.transition(StateUpdating)
	updated, err := im.target.Update(ctx, body, scope)
	if err != nil {
		return Skeleton{}, err
	}
	res.Operation = OperationUpdate
	res.transition(StateUpdated)
	return updated, nil
}

func (im *Importer) create(ctx context.Context, body Skeleton, scope Scope, opts ImportOptions, res *Result) (Skeleton, error) {
	metrics := telemetry.MetricsFromContext(ctx)
	renames := 0
	for {
		res.transition(StateCreating)
		created, err := im.target.Create(ctx, body, scope)
		if err == nil {
			res.Operation = OperationCreate
			res.transition(StateCreated)
			return created, nil
		}

		switch {
		case IsIDConflict(err):
			// created concurrently since the existence check
			metrics.RecordConflict(string(body.Type), string(KindIDConflict))
			res.transition(StateIDConflict)
			existing, ferr := im.target.Find(ctx, body.Type, scope, body.ID)
			if ferr != nil {
				return Skeleton{}, ferr
			}
			if existing != nil {
				body.Revision = existing.Revision
			}
			return im.update(ctx, body, scope, res)

		case IsNameConflict(err):
			metrics.RecordConflict(string(body.Type), string(KindNameConflict))
			res.transition(StateNameConflict)
			named, ok := body.Payload.(Named)
			if opts.NoRename || !ok {
				return Skeleton{}, err
			}
			if renames >= opts.MaxRenameAttempts {
				return Skeleton{}, NewError(fmt.Sprintf("Giving up after %d renames", renames), err)
			}
			renames++
			res.transition(StateRenaming)
			oldName := named.DisplayName()
			body = body.Clone()
			named = body.Payload.(Named)
			named.SetDisplayName(NextName(oldName))
			im.printer.Warn(fmt.Sprintf("%s %q already exists, importing as %q", body.Type, oldName, named.DisplayName()))

		default:
			return Skeleton{}, err
		}
	}
}

func (im *Importer) beginJournal(ctx context.Context, logger *telemetry.Logger, runID string, doc *ExportDocument, opts ImportOptions, total int) {
	if im.journal == nil {
		return
	}
	run := ImportRun{
		ID:        runID,
		Target:    im.conn.Host,
		Mode:      opts.Mode,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	if doc.Meta != nil {
		run.Origin = doc.Meta.Origin
	}
	if err := im.journal.BeginImport(ctx, run); err != nil {
		logger.WithError(err).Warn("failed to journal import run")
	}
}

func (im *Importer) recordJournal(ctx context.Context, logger *telemetry.Logger, runID string, res Result) {
	if im.journal == nil {
		return
	}
	if err := im.journal.RecordResult(ctx, runID, res); err != nil {
		logger.WithError(err).Warn("failed to journal import result")
	}
}

func (im *Importer) endJournal(ctx context.Context, logger *telemetry.Logger, runID string, summary ImportSummary) {
	if im.journal == nil {
		return
	}
	if err := im.journal.EndImport(ctx, runID, summary); err != nil {
		logger.WithError(err).Warn("failed to journal import completion")
	}
}

// Import applies doc, stopping at the first failure, and returns the
// entities applied so far.
func (im *Importer) Import(ctx context.Context, doc *ExportDocument, opts ImportOptions) ([]Skeleton, error) {
	opts.Mode = ModeFailFast
	var applied []Skeleton
	for res := range im.Apply(ctx, doc, opts) {
		if res.Entity != nil {
			applied = append(applied, *res.Entity)
		}
		if res.Err != nil {
			return applied, res.Err
		}
	}
	return applied, nil
}

// ImportWithCallback applies every entity of doc and calls fn exactly once
// per processed entity. entity is nil when nothing was applied.
func (im *Importer) ImportWithCallback(ctx context.Context, doc *ExportDocument, opts ImportOptions, fn func(err error, entity *Skeleton)) {
	opts.Mode = ModeBestEffort
	for res := range im.Apply(ctx, doc, opts) {
		fn(res.Err, res.Entity)
	}
}

// ImportAll applies every entity of doc and returns the applied entities
// with one aggregate error listing every failure.
func (im *Importer) ImportAll(ctx context.Context, doc *ExportDocument, opts ImportOptions) ([]Skeleton, error) {
	opts.Mode = ModeCollect
	var applied []Skeleton
	var failures []error
	total := 0
	for res := range im.Apply(ctx, doc, opts) {
		total++
		if res.Entity != nil {
			applied = append(applied, *res.Entity)
		}
		if res.Err != nil {
			failures = append(failures, res.Err)
		}
	}
	if len(failures) > 0 {
		return applied, NewError(fmt.Sprintf("Error importing %d of %d entities", len(failures), total), failures...)
	}
	return applied, nil
}
