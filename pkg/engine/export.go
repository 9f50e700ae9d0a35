package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/cfgport/pkg/telemetry"
)

// Exporter serializes live entities into export documents.
type Exporter struct {
	reader   Reader
	conn     Connection
	factory  *TemplateFactory
	opts     ExportOptions
	progress Progress
	printer  Printer
}

// NewExporter creates an exporter reading from reader.
func NewExporter(reader Reader, conn Connection, factory *TemplateFactory, opts ExportOptions) *Exporter {
	return &Exporter{
		reader:   reader,
		conn:     conn,
		factory:  factory,
		opts:     opts,
		progress: NopProgress{},
		printer:  NopPrinter{},
	}
}

// WithProgress sets the progress collaborator.
func (e *Exporter) WithProgress(p Progress) *Exporter {
	e.progress = p
	return e
}

// WithPrinter sets the warning collaborator.
func (e *Exporter) WithPrinter(p Printer) *Exporter {
	e.printer = p
	return e
}

func (e *Exporter) scope(s Scope) Scope {
	if s.Realm == "" {
		s.Realm = e.conn.Realm
	}
	return s
}

// ExportEntity exports one entity and, depending on the options, its
// dependencies. The first failure is returned with one context layer.
func (e *Exporter) ExportEntity(ctx context.Context, t EntityType, scope Scope, id string) (doc *ExportDocument, err error) {
	ic := telemetry.StartOperation(ctx, "export",
		telemetry.AttrEntityType.String(string(t)),
		telemetry.AttrEntityID.String(id))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	wrap := func(cause error) error {
		return NewError(fmt.Sprintf("Error exporting %s %s", t, id), cause)
	}

	if !e.conn.Supports(t) {
		return nil, wrap(NewValidationError(
			fmt.Sprintf("%s is not available on %s deployments", t, e.conn.DeploymentType), nil))
	}

	scope = e.scope(scope)
	s, err := e.reader.Get(ctx, t, scope, id)
	if err != nil {
		return nil, wrap(err)
	}

	doc = e.factory.CreateExportTemplate(t)
	if err := e.add(ctx, doc, s, scope, map[Key]bool{}); err != nil {
		return nil, wrap(err)
	}
	return doc, nil
}

// ExportJourney exports a tree with its nodes, inner nodes of container
// nodes and, with Deps, the scripts they reference.
func (e *Exporter) ExportJourney(ctx context.Context, realm, treeID string) (*ExportDocument, error) {
	return e.ExportEntity(ctx, TypeTree, Scope{Realm: realm}, treeID)
}

// ExportAll exports every entity of a type. Per-entity failures do not stop
// the export: the partial document is returned together with one aggregate
// error listing every failure.
func (e *Exporter) ExportAll(ctx context.Context, t EntityType, scope Scope) (doc *ExportDocument, err error) {
	ic := telemetry.StartOperation(ctx, "export",
		telemetry.AttrEntityType.String(string(t)))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	logger := ic.Logger

	doc = e.factory.CreateExportTemplate(t)
	if !e.conn.Supports(t) {
		return doc, NewValidationError(
			fmt.Sprintf("%s is not available on %s deployments", t, e.conn.DeploymentType), nil)
	}

	scope = e.scope(scope)
	scopes := []Scope{scope}
	if t == TypeNode && scope.Subtype == "" {
		nodeTypes, err := e.reader.NodeTypes(ctx, scope)
		if err != nil {
			return doc, NewError("Error listing node types", err)
		}
		scopes = scopes[:0]
		for _, nt := range nodeTypes {
			scopes = append(scopes, Scope{Realm: scope.Realm, Subtype: nt})
		}
	}

	e.progress.Create(0, fmt.Sprintf("Exporting %s entities...", t))

	var failures []error
	exported := 0
	for _, sc := range scopes {
		for s, listErr := range e.reader.List(ctx, t, sc) {
			if listErr != nil {
				failures = append(failures, NewError(fmt.Sprintf("Error listing %s", describeScope(t, sc)), listErr))
				break
			}
			if isDefault(s) && !e.opts.IncludeDefault {
				continue
			}
			e.progress.Update(fmt.Sprintf("Exporting %s %s", t, s.DisplayName()))
			if addErr := e.add(ctx, doc, s, sc, map[Key]bool{}); addErr != nil {
				logger.WithEntity(string(t), s.ID).WithError(addErr).Warn("entity export failed")
				failures = append(failures, NewError(fmt.Sprintf("Error exporting %s %s", t, s.ID), addErr))
				continue
			}
			exported++
		}
	}

	if len(failures) > 0 {
		e.progress.Stop(ProgressWarning, fmt.Sprintf("Exported %d %s entities, %d failed", exported, t, len(failures)))
		return doc, NewError(fmt.Sprintf("Error exporting %s entities", t), failures...)
	}
	e.progress.Stop(ProgressSuccess, fmt.Sprintf("Exported %d %s entities", exported, t))
	return doc, nil
}

// add writes s and, recursively, its dependencies into doc. stack holds the
// entities on the current path for cycle detection.
func (e *Exporter) add(ctx context.Context, doc *ExportDocument, s Skeleton, scope Scope, stack map[Key]bool) (err error) {
	key := s.Key()
	if doc.Has(key) {
		return nil
	}

	ectx := telemetry.WithEntityContext(ctx, "export", string(s.Type), s.ID)
	defer func() {
		outcome := "exported"
		if err != nil {
			outcome = "failed"
		}
		telemetry.EndEntityContext(ectx, "export", string(s.Type), outcome, string(KindOf(err)), err)
	}()

	stack[key] = true
	defer delete(stack, key)

	if store, ok := s.Payload.(*SecretStore); ok {
		subs, err := e.reader.ListSubresources(ectx, s, Scope{Realm: scope.Realm, Subtype: store.StoreType()})
		if err != nil {
			return NewError(fmt.Sprintf("Error reading mappings of %s", key), err)
		}
		s = s.Clone()
		s.Payload.(*SecretStore).SetMappings(subs)
	}

	doc.Add(toDocument(s, e.opts))

	for _, ref := range ResolveDependencies(s) {
		if !ref.Owned && !e.opts.Deps {
			continue
		}
		if stack[ref.Key()] {
			return newKindError(KindDependencyCycle,
				fmt.Sprintf("dependency cycle: %s -> %s", key, ref.Key()))
		}
		if doc.Has(ref.Key()) {
			continue
		}
		dep, err := e.reader.Get(ectx, ref.Type, Scope{Realm: scope.Realm, Subtype: ref.Subtype}, ref.ID)
		if err != nil {
			return NewError(fmt.Sprintf("Error exporting dependency %s of %s", ref.Key(), key), err)
		}
		if isDefault(dep) && !e.opts.IncludeDefault {
			continue
		}
		if err := e.add(ectx, doc, dep, scope, stack); err != nil {
			return err
		}
	}
	return nil
}

func describeScope(t EntityType, s Scope) string {
	if s.Subtype != "" {
		return fmt.Sprintf("%s (%s) in realm %s", t, s.Subtype, s.Realm)
	}
	return fmt.Sprintf("%s in realm %s", t, s.Realm)
}
