package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/cfgport/pkg/telemetry"
)

// DefaultScanConcurrency bounds parallel node-type enumeration.
const DefaultScanConcurrency = 4

// TypeScanError records a node type whose enumeration failed.
type TypeScanError struct {
	NodeType string
	Err      error
}

// OrphanReport is the outcome of an orphan scan.
type OrphanReport struct {
	// Realm is the scanned realm.
	Realm string

	// AllNodes are every node found, ordered by node type then id.
	AllNodes []Skeleton

	// Active holds the ids of nodes reachable from a tree.
	Active map[string]bool

	// Orphans are the nodes not reachable from any tree.
	Orphans []Skeleton

	// SkippedTypes are node types that could not be enumerated.
	SkippedTypes []TypeScanError

	// NestedContainers are ids of container nodes found inside other containers.
	NestedContainers []string

	// Warnings are non-fatal problems met during the scan.
	Warnings []string
}

// OrphanDetector finds nodes not referenced by any tree, directly or through container nodes.
type OrphanDetector struct {
	target      Target
	conn        Connection
	concurrency int
	progress    Progress
	printer     Printer
}

// NewOrphanDetector creates a detector over target.
func NewOrphanDetector(target Target, conn Connection) *OrphanDetector {
	return &OrphanDetector{
		target:      target,
		conn:        conn,
		concurrency: DefaultScanConcurrency,
		progress:    NopProgress{},
		printer:     NopPrinter{},
	}
}

// WithConcurrency sets how many node types are enumerated at once.
func (d *OrphanDetector) WithConcurrency(n int) *OrphanDetector {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// WithProgress sets the progress collaborator.
func (d *OrphanDetector) WithProgress(p Progress) *OrphanDetector {
	d.progress = p
	return d
}

// WithPrinter sets the warning collaborator.
func (d *OrphanDetector) WithPrinter(p Printer) *OrphanDetector {
	d.printer = p
	return d
}

// FindOrphans returns the orphaned nodes of the connection's realm.
func (d *OrphanDetector) FindOrphans(ctx context.Context) ([]Skeleton, error) {
	report, err := d.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return report.Orphans, nil
}

type containerItem struct {
	id       string
	nodeType string
	nested   bool
}

// Scan enumerates every node and tree and computes the orphan report.
func (d *OrphanDetector) Scan(ctx context.Context) (report *OrphanReport, err error) {
	realm := d.conn.Realm
	ic := telemetry.StartOperation(ctx, "orphans.scan", telemetry.AttrRealm.String(realm))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	logger := ic.Logger.WithRealm(realm)

	scope := Scope{Realm: realm}
	report = &OrphanReport{Realm: realm, Active: make(map[string]bool)}

	nodeTypes, err := d.target.NodeTypes(ctx, scope)
	if err != nil {
		return nil, NewError("Error listing node types", err)
	}
	sort.Strings(nodeTypes)

	d.progress.Create(len(nodeTypes), fmt.Sprintf("Scanning %d node types...", len(nodeTypes)))

	type typeResult struct {
		nodes []Skeleton
		err   error
	}
	results := make([]typeResult, len(nodeTypes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, nt := range nodeTypes {
		g.Go(func() error {
			for s, lerr := range d.target.List(gctx, TypeNode, Scope{Realm: realm, Subtype: nt}) {
				if lerr != nil {
					results[i].err = lerr
					return nil
				}
				results[i].nodes = append(results[i].nodes, s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, NewError("Error listing nodes", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError("Orphan scan cancelled", err)
	}

	nodesByID := make(map[string]Skeleton)
	for i, r := range results {
		d.progress.Update(fmt.Sprintf("Scanned node type %s", nodeTypes[i]))
		if r.err != nil {
			report.SkippedTypes = append(report.SkippedTypes, TypeScanError{NodeType: nodeTypes[i], Err: r.err})
			msg := fmt.Sprintf("Skipping node type %s: %v", nodeTypes[i], r.err)
			report.Warnings = append(report.Warnings, msg)
			d.printer.Warn(msg)
			continue
		}
		sort.Slice(r.nodes, func(a, b int) bool { return r.nodes[a].ID < r.nodes[b].ID })
		for _, n := range r.nodes {
			if _, dup := nodesByID[n.ID]; dup {
				continue
			}
			nodesByID[n.ID] = n
			report.AllNodes = append(report.AllNodes, n)
		}
	}

	var queue []containerItem
	for tree, lerr := range d.target.List(ctx, TypeTree, scope) {
		if lerr != nil {
			return nil, NewError("Error listing trees", lerr)
		}
		p, ok := tree.Payload.(*Tree)
		if !ok {
			continue
		}
		for _, edge := range p.Edges() {
			if report.Active[edge.NodeID] {
				continue
			}
			report.Active[edge.NodeID] = true
			queue = append(queue, containerItem{id: edge.NodeID, nodeType: edge.NodeType})
		}
	}

	// Breadth-first over containers, so inner nodes of any nesting depth become active.
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		node, known := nodesByID[item.id]
		if !known {
			if !ContainerNodeTypes[item.nodeType] {
				continue
			}
			fetched, ferr := d.target.Get(ctx, TypeNode, Scope{Realm: realm, Subtype: item.nodeType}, item.id)
			if ferr != nil {
				msg := fmt.Sprintf("Unable to read container node %s (%s): %v", item.id, item.nodeType, ferr)
				report.Warnings = append(report.Warnings, msg)
				d.printer.Warn(msg)
				continue
			}
			node = fetched
		}

		p, ok := node.Payload.(*Node)
		if !ok || !p.IsContainer() {
			continue
		}
		if item.nested {
			report.NestedContainers = append(report.NestedContainers, item.id)
			logger.WithEntity(string(TypeNode), item.id).Warn("container node nested inside another container")
		}
		for _, inner := range p.InnerNodes() {
			if report.Active[inner.ID] {
				continue
			}
			report.Active[inner.ID] = true
			queue = append(queue, containerItem{id: inner.ID, nodeType: inner.NodeType, nested: true})
		}
	}

	for _, n := range report.AllNodes {
		if !report.Active[n.ID] {
			report.Orphans = append(report.Orphans, n)
		}
	}

	telemetry.MetricsFromContext(ctx).SetOrphansFound(realm, len(report.Orphans))
	logger.Infof("found %d orphaned nodes out of %d", len(report.Orphans), len(report.AllNodes))

	status := ProgressSuccess
	if len(report.SkippedTypes) > 0 {
		status = ProgressWarning
	}
	d.progress.Stop(status, fmt.Sprintf("Found %d orphaned nodes", len(report.Orphans)))
	return report, nil
}

// RemoveOrphans deletes each node independently. It returns the nodes that
// could not be deleted together with an aggregate error describing why.
func (d *OrphanDetector) RemoveOrphans(ctx context.Context, nodes []Skeleton) (failed []Skeleton, err error) {
	ic := telemetry.StartOperation(ctx, "orphans.remove", telemetry.AttrRealm.String(d.conn.Realm))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	metrics := telemetry.MetricsFromContext(ctx)

	d.progress.Create(len(nodes), fmt.Sprintf("Removing %d orphaned nodes...", len(nodes)))

	var failures []error
	for _, n := range nodes {
		scope := Scope{Realm: d.conn.Realm, Subtype: n.Subtype()}
		if derr := d.target.Delete(ctx, TypeNode, scope, n.ID); derr != nil {
			failed = append(failed, n)
			failures = append(failures, NewError(fmt.Sprintf("Error removing node %s (%s)", n.ID, n.Subtype()), derr))
			metrics.RecordOrphanRemoval("failed")
			d.progress.Update(fmt.Sprintf("Failed to remove node %s", n.ID))
			continue
		}
		metrics.RecordOrphanRemoval("removed")
		d.progress.Update(fmt.Sprintf("Removed node %s", n.ID))
	}

	if len(failures) > 0 {
		d.progress.Stop(ProgressWarning, fmt.Sprintf("Removed %d of %d orphaned nodes", len(nodes)-len(failed), len(nodes)))
		return failed, NewError(fmt.Sprintf("Error removing %d of %d orphaned nodes", len(failed), len(nodes)), failures...)
	}
	d.progress.Stop(ProgressSuccess, fmt.Sprintf("Removed %d orphaned nodes", len(nodes)))
	return nil, nil
}
