package engine

import (
	"fmt"
	"sort"
	"strings"
)

// PlanUnit is one entity scheduled by an import plan.
type PlanUnit struct {
	// ID is the unit id, the entity key rendered as "type/id".
	ID string

	// SourceID is the entity id as written in the document.
	SourceID string

	// Entity is the entity to apply, with ids already regenerated when requested.
	Entity Skeleton

	// Dependencies are references to other units of the same plan.
	Dependencies []DependencyRef

	// External are references that must already exist on the target.
	External []DependencyRef

	// Level is the topological level; units of level n only depend on levels < n.
	Level int

	// Selected marks units chosen directly rather than pulled in as dependencies.
	Selected bool
}

// DAGBuilder orders plan units so that every unit comes after its dependencies.
// Ordering is deterministic: units on one level keep their input order.
type DAGBuilder struct {
	// units maps unit IDs to their plan units
	units map[string]*PlanUnit

	// order is the input order of unit IDs
	order []string

	// index maps unit IDs to their input position
	index map[string]int

	// adjacencyList maps unit IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps unit IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels holds unit IDs per level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		units:                make(map[string]*PlanUnit),
		index:                make(map[string]int),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
	}
}

// Build indexes the units, detects cycles and computes levels. Units are
// updated in place with their level.
func (b *DAGBuilder) Build(units []*PlanUnit) error {
	if len(units) == 0 {
		return nil
	}

	if err := b.initialize(units); err != nil {
		return err
	}

	if err := b.detectCycles(); err != nil {
		return err
	}

	return b.computeLevels()
}

// initialize sets up the internal data structures from plan units.
func (b *DAGBuilder) initialize(units []*PlanUnit) error {
	for i, unit := range units {
		if unit.ID == "" {
			return NewValidationError("plan unit has empty ID", nil)
		}

		if _, exists := b.units[unit.ID]; exists {
			return NewValidationError(fmt.Sprintf("duplicate entity in import: %s", unit.ID), nil)
		}

		b.units[unit.ID] = unit
		b.order = append(b.order, unit.ID)
		b.index[unit.ID] = i
		b.adjacencyList[unit.ID] = make([]string, 0)
		b.reverseAdjacencyList[unit.ID] = make([]string, 0)
		b.inDegree[unit.ID] = 0
	}

	for _, id := range b.order {
		unit := b.units[id]
		for _, dep := range unit.Dependencies {
			targetID := dep.Key().String()

			if _, exists := b.units[targetID]; !exists {
				return NewValidationError(
					fmt.Sprintf("%s depends on %s which is not part of the import", unit.ID, targetID), nil)
			}

			// dependency must be applied before the unit
			b.adjacencyList[targetID] = append(b.adjacencyList[targetID], unit.ID)
			b.reverseAdjacencyList[unit.ID] = append(b.reverseAdjacencyList[unit.ID], targetID)
			b.inDegree[unit.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.order {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return newKindError(KindDependencyCycle,
					fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)))
			}
		}
	}

	return nil
}

// detectCyclesUtil performs DFS and returns the cycle path when one is found.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm.
func (b *DAGBuilder) computeLevels() error {
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}

	currentLevel := make([]string, 0)
	for _, id := range b.order {
		if inDegreeCopy[id] == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	if len(currentLevel) == 0 {
		return newKindError(KindDependencyCycle, "no entity without dependencies found")
	}

	processedCount := 0
	for len(currentLevel) > 0 {
		level := len(b.levels)
		for _, id := range currentLevel {
			b.units[id].Level = level
		}
		b.levels = append(b.levels, currentLevel)
		processedCount += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		sort.Slice(nextLevel, func(i, j int) bool {
			return b.index[nextLevel[i]] < b.index[nextLevel[j]]
		})

		currentLevel = nextLevel
	}

	if processedCount != len(b.units) {
		return newKindError(KindDependencyCycle, "failed to order all entities - possible cycle")
	}

	return nil
}

// GetLevels returns the computed levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// Ordered returns the units level by level.
func (b *DAGBuilder) Ordered() []*PlanUnit {
	out := make([]*PlanUnit, 0, len(b.units))
	for _, level := range b.levels {
		for _, id := range level {
			out = append(out, b.units[id])
		}
	}
	return out
}

// dotEscaper escapes text placed inside a quoted DOT string.
var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// ToDOT generates a DOT format representation of the DAG for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ImportPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, unitIDs := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, unitID := range unitIDs {
			unit := b.units[unitID]
			label := fmt.Sprintf("%s\\n%s", unit.Entity.Type, dotEscaper.Replace(unit.Entity.DisplayName()))
			color := getEntityColor(unit)

			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				dotEscaper.Replace(unitID), label, color))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range b.order {
		unit := b.units[id]
		for _, dep := range unit.Dependencies {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n",
				dotEscaper.Replace(dep.Key().String()), dotEscaper.Replace(unit.ID), getDependencyStyle(dep)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// getEntityColor returns a fill color distinguishing selected units from pulled-in dependencies.
func getEntityColor(unit *PlanUnit) string {
	if unit.Selected {
		return "lightgreen"
	}
	return "lightgray"
}

// getDependencyStyle returns a DOT style string for a reference.
func getDependencyStyle(ref DependencyRef) string {
	if ref.Owned {
		return "style=solid, color=black"
	}
	return "style=dashed, color=blue"
}
