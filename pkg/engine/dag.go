package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// EdgeKind is the dependency parameter an edge was derived from.
type EdgeKind string

const (
	// EdgeRequire orders the target before the declaring resource.
	EdgeRequire EdgeKind = catalog.ParamRequire

	// EdgeBefore orders the declaring resource before the target.
	EdgeBefore EdgeKind = catalog.ParamBefore

	// EdgeSubscribe is a require that also refreshes the declaring resource
	// when the target changes.
	EdgeSubscribe EdgeKind = catalog.ParamSubscribe

	// EdgeNotify is a before that also refreshes the target when the
	// declaring resource changes.
	EdgeNotify EdgeKind = catalog.ParamNotify
)

// Refreshes reports whether a change of the edge source refreshes its target.
func (k EdgeKind) Refreshes() bool {
	return k == EdgeSubscribe || k == EdgeNotify
}

// GraphEdge is a directed edge: From must be applied before To.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// GraphNode is one resource of the execution graph.
type GraphNode struct {
	// Ref is the Type[name] key of the resource.
	Ref string `json:"ref"`

	// Resource is the bucket descriptor.
	Resource *catalog.Resource `json:"-"`

	// Index is the position of the resource in the bucket.
	Index int `json:"index"`

	// Level is the execution level; nodes of one level run in parallel.
	Level int `json:"level"`

	// Dependencies are the refs that must be applied first.
	Dependencies []string `json:"dependencies"`

	// Dependents are the refs waiting on this node.
	Dependents []string `json:"dependents"`

	// RefreshSources are the refs whose change refreshes this node.
	RefreshSources []string `json:"refresh_sources,omitempty"`
}

// ExecutionGraph is the leveled dependency graph of a bucket.
type ExecutionGraph struct {
	Nodes  map[string]*GraphNode `json:"nodes"`
	Edges  []GraphEdge           `json:"edges"`
	Roots  []string              `json:"roots"`
	Levels [][]string            `json:"levels"`
	Depth  int                   `json:"depth"`
}

// Node returns the node for ref, or nil.
func (g *ExecutionGraph) Node(ref string) *GraphNode {
	return g.Nodes[ref]
}

// DAGBuilder builds a directed acyclic graph from bucket resources.
// It detects cycles and assigns execution levels for parallel application.
type DAGBuilder struct {
	// nodes maps refs to their nodes
	nodes map[string]*GraphNode

	// order lists refs in bucket order
	order []string

	// adjacencyList maps refs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps refs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// edges are the deduplicated edges in insertion order
	edges []GraphEdge

	// levels maps execution level to refs at that level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]*GraphNode),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph constructs an execution graph from resources and the edges
// between them. Edges must only name refs of resources.
func (b *DAGBuilder) BuildGraph(resources []catalog.Resource, edges []GraphEdge) (*ExecutionGraph, error) {
	if err := b.initialize(resources, edges); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildExecutionGraph(), nil
}

// initialize indexes resources and builds adjacency lists.
func (b *DAGBuilder) initialize(resources []catalog.Resource, edges []GraphEdge) error {
	for i := range resources {
		res := &resources[i]
		if res.Type == "" || res.Name == "" {
			return NewPermanentError(fmt.Sprintf("resource %d has an empty type or name", i), nil).
				WithCode(ErrCodeValidation)
		}

		ref := res.String()
		if _, exists := b.nodes[ref]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate resource %s", ref), nil).
				WithCode(ErrCodeValidation).WithResource(ref)
		}

		b.nodes[ref] = &GraphNode{Ref: ref, Resource: res, Index: i}
		b.order = append(b.order, ref)
		b.inDegree[ref] = 0
	}

	seen := make(map[GraphEdge]bool)
	linked := make(map[[2]string]bool)
	for _, edge := range edges {
		if seen[edge] {
			continue
		}
		seen[edge] = true

		from, to := b.nodes[edge.From], b.nodes[edge.To]
		if from == nil || to == nil {
			return NewPermanentError(fmt.Sprintf("edge %s -> %s names an unknown resource", edge.From, edge.To), nil).
				WithCode(ErrCodeUnknownDependency)
		}
		if edge.From == edge.To {
			return NewPermanentError(fmt.Sprintf("%s depends on itself", edge.From), nil).
				WithCode(ErrCodeCycle).WithResource(edge.From)
		}

		b.edges = append(b.edges, edge)
		if edge.Kind.Refreshes() {
			to.RefreshSources = appendUnique(to.RefreshSources, edge.From)
		}

		// Parallel edges of different kinds order the same pair once.
		pair := [2]string{edge.From, edge.To}
		if linked[pair] {
			continue
		}
		linked[pair] = true
		b.adjacencyList[edge.From] = append(b.adjacencyList[edge.From], edge.To)
		b.reverseAdjacencyList[edge.To] = append(b.reverseAdjacencyList[edge.To], edge.From)
		b.inDegree[edge.To]++
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, ref := range b.order {
		if visited[ref] {
			continue
		}
		if cycle := b.detectCyclesUtil(ref, visited, recStack, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeCycle).WithDetail("cycle", cycle)
		}
	}

	return nil
}

// detectCyclesUtil performs DFS along dependents and returns the first
// cycle found, closed by repeating its first ref.
func (b *DAGBuilder) detectCyclesUtil(ref string, visited, recStack map[string]bool, path []string) []string {
	visited[ref] = true
	recStack[ref] = true
	path = append(path, ref)

	for _, dependent := range b.adjacencyList[ref] {
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

	recStack[ref] = false
	return nil
}

// computeLevels assigns execution levels with Kahn's algorithm. Refs within
// a level keep their bucket order.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for ref, degree := range b.inDegree {
		inDegree[ref] = degree
	}

	current := make([]string, 0)
	for _, ref := range b.order {
		if inDegree[ref] == 0 {
			current = append(current, ref)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.sortByIndex(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, ref := range current {
			for _, dependent := range b.adjacencyList[ref] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.nodes) {
		return NewPermanentError("failed to level all resources, possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

func (b *DAGBuilder) sortByIndex(refs []string) {
	sort.Slice(refs, func(i, j int) bool {
		return b.nodes[refs[i]].Index < b.nodes[refs[j]].Index
	})
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes:  b.nodes,
		Edges:  b.edges,
		Roots:  make([]string, 0),
		Levels: b.levels,
		Depth:  len(b.levels),
	}
	if graph.Edges == nil {
		graph.Edges = make([]GraphEdge, 0)
	}

	for level, refs := range b.levels {
		for _, ref := range refs {
			node := b.nodes[ref]
			node.Level = level
			node.Dependencies = b.reverseAdjacencyList[ref]
			node.Dependents = b.adjacencyList[ref]
			if level == 0 {
				graph.Roots = append(graph.Roots, ref)
			}
		}
	}

	return graph
}

// GetLevels returns the computed execution levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a Graphviz representation of an execution graph. Nodes
// are grouped by level and colored by status when statuses are given.
func ToDOT(title string, graph *ExecutionGraph, statuses map[string]Status) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %s {\n", dotQuote(title)))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, refs := range graph.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, ref := range refs {
			node := graph.Nodes[ref]
			color := "lightblue"
			if !node.Resource.Declared {
				color = "lightgray"
			}
			if status, ok := statuses[ref]; ok {
				color = getStatusColor(status)
			}
			sb.WriteString(fmt.Sprintf("    %s [fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				dotQuote(ref), color))
		}

		sb.WriteString("  }\n\n")
	}

	for _, edge := range graph.Edges {
		sb.WriteString(fmt.Sprintf("  %s -> %s [%s];\n",
			dotQuote(edge.From), dotQuote(edge.To), getDependencyStyle(edge.Kind)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// getStatusColor returns a color for visualizing resource outcomes.
func getStatusColor(status Status) string {
	switch status {
	case StatusChanged:
		return "lightgreen"
	case StatusFailed:
		return "lightcoral"
	case StatusSkipped:
		return "khaki"
	case StatusNoop:
		return "lightyellow"
	default:
		return "white"
	}
}

// getDependencyStyle returns a DOT style string for edge kinds.
func getDependencyStyle(kind EdgeKind) string {
	switch kind {
	case EdgeSubscribe, EdgeNotify:
		return "style=dashed, color=blue"
	case EdgeBefore:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
