// Package callgraph implements C5: converting a per-type dependency graph
// into a call graph where transient constructors are duplicated once per
// consumer, while everything else is shared. Grounded on
// original_source's call_graph.rs (`dependency_graph2call_graph`,
// `NumberOfAllowedInvocations`).
package callgraph

import (
	"sort"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/depgraph"
	"github.com/pavex-go/pavexc/pkg/types"
)

// AllowedInvocations caps how many times a compute node's constructor may be
// invoked within the generated function body.
type AllowedInvocations int

const (
	InvokeOnce AllowedInvocations = iota
	InvokeMany
)

type NodeKind int

const (
	NodeCompute NodeKind = iota
	NodeInputParameter
)

// Node is one call graph vertex: a constructor invocation, or a bare input
// parameter of the generated function.
type Node struct {
	Kind        NodeKind
	ComponentID component.ID // NodeCompute only
	Type        *types.Resolved
	Allowed     AllowedInvocations // NodeCompute only
}

// Graph is the per-root call graph: unlike the dependency graph, a node may
// appear more than once if its lifecycle is Transient.
type Graph struct {
	RootIdx int
	Nodes   []Node
	edges   map[int]map[int]bool // dependency index -> set of dependent indices
}

func (g *Graph) addEdge(dependency, dependent int) {
	if g.edges[dependency] == nil {
		g.edges[dependency] = map[int]bool{}
	}
	g.edges[dependency][dependent] = true
}

// AddNode appends a new node (e.g. a clone-repair node inserted by the borrow
// checker) and returns its index.
func (g *Graph) AddNode(n Node) int {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return idx
}

// AddEdge wires a dependency -> dependent edge, for repairs made after Build.
func (g *Graph) AddEdge(dependency, dependent int) { g.addEdge(dependency, dependent) }

// RemoveEdge severs a dependency -> dependent edge, for repairs made after Build.
func (g *Graph) RemoveEdge(dependency, dependent int) {
	if deps, ok := g.edges[dependency]; ok {
		delete(deps, dependent)
	}
}

// Dependents returns the indices of nodes that directly consume idx's output.
func (g *Graph) Dependents(idx int) []int {
	out := make([]int, 0, len(g.edges[idx]))
	for d := range g.edges[idx] {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Dependencies returns the indices of nodes idx directly depends on.
func (g *Graph) Dependencies(idx int) []int {
	var out []int
	for dep, dependents := range g.edges {
		if dependents[idx] {
			out = append(out, dep)
		}
	}
	sort.Ints(out)
	return out
}

// RequiredInputTypes returns every NodeInputParameter's type, sorted by the
// type's string form, matching the order they'll be threaded through as the
// generated function's parameter list.
func (g *Graph) RequiredInputTypes() []*types.Resolved {
	var out []*types.Resolved
	for _, n := range g.Nodes {
		if n.Kind == NodeInputParameter {
			out = append(out, n.Type)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

type stackElem struct {
	depIdx    int
	parentIdx int
	hasParent bool
}

// Build walks dep from its root, converting each visited node into a call
// graph node. A Compute node backed by a Transient component is duplicated
// fresh for every consumer; every other node (Singleton- or
// RequestScoped-backed Compute, and every InputParameter) is shared across
// all its consumers, per the dependency graph's own per-type deduplication.
func Build(dep *depgraph.Graph, components *component.DB) *Graph {
	g := &Graph{edges: map[int]map[int]bool{}}
	sharedIndex := map[int]int{} // dependency-graph index -> call graph index, "at most once" nodes only

	addShared := func(n Node, depIdx int) int {
		if idx, ok := sharedIndex[depIdx]; ok {
			return idx
		}
		idx := len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
		sharedIndex[depIdx] = idx
		return idx
	}

	rootDepIdx, _ := dep.IndexOf(dep.RootID)
	stack := []stackElem{{depIdx: rootDepIdx}}

	for len(stack) > 0 {
		elem := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		depNode := dep.Nodes[elem.depIdx]

		var callIdx int
		var kind NodeKind

		if depNode.Kind == depgraph.NodeCompute {
			kind = NodeCompute
			c, _ := components.HydratedComponent(depNode.ComponentID)
			allowed := InvokeOnce
			if c != nil && c.Lifecycle == component.Transient {
				allowed = InvokeMany
			}
			node := Node{Kind: NodeCompute, ComponentID: depNode.ComponentID, Type: depNode.Type, Allowed: allowed}
			if allowed == InvokeOnce {
				callIdx = addShared(node, elem.depIdx)
			} else {
				callIdx = len(g.Nodes)
				g.Nodes = append(g.Nodes, node)
			}
		} else {
			kind = NodeInputParameter
			callIdx = addShared(Node{Kind: NodeInputParameter, Type: depNode.Type}, elem.depIdx)
		}

		if elem.hasParent {
			g.addEdge(callIdx, elem.parentIdx)
		} else {
			g.RootIdx = callIdx
		}

		if kind == NodeCompute {
			for _, depOf := range dep.Dependencies(elem.depIdx) {
				stack = append(stack, stackElem{depIdx: depOf, parentIdx: callIdx, hasParent: true})
			}
		}
	}

	return g
}
