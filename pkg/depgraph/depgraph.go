// Package depgraph implements C4: a per-root dependency graph over components,
// built by fixed-point expansion (inputs, error handlers, transformers) and
// checked for cycles before call graph construction can begin. Grounded on
// original_source's dependency_graph.rs, adapted from petgraph's StableDiGraph
// to a plain adjacency-list model.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/constructible"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
	"github.com/pavex-go/pavexc/pkg/types"
)

// NodeKind tags whether a node is something the graph must build (Compute) or
// something handed to it from outside (Input).
type NodeKind int

const (
	NodeCompute NodeKind = iota
	NodeInput
)

// Node is one vertex: either a component to invoke, or a type taken as a
// bare input parameter (because it has no constructor in scope, or because
// its lifecycle makes it available up-front, e.g. a singleton).
type Node struct {
	Kind        NodeKind
	ComponentID component.ID    // NodeCompute only
	Type        *types.Resolved // both: Compute's output type, or the Input's type
}

func (n Node) key() string {
	if n.Kind == NodeCompute {
		return fmt.Sprintf("c|%d", n.ComponentID)
	}
	return "i|" + types.EraseLifetimes(n.Type).String()
}

// Graph is the dependency graph rooted at a single top-level component
// (typically a request handler). Edges run dependency -> dependent.
type Graph struct {
	RootID component.ID
	Nodes  []Node
	edges  map[int]map[int]bool // dependency index -> set of dependent indices
}

func newGraph(rootID component.ID) *Graph {
	return &Graph{RootID: rootID, edges: map[int]map[int]bool{}}
}

func (g *Graph) addEdge(dependency, dependent int) {
	if g.edges[dependency] == nil {
		g.edges[dependency] = map[int]bool{}
	}
	g.edges[dependency][dependent] = true
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

// IndexOf returns the node index holding componentID, if any.
func (g *Graph) IndexOf(componentID component.ID) (int, bool) {
	for i, n := range g.Nodes {
		if n.Kind == NodeCompute && n.ComponentID == componentID {
			return i, true
		}
	}
	return 0, false
}

// InvocationPolicy decides whether a component's output should be recomputed
// inline (Compute) or treated as already-available up-front (Input). The
// pipeline supplies the real policy: singletons are Input (built once into
// application state), request-scoped/transient components are Compute.
type InvocationPolicy func(component.Lifecycle) bool

type visitElem struct {
	id         component.ID
	parentIdx  int
	childIdx   int
	hasParent  bool
	hasChild   bool
}

// Build constructs the dependency graph reachable from rootID, plus every
// registered error observer (observers always run, regardless of reachability
// from the root's own inputs).
func Build(rootID component.ID, errorObserverIDs []component.ID, components *component.DB, constructibles *constructible.DB, scopes *scopegraph.Graph, isCompute InvocationPolicy) *Graph {
	g := newGraph(rootID)
	nodeIndex := map[string]int{}

	rootComponent, _ := components.HydratedComponent(rootID)
	rootScope := scopegraph.Root
	if rootComponent != nil {
		rootScope = rootComponent.Scope
	}

	addNode := func(n Node) int {
		k := n.key()
		if idx, ok := nodeIndex[k]; ok {
			return idx
		}
		idx := len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
		nodeIndex[k] = idx
		return idx
	}

	componentNode := func(id component.ID) Node {
		c, ok := components.HydratedComponent(id)
		if !ok {
			return Node{Kind: NodeInput, Type: nil}
		}
		if c.Kind == component.KindPrebuilt || !isCompute(c.Lifecycle) {
			return Node{Kind: NodeInput, Type: c.OutputType}
		}
		return Node{Kind: NodeCompute, ComponentID: id, Type: c.OutputType}
	}

	processed := map[int]bool{}
	handledErrors := map[int]bool{}
	handledTransformers := map[int]bool{}

	inputTypesOf := func(id component.ID) []*types.Resolved {
		c, ok := components.HydratedComponent(id)
		if !ok {
			return nil
		}
		switch c.Kind {
		case component.KindMatchOk, component.KindMatchErr, component.KindBorrowTransformer:
			return nil // their single implicit input is wired explicitly, below
		}
		if c.Signature == nil {
			return nil
		}
		out := make([]*types.Resolved, 0, len(c.Signature.Inputs))
		for _, in := range c.Signature.Inputs {
			out = append(out, in.Type)
		}
		return out
	}

	// drain processes every queued visit, expanding each Compute node's
	// implicit (match/borrow) or declared (signature) inputs, recursively
	// queuing whatever constructor resolves each one.
	drain := func(queue []visitElem) {
		for len(queue) > 0 {
			elem := queue[0]
			queue = queue[1:]

			currentIdx := addNode(componentNode(elem.id))
			if elem.hasParent {
				g.addEdge(elem.parentIdx, currentIdx)
			}
			if elem.hasChild {
				g.addEdge(currentIdx, elem.childIdx)
			}
			if processed[currentIdx] {
				continue
			}
			processed[currentIdx] = true

			if g.Nodes[currentIdx].Kind != NodeCompute {
				continue
			}
			c, _ := components.HydratedComponent(elem.id)

			switch c.Kind {
			case component.KindMatchOk, component.KindMatchErr:
				queue = append(queue, visitElem{id: c.FallibleParent, childIdx: currentIdx, hasChild: true})
			case component.KindBorrowTransformer:
				queue = append(queue, visitElem{id: c.OwnedParent, childIdx: currentIdx, hasChild: true})
			default:
				for _, inputType := range inputTypesOf(elem.id) {
					if inputType == nil {
						continue
					}
					if ctorID, _, ok := constructibles.Get(c.Scope, inputType); ok {
						queue = append(queue, visitElem{id: ctorID, childIdx: currentIdx, hasChild: true})
						continue
					}
					// No direct constructor for this exact type. If it's a
					// shared reference and the owned value is constructible,
					// synthesize the borrow transformer lazily, right here,
					// where the first consumer is actually observed (§4.2(2)).
					if inputType.Kind == types.KindReference && !inputType.Mutable {
						if ownerID, _, ok := constructibles.Get(c.Scope, inputType.Inner); ok {
							borrowID := components.SynthesizeBorrowTransformer(ownerID)
							constructibles.Register(borrowID)
							queue = append(queue, visitElem{id: borrowID, childIdx: currentIdx, hasChild: true})
							continue
						}
					}
					idx := addNode(Node{Kind: NodeInput, Type: inputType})
					g.addEdge(idx, currentIdx)
				}
			}
		}
	}

	var initial []visitElem
	for _, id := range errorObserverIDs {
		initial = append(initial, visitElem{id: id})
	}
	initial = append(initial, visitElem{id: rootID})
	drain(initial)

	for {
		before := len(g.Nodes)
		var more []visitElem

		for idx := 0; idx < len(g.Nodes); idx++ {
			if handledErrors[idx] {
				continue
			}
			handledErrors[idx] = true
			n := g.Nodes[idx]
			if n.Kind != NodeCompute {
				continue
			}
			if handlerID, ok := components.ErrorHandlerID(n.ComponentID); ok {
				handlerIdx := addNode(componentNode(handlerID))
				g.addEdge(idx, handlerIdx)
				if !processed[handlerIdx] {
					more = append(more, visitElem{id: handlerID})
				}
			}
		}

		for idx := 0; idx < len(g.Nodes); idx++ {
			if handledTransformers[idx] {
				continue
			}
			handledTransformers[idx] = true
			n := g.Nodes[idx]
			if n.Kind != NodeCompute {
				continue
			}
			transformerIDs, ok := components.TransformerIDs(n.ComponentID)
			if !ok {
				continue
			}
			for _, transformerID := range transformerIDs {
				tc, ok := components.HydratedComponent(transformerID)
				if !ok {
					continue
				}
				if !scopes.IsAncestor(tc.Scope, rootScope) {
					continue
				}
				transformerIdx := addNode(componentNode(transformerID))
				g.addEdge(idx, transformerIdx)
				if !processed[transformerIdx] {
					more = append(more, visitElem{id: transformerID})
				}
			}
		}

		drain(more)

		if len(more) == 0 && len(g.Nodes) == before {
			break
		}
	}

	return g
}

// FindCycles returns one cycle per back edge met by a DFS over the nodes in
// index order, as sequences of node indices, in discovery order. It does not
// enumerate every simple cycle. Empty if the graph is acyclic.
func FindCycles(g *Graph) [][]int {
	visited := map[int]bool{}
	var stack []int
	onStack := map[int]bool{}
	var cycles [][]int

	var dfs func(idx int)
	dfs = func(idx int) {
		visited[idx] = true
		onStack[idx] = true
		stack = append(stack, idx)

		for _, next := range g.Dependents(idx) {
			if !visited[next] {
				dfs(next)
			} else if onStack[next] {
				for i, v := range stack {
					if v == next {
						cycle := append([]int(nil), stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		onStack[idx] = false
		stack = stack[:len(stack)-1]
	}

	order := make([]int, len(g.Nodes))
	for i := range order {
		order[i] = i
	}
	for _, idx := range order {
		if !visited[idx] {
			dfs(idx)
		}
	}
	return cycles
}

// AssertAcyclic pushes a fatal diagnostic for every cycle found and reports
// whether the graph was acyclic.
func AssertAcyclic(g *Graph, sink *diagnostics.Sink) bool {
	cycles := FindCycles(g)
	for _, cycle := range cycles {
		sink.Push(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Kind:     "cyclic_dependency",
			Message:  describeCycle(g, cycle),
			Help:     "break the cycle by changing the signature of one of the components involved",
		})
	}
	return len(cycles) == 0
}

func describeCycle(g *Graph, cycle []int) string {
	var sb strings.Builder
	sb.WriteString("the dependency graph contains a cycle:\n")
	for i, idx := range cycle {
		n := g.Nodes[idx]
		next := g.Nodes[cycle[(i+1)%len(cycle)]]
		label := func(n Node) string {
			if n.Kind == NodeInput {
				return fmt.Sprintf("input %s", n.Type)
			}
			return fmt.Sprintf("component %d (%s)", n.ComponentID, n.Type)
		}
		fmt.Fprintf(&sb, "  - %s depends on %s\n", label(next), label(n))
	}
	return sb.String()
}
