// Package borrowck implements C6: scanning a call graph for "move while
// borrowed" violations and repairing them with a clone node where possible.
// Grounded verbatim in structure on original_source's move_while_borrowed.rs:
// a forward pass propagating which nodes a node's output captures a
// reference from, followed by a backward (sinks-to-sources) pass tracking
// what's borrowed "now" and "later" at each node and flagging every Move edge
// that lands on something still borrowed.
//
// This compiler never synthesizes a mutable-borrow transformer (only shared
// borrows, via component.DB.SynthesizeBorrowTransformer), so the edge-kind
// space is narrower than the original: every edge is a Move except the
// owner -> borrow-transformer edge, which is a SharedBorrow.
package borrowck

import (
	"fmt"

	"github.com/pavex-go/pavexc/pkg/callgraph"
	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/types"
)

// EdgeKind classifies a dependency -> dependent edge for conflict purposes.
type EdgeKind int

const (
	Move EdgeKind = iota
	SharedBorrow
)

type edgeKey struct{ dependency, dependent int }

// Check scans g for move-while-borrowed violations, repairing every one it
// can by inserting a clone node (when the owner's cloning strategy allows
// it) and pushing a diagnostic for every one it can't.
func Check(g *callgraph.Graph, components *component.DB, sink *diagnostics.Sink) {
	edgeKind := classifyEdges(g, components)
	captured := propagateCaptures(g, components)

	order := postorderFromSource(g)
	borrows := map[int]map[int]bool{}

	for _, idx := range order {
		borrowedLater := map[int]bool{}
		for _, dependent := range g.Dependents(idx) {
			for b := range borrows[dependent] {
				borrowedLater[b] = true
			}
		}

		borrowedImmutablyNow := map[int]bool{}
		deps := append([]int(nil), g.Dependencies(idx)...)

		for _, dep := range deps {
			for t := range captured[dep] {
				borrowedImmutablyNow[t] = true
			}
			if edgeKind[edgeKey{dep, idx}] == SharedBorrow {
				borrowedImmutablyNow[dep] = true
			}
		}

		for _, dep := range deps {
			if edgeKind[edgeKey{dep, idx}] != Move {
				continue
			}
			if borrowedImmutablyNow[dep] || borrowedLater[dep] {
				repair(g, components, sink, dep, idx)
			}
		}

		merged := map[int]bool{}
		for b := range borrowedImmutablyNow {
			merged[b] = true
		}
		for b := range borrowedLater {
			merged[b] = true
		}
		borrows[idx] = merged
	}
}

// classifyEdges tags every edge as Move by default, then overrides the one
// edge a borrow-transformer node has (from the value it borrows) to
// SharedBorrow.
func classifyEdges(g *callgraph.Graph, components *component.DB) map[edgeKey]EdgeKind {
	kinds := map[edgeKey]EdgeKind{}
	for idx, n := range g.Nodes {
		for _, dep := range g.Dependencies(idx) {
			kinds[edgeKey{dep, idx}] = Move
		}
		if n.Kind != callgraph.NodeCompute {
			continue
		}
		c, ok := components.HydratedComponent(n.ComponentID)
		if !ok || c.Kind != component.KindBorrowTransformer {
			continue
		}
		for _, dep := range g.Dependencies(idx) {
			kinds[edgeKey{dep, idx}] = SharedBorrow
		}
	}
	return kinds
}

// propagateCaptures is the forward pass: starting from every node with no
// dependencies, it tracks, for each node, the set of node indices whose
// values its own output keeps a live reference into (per
// signature.Input.Captures/BorrowsFrom).
func propagateCaptures(g *callgraph.Graph, components *component.DB) map[int]map[int]bool {
	captured := map[int]map[int]bool{}
	visited := map[int]bool{}
	var queue []int
	for i := range g.Nodes {
		if len(g.Dependencies(i)) == 0 {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		visited[idx] = true

		capturesTypes := map[string]bool{}
		directlyBorrowed := map[string]bool{}
		if n := g.Nodes[idx]; n.Kind == callgraph.NodeCompute {
			if c, ok := components.HydratedComponent(n.ComponentID); ok && c.Signature != nil {
				for _, in := range c.Signature.Inputs {
					key := typeKey(in.Type)
					if in.Captures {
						capturesTypes[key] = true
					}
					if in.BorrowsFrom {
						directlyBorrowed[key] = true
					}
				}
			}
		}

		for _, dep := range g.Dependencies(idx) {
			key := typeKey(g.Nodes[dep].Type)
			if capturesTypes[key] {
				for t := range captured[dep] {
					ensureSet(captured, idx)[t] = true
				}
			}
			if directlyBorrowed[key] {
				// A borrow routed through a synthesized borrow transformer
				// (§4.2(2)) should be blamed on the owner it borrows from,
				// not on the transformer node itself — the transformer is
				// plumbing, never a value anyone else moves.
				ensureSet(captured, idx)[resolveBorrowSource(g, components, dep)] = true
			}
		}

		for _, dependent := range g.Dependents(idx) {
			if !visited[dependent] {
				queue = append(queue, dependent)
			}
		}
	}
	return captured
}

func ensureSet(m map[int]map[int]bool, idx int) map[int]bool {
	if m[idx] == nil {
		m[idx] = map[int]bool{}
	}
	return m[idx]
}

func typeKey(t *types.Resolved) string {
	return types.EraseLifetimes(t).String()
}

// resolveBorrowSource translates a borrow-transformer node to the owner node
// it borrows from, so captures are tracked against the value that must not
// be moved rather than against the synthesized plumbing that carries it.
func resolveBorrowSource(g *callgraph.Graph, components *component.DB, idx int) int {
	n := g.Nodes[idx]
	if n.Kind != callgraph.NodeCompute {
		return idx
	}
	c, ok := components.HydratedComponent(n.ComponentID)
	if !ok || c.Kind != component.KindBorrowTransformer {
		return idx
	}
	ownerID := components.OwnedID(n.ComponentID)
	for i, m := range g.Nodes {
		if m.Kind == callgraph.NodeCompute && m.ComponentID == ownerID {
			return i
		}
	}
	return idx
}

// postorderFromSource runs a DFS, following outgoing (dependency ->
// dependent) edges, starting from every node with no dependencies in index
// order, so each node reachable from any source appears in the postorder
// exactly once, after all of its dependents.
func postorderFromSource(g *callgraph.Graph) []int {
	visited := map[int]bool{}
	var order []int
	var visit func(int)
	visit = func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		for _, dependent := range g.Dependents(idx) {
			visit(dependent)
		}
		order = append(order, idx)
	}
	for i := range g.Nodes {
		if len(g.Dependencies(i)) == 0 {
			visit(i)
		}
	}
	return order
}

// repair tries to insert a clone node between dependencyIdx and consumerIdx.
// It succeeds only if dependencyIdx is backed by a component whose cloning
// strategy is CloneIfNecessary *and* whose type documents a Clone
// implementation in the documentation cache (§4.6); otherwise it emits a
// diagnostic, since the conflict can't be resolved without changing the
// blueprint.
func repair(g *callgraph.Graph, components *component.DB, sink *diagnostics.Sink, dependencyIdx, consumerIdx int) {
	depNode := g.Nodes[dependencyIdx]
	if depNode.Kind != callgraph.NodeCompute {
		emitConflict(g, components, sink, dependencyIdx, consumerIdx)
		return
	}
	c, ok := components.HydratedComponent(depNode.ComponentID)
	if !ok || c.CloningStrategy != component.CloneIfNecessary {
		emitConflict(g, components, sink, dependencyIdx, consumerIdx)
		return
	}
	if !component.HasCapability(components.Capabilities(depNode.ComponentID), "Clone") {
		emitConflict(g, components, sink, dependencyIdx, consumerIdx)
		return
	}

	cloneID := components.SynthesizeCloneTransformer(depNode.ComponentID)
	cloneIdx := g.AddNode(callgraph.Node{
		Kind: callgraph.NodeCompute, ComponentID: cloneID, Type: depNode.Type, Allowed: callgraph.InvokeOnce,
	})
	// Clone's signature is "borrow self, produce an owned copy": the original
	// is only ever shared-borrowed by the clone node, never moved again.
	g.AddEdge(dependencyIdx, cloneIdx)
	g.AddEdge(cloneIdx, consumerIdx)
	g.RemoveEdge(dependencyIdx, consumerIdx)
}

func emitConflict(g *callgraph.Graph, components *component.DB, sink *diagnostics.Sink, dependencyIdx, consumerIdx int) {
	dep := g.Nodes[dependencyIdx]
	consumer := describeNode(components, g.Nodes[consumerIdx])
	sink.Push(diagnostics.Diagnostic{
		Severity: diagnostics.SeverityError,
		Kind:     "borrow_conflict",
		Message: fmt.Sprintf(
			"%s consumes %s by value, but it is still borrowed elsewhere in this call graph and its cloning strategy doesn't allow cloning it",
			consumer, dep.Type),
		Help: fmt.Sprintf(
			"register %s with a cloning strategy of clone_if_necessary, or change %s to take a shared reference instead",
			dep.Type, consumer),
	})
}

func describeNode(components *component.DB, n callgraph.Node) string {
	if n.Kind != callgraph.NodeCompute {
		return fmt.Sprintf("input %s", n.Type)
	}
	if c, ok := components.HydratedComponent(n.ComponentID); ok && c.Signature != nil {
		return c.Signature.ImportPath
	}
	return fmt.Sprintf("component %d", n.ComponentID)
}
