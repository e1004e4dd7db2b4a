// Package ordering implements C7: assigning a total order to a call graph's
// nodes so that every dependency precedes its dependent, nodes that share a
// consumer land near each other, and the result is stable across runs.
// Grounded on original_source's codegen.rs (`node_id2position`, the map a
// basic-block visitor and the borrow checker both consult to know what's
// "later"), simplified to the position-assignment itself: this package
// produces the total order; pkg/codegen and pkg/borrowck each walk it for
// their own purposes rather than re-deriving it.
package ordering

import "github.com/pavex-go/pavexc/pkg/callgraph"

// Order is a total order over a call graph's node indices.
type Order struct {
	nodes    []int
	position map[int]int
}

// Nodes returns the node indices in order; the node at Nodes()[0] has no
// unresolved dependencies left once every earlier node has been emitted.
func (o *Order) Nodes() []int { return o.nodes }

// Position returns idx's rank in the order. Lower comes first.
func (o *Order) Position(idx int) int { return o.position[idx] }

// Less reports whether a sorts before b.
func (o *Order) Less(a, b int) bool { return o.position[a] < o.position[b] }

// Build assigns positions by recursing from g's root into its dependencies
// (in their own stable, index-sorted order) and appending a node to the
// order only once every dependency it has has already been appended. This is
// a postorder DFS over the reversed (dependent -> dependency) adjacency, so a
// node's position always follows every one of its dependencies', and nodes
// that feed the same consumer are visited back to back because they're
// discovered from the same recursive call.
func Build(g *callgraph.Graph) *Order {
	o := &Order{position: map[int]int{}}
	visited := make([]bool, len(g.Nodes))

	var visit func(idx int)
	visit = func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		for _, dep := range g.Dependencies(idx) {
			visit(dep)
		}
		o.position[idx] = len(o.nodes)
		o.nodes = append(o.nodes, idx)
	}

	visit(g.RootIdx)
	// Defensively cover any node unreachable from the root by walking
	// dependencies alone (shouldn't happen: the call graph is built as the
	// root's own dependency closure), in ascending index order for stability.
	for idx := range g.Nodes {
		visit(idx)
	}

	return o
}
