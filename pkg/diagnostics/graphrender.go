package diagnostics

import (
	"sort"

	"github.com/m1gwings/treedrawer/tree"
)

// GraphNode is the minimal shape a caller needs to render any of the
// compiler's node-and-edge graphs (dependency graph, call graph) as an ASCII
// tree attached to a diagnostic. Label is a stable, human-readable name;
// Children are the node's dependents in the direction being rendered.
type GraphNode struct {
	Label    string
	Children []GraphNode
}

// RenderTree renders a single root as a horizontal ASCII tree, the same shape
// the teacher's graph-debug extension produces for reactive-dependency errors
// (deterministic: children are sorted by label at every level).
func RenderTree(root GraphNode) string {
	t := buildTree(root)
	return t.String()
}

// RenderForest renders multiple roots under a synthetic top node, used when a
// cycle or a conflict spans more than one independent root (e.g. a cycle
// diagnostic naming every participating component).
func RenderForest(title string, roots []GraphNode) string {
	sort.Slice(roots, func(i, j int) bool { return roots[i].Label < roots[j].Label })
	synthetic := tree.NewTree(tree.NodeString(title))
	for _, r := range roots {
		child := buildTree(r)
		addAsChild(synthetic, child)
	}
	return synthetic.String()
}

func buildTree(n GraphNode) *tree.Tree {
	t := tree.NewTree(tree.NodeString(n.Label))
	children := append([]GraphNode(nil), n.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].Label < children[j].Label })
	for _, c := range children {
		childTree := buildTree(c)
		addAsChild(t, childTree)
	}
	return t
}

// addAsChild copies child's subtree under parent; treedrawer's AddChild takes
// a node value rather than a subtree, so descendants are re-attached
// recursively (mirrors the teacher's addTreeAsChild in extensions/graph_debug.go).
func addAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		addAsChild(newChild, grandchild)
	}
}
