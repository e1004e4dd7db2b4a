// Package codegen implements C9: turning an ordered call graph into a
// generated Go source file. Grounded on the teacher's codegen/main.go
// (string-builder-based Go source emission, generalized from "emit
// Derive1..9" to "emit one handler function per call graph") and
// original_source's call_graph/codegen.rs for the traversal shape: walk the
// ordering (§4.7), bind every invocation-multiplicity-one node to a fresh
// variable, inline invocation-multiplicity-many nodes at each use site, and
// emit an early return at every fallible node.
package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavex-go/pavexc/pkg/callgraph"
	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/ordering"
	"github.com/pavex-go/pavexc/pkg/types"
)

// Function is one generated handler pipeline.
type Function struct {
	Name   string
	Source string
}

// FunctionSpec is everything GenerateFunction needs to emit one Function.
type FunctionSpec struct {
	Name       string
	Graph      *callgraph.Graph
	Order      *ordering.Order
	Components *component.DB
}

// nameGen hands out short, deduplicated variable names derived from a
// type's base name, mirroring the teacher's ctrl1/ctrl2/... counters in
// generateDerive but keyed by type rather than by position.
type nameGen struct {
	used map[string]int
}

func newNameGen() *nameGen { return &nameGen{used: map[string]int{}} }

func (g *nameGen) next(t *types.Resolved) string {
	base := varBase(t)
	n := g.used[base]
	g.used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, n)
}

func varBase(t *types.Resolved) string {
	if t == nil {
		return "v"
	}
	switch t.Kind {
	case types.KindPath:
		if len(t.BasePath) == 0 {
			return "v"
		}
		return lowerFirst(t.BasePath[len(t.BasePath)-1])
	case types.KindReference:
		return varBase(t.Inner)
	case types.KindSlice:
		return varBase(t.Inner) + "s"
	case types.KindScalar:
		return "v"
	case types.KindTuple:
		return "tuple"
	default:
		return "v"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] - 'A' + 'a'
	}
	return string(r)
}

// goType renders a best-effort Go spelling of a resolved type, for the
// generated function's signature. This is necessarily approximate: the
// compiler's own types.Resolved models Rust's type shapes, and a handful of
// scalar names (str, usize, i32, ...) get mapped onto their closest Go
// equivalent.
func goType(t *types.Resolved) string {
	if t == nil {
		return "struct{}"
	}
	switch t.Kind {
	case types.KindPath:
		name := strings.Join(t.BasePath, ".")
		if len(t.Generics) == 0 {
			return name
		}
		parts := make([]string, 0, len(t.Generics))
		for _, g := range t.Generics {
			switch {
			case g.IsLifetime():
				continue
			case g.IsParam():
				parts = append(parts, g.Param)
			default:
				parts = append(parts, goType(g.Type))
			}
		}
		if len(parts) == 0 {
			return name
		}
		return fmt.Sprintf("%s[%s]", name, strings.Join(parts, ", "))
	case types.KindReference:
		return "*" + goType(t.Inner)
	case types.KindSlice:
		return "[]" + goType(t.Inner)
	case types.KindTuple:
		parts := make([]string, len(t.Elements))
		for i, e := range t.Elements {
			parts[i] = goType(e)
		}
		return fmt.Sprintf("struct{ %s }", strings.Join(parts, "; "))
	case types.KindScalar:
		return scalarGoType(t.Scalar)
	default:
		return "any"
	}
}

func scalarGoType(scalar string) string {
	switch scalar {
	case "str", "String":
		return "string"
	case "bool":
		return "bool"
	case "u8":
		return "uint8"
	case "u16":
		return "uint16"
	case "u32":
		return "uint32"
	case "u64", "usize":
		return "uint64"
	case "i8":
		return "int8"
	case "i16":
		return "int16"
	case "i32":
		return "int32"
	case "i64", "isize":
		return "int64"
	case "f32":
		return "float32"
	case "f64":
		return "float64"
	default:
		return scalar
	}
}

// GenerateFunction emits one free function from an ordered call graph: its
// parameters are the graph's input nodes (in a stable order by type, per
// §4.9), and its body invokes every reachable constructor in dependency
// order before returning the root node's value.
func GenerateFunction(spec FunctionSpec) Function {
	g, order, components := spec.Graph, spec.Order, spec.Components

	names := newNameGen()
	bound := map[int]string{}

	var inputIdxs []int
	for _, idx := range order.Nodes() {
		if g.Nodes[idx].Kind == callgraph.NodeInputParameter {
			inputIdxs = append(inputIdxs, idx)
		}
	}
	sort.SliceStable(inputIdxs, func(i, j int) bool {
		return g.Nodes[inputIdxs[i]].Type.String() < g.Nodes[inputIdxs[j]].Type.String()
	})

	var params []string
	for _, idx := range inputIdxs {
		n := g.Nodes[idx]
		name := names.next(n.Type)
		bound[idx] = name
		params = append(params, fmt.Sprintf("%s %s", name, goType(n.Type)))
	}

	var body strings.Builder
	for _, idx := range order.Nodes() {
		n := g.Nodes[idx]
		if n.Kind != callgraph.NodeCompute || n.Allowed == callgraph.InvokeMany {
			continue
		}
		emitBinding(&body, g, components, names, bound, idx)
	}

	root := g.Nodes[g.RootIdx]
	returnType := goType(root.Type)
	fmt.Fprintf(&body, "\treturn %s\n", exprFor(g, components, names, bound, g.RootIdx))

	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(%s) %s {\n", spec.Name, strings.Join(params, ", "), returnType)
	sb.WriteString(body.String())
	sb.WriteString("}\n")

	return Function{Name: spec.Name, Source: sb.String()}
}

// emitBinding writes the statement(s) that produce idx's value and records
// its variable name in bound. A fallible component's binding is followed by
// an early-return guard; a borrow/clone transformer's binding is a plain
// reference/copy expression rather than a constructor call.
func emitBinding(w *strings.Builder, g *callgraph.Graph, components *component.DB, names *nameGen, bound map[int]string, idx int) {
	n := g.Nodes[idx]
	c, _ := components.HydratedComponent(n.ComponentID)
	name := names.next(n.Type)

	callExpr := callExprFor(g, components, names, bound, idx, c)

	if c != nil && c.Fallible() {
		fmt.Fprintf(w, "\t%s, err := %s\n", name, callExpr)
		w.WriteString("\tif err != nil {\n")
		if handlerID, ok := components.ErrorHandlerID(n.ComponentID); ok {
			fmt.Fprintf(w, "\t\treturn %s\n", errorHandlerCall(g, components, names, bound, handlerID, "err", c.Signature.ErrType()))
		} else {
			w.WriteString("\t\tvar zero " + goType(root(g).Type) + "\n")
			w.WriteString("\t\treturn zero\n")
		}
		w.WriteString("\t}\n")
		bound[idx] = name
		return
	}

	fmt.Fprintf(w, "\t%s := %s\n", name, callExpr)
	bound[idx] = name
}

func root(g *callgraph.Graph) callgraph.Node { return g.Nodes[g.RootIdx] }

// errorHandlerCall builds a call expression for a fallible node's error
// handler, substituting errVar for whichever input matches the handler's
// error type (every other input is resolved the ordinary way, from already
// bound call graph nodes).
func errorHandlerCall(g *callgraph.Graph, components *component.DB, names *nameGen, bound map[int]string, handlerID component.ID, errVar string, errType *types.Resolved) string {
	c, ok := components.HydratedComponent(handlerID)
	if !ok || c.Signature == nil {
		return fmt.Sprintf("%s(%s)", handlerFuncName(handlerID), errVar)
	}
	want := types.EraseLifetimes(errType)
	args := make([]string, len(c.Signature.Inputs))
	usedErr := false
	for i, in := range c.Signature.Inputs {
		if !usedErr && in.Type != nil && want != nil {
			if types.Equal(types.EraseLifetimes(in.Type), want) {
				args[i] = errVar
				usedErr = true
				continue
			}
			if in.Type.Kind == types.KindReference && types.Equal(types.EraseLifetimes(in.Type.Inner), want) {
				args[i] = "&" + errVar
				usedErr = true
				continue
			}
		}
		args[i] = resolveBoundArg(g, bound, in.Type)
	}
	return fmt.Sprintf("%s(%s)", handlerFuncName(handlerID), strings.Join(args, ", "))
}

func handlerFuncName(id component.ID) string {
	return fmt.Sprintf("handler%d", int(id))
}

// resolveBoundArg finds an already-bound node whose type matches want,
// falling back to a placeholder when nothing bound satisfies it (this only
// happens for implicit framework-provided inputs initialized by the Router,
// §4.9, which aren't modelled as call graph nodes here).
func resolveBoundArg(g *callgraph.Graph, bound map[int]string, want *types.Resolved) string {
	keys := make([]int, 0, len(bound))
	for idx := range bound {
		keys = append(keys, idx)
	}
	sort.Ints(keys)
	for _, idx := range keys {
		if types.Equal(g.Nodes[idx].Type, want) {
			return bound[idx]
		}
	}
	return "nil"
}

// callExprFor builds the expression that invokes idx's component, resolving
// each declared input to the dependency that satisfies it by type (the call
// graph doesn't carry argument names, only typed edges, so candidates are
// matched to Signature.Inputs in declaration order and each dependency is
// consumed at most once).
func callExprFor(g *callgraph.Graph, components *component.DB, names *nameGen, bound map[int]string, idx int, c *component.Component) string {
	n := g.Nodes[idx]
	if c == nil {
		return fmt.Sprintf("/* unresolved component %d */", n.ComponentID)
	}

	switch c.Kind {
	case cKindBorrowTransformer:
		return "&" + exprFor(g, components, names, bound, owningDependency(g, idx))
	case cKindCloneTransformer:
		return exprFor(g, components, names, bound, owningDependency(g, idx))
	}

	deps := append([]int(nil), g.Dependencies(idx)...)
	consumed := map[int]bool{}

	var args []string
	if c.Signature != nil {
		for _, in := range c.Signature.Inputs {
			matched := -1
			for _, d := range deps {
				if consumed[d] {
					continue
				}
				if types.Equal(types.EraseLifetimes(g.Nodes[d].Type), types.EraseLifetimes(in.Type)) {
					matched = d
					break
				}
			}
			if matched < 0 {
				args = append(args, "nil /* "+in.Name+" */")
				continue
			}
			consumed[matched] = true
			expr := exprFor(g, components, names, bound, matched)
			if in.BorrowsFrom && g.Nodes[matched].Type != nil && g.Nodes[matched].Type.Kind != types.KindReference {
				expr = "&" + expr
			}
			args = append(args, expr)
		}
	}

	funcName := callableName(c)
	return fmt.Sprintf("%s(%s)", funcName, strings.Join(args, ", "))
}

// owningDependency returns the single call graph dependency a borrow/clone
// transformer node wraps.
func owningDependency(g *callgraph.Graph, idx int) int {
	deps := g.Dependencies(idx)
	if len(deps) == 0 {
		return idx
	}
	return deps[0]
}

func callableName(c *component.Component) string {
	if c.Signature == nil {
		return handlerFuncName(c.ID)
	}
	parts := strings.Split(c.Signature.ImportPath, "::")
	return strings.Join(parts, ".")
}

// exprFor returns the expression that yields idx's value: the bound
// variable name for a shared (invocation-multiplicity = one) node, or a
// freshly inlined call for a multiplicity = many node, per §4.9.
func exprFor(g *callgraph.Graph, components *component.DB, names *nameGen, bound map[int]string, idx int) string {
	if name, ok := bound[idx]; ok {
		return name
	}
	n := g.Nodes[idx]
	if n.Kind != callgraph.NodeCompute {
		return "nil"
	}
	c, _ := components.HydratedComponent(n.ComponentID)
	return callExprFor(g, components, names, bound, idx, c)
}

// cKindBorrowTransformer/cKindCloneTransformer mirror component.Kind's
// synthetic transformer kinds, aliased locally so this file reads without a
// component. prefix on every switch arm.
const (
	cKindBorrowTransformer = component.KindBorrowTransformer
	cKindCloneTransformer  = component.KindCloneTransformer
)
