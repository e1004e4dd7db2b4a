package component

import (
	"fmt"
	"sort"

	"github.com/pavex-go/pavexc/pkg/signature"
	"github.com/pavex-go/pavexc/pkg/types"
)

// substitute replaces every unassigned generic parameter in t with its bound
// type from bindings, recursing through references/tuples/slices.
func substitute(t *types.Resolved, bindings map[string]*types.Resolved) *types.Resolved {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case types.KindPath:
		generics := make([]types.GenericArg, len(t.Generics))
		for i, g := range t.Generics {
			if g.IsParam() {
				if bound, ok := bindings[g.Param]; ok {
					generics[i] = types.GenericArg{Type: bound}
					continue
				}
			}
			if g.Type != nil {
				g.Type = substitute(g.Type, bindings)
			}
			generics[i] = g
		}
		return types.Path(t.PackageID, t.BasePath, generics...)
	case types.KindReference:
		return types.Reference(substitute(t.Inner, bindings), t.Mutable, t.IsStatic)
	case types.KindTuple:
		elems := make([]*types.Resolved, len(t.Elements))
		for i, e := range t.Elements {
			elems[i] = substitute(e, bindings)
		}
		return types.Tuple(elems...)
	case types.KindSlice:
		return types.Slice(substitute(t.Inner, bindings))
	default:
		return t
	}
}

// Specialize synthesizes a concrete component from a templated constructor
// (templateID) by substituting bindings into its signature, and interns the
// result, per §4.3. The new component is a KindConstructor regardless of the
// template's own kind tagging, since only constructors are specializable
// outputs in the constructible index.
func (db *DB) Specialize(templateID ID, bindings map[string]*types.Resolved) (ID, bool) {
	tmpl := db.components[templateID]
	if tmpl == nil || tmpl.Signature == nil {
		return NoID, false
	}

	key := fmt.Sprintf("specialize|%d|%v", templateID, bindingKey(bindings))
	if id, ok := db.internKey[key]; ok {
		return id, true
	}

	sig := &signature.Signature{
		ImportPath: tmpl.Signature.ImportPath,
		Style:      tmpl.Signature.Style,
		Async:      tmpl.Signature.Async,
	}
	for _, in := range tmpl.Signature.Inputs {
		sig.Inputs = append(sig.Inputs, signature.Input{
			Name:        in.Name,
			Type:        substitute(in.Type, bindings),
			BorrowsFrom: in.BorrowsFrom,
			Captures:    in.Captures,
		})
	}
	if res, ok := tmpl.Signature.AsResult(); ok {
		sig.MarkFallible(substitute(res.OkType, bindings), substitute(res.ErrType, bindings))
	} else {
		sig.Output = substitute(tmpl.Signature.Output, bindings)
	}

	id := db.next
	db.next++
	c := &Component{
		ID: id, Kind: KindConstructor, Lifecycle: tmpl.Lifecycle, CloningStrategy: tmpl.CloningStrategy,
		Scope: tmpl.Scope, Site: tmpl.Site, Signature: sig, OutputType: sig.Output,
		ErrorHandlerID: NoID, FallibleParent: NoID, OwnedParent: NoID,
	}
	db.components[id] = c
	db.internKey[key] = id

	if c.Fallible() {
		db.synthesizeMatchTransformers(c)
	}

	return id, true
}

func bindingKey(b map[string]*types.Resolved) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + b[k].String() + ";"
	}
	return s
}
