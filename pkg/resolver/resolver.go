// Package resolver implements C1: turning a textual, unambiguous path plus a
// kind tag into a resolved type or callable signature, consulting a
// CrateCollection lazily and memoized (§4.1).
package resolver

import (
	"fmt"
	"strings"

	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/signature"
	"github.com/pavex-go/pavexc/pkg/types"
)

// CrateSource is the blocking lookup the resolver needs; doccache.Collection
// satisfies it.
type CrateSource interface {
	Lookup(key doccache.CacheKey) (*doccache.Crate, error)
}

// Workspace maps a path's leading segment to the crate that defines it: the
// current crate itself (via "crate"/"self"/"super") or a direct dependency
// (§4.1(a)). It is supplied by the Blueprint's external build-tool
// collaborator (out of scope, §1) and consumed here as plain data.
type Workspace struct {
	CurrentCrate string
	Dependencies map[string]doccache.CacheKey // dependency name -> cache key
}

// Kind is the resolution target: a bare type, or a callable (function/method/
// struct-literal constructor).
type Kind int

const (
	KindType Kind = iota
	KindCallable
)

type Resolver struct {
	ws     Workspace
	crates CrateSource
	sink   *diagnostics.Sink
}

func New(ws Workspace, crates CrateSource, sink *diagnostics.Sink) *Resolver {
	return &Resolver{ws: ws, crates: crates, sink: sink}
}

// parsedPath is a textual path split into its crate-relative segment chain
// and optional generic argument list, e.g. "crate::cache::Store<u8, 'a>".
type parsedPath struct {
	segments []string
	generics []string // raw textual generic arguments, in order
}

func parsePath(path string) (parsedPath, error) {
	raw := path
	generics := []string(nil)
	if i := strings.IndexByte(path, '<'); i >= 0 {
		if !strings.HasSuffix(path, ">") {
			return parsedPath{}, fmt.Errorf("malformed generic argument list in %q", raw)
		}
		inner := path[i+1 : len(path)-1]
		path = path[:i]
		if strings.TrimSpace(inner) != "" {
			for _, g := range splitTopLevel(inner) {
				generics = append(generics, strings.TrimSpace(g))
			}
		}
	}
	segments := strings.Split(path, "::")
	for _, s := range segments {
		if s == "" {
			return parsedPath{}, fmt.Errorf("empty path segment in %q", raw)
		}
	}
	return parsedPath{segments: segments, generics: generics}, nil
}

// splitTopLevel splits a comma list without breaking inside nested <...>.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// ResolveType resolves path as a bare type.
func (r *Resolver) ResolveType(path string) (*types.Resolved, bool) {
	item, crateName, pp, ok := r.resolveToItem(path)
	if !ok {
		return nil, false
	}
	switch item.Kind {
	case doccache.ItemStruct, doccache.ItemEnum, doccache.ItemTrait:
		return r.buildPathType(crateName, item, pp)
	default:
		r.sink.Errorf("resolution", "path %q resolves to an unsupported item kind %q for a type reference", path, item.Kind)
		return nil, false
	}
}

// Capabilities returns the trait capabilities documented for t's defining
// item (e.g. "Send", "Sync", "Clone"), consulted by the singleton-safety
// check and the borrow checker's clone repair (§3, §4.6, §7 kind 6). Only
// KindPath types are documented this way; anything else reports not found.
func (r *Resolver) Capabilities(t *types.Resolved) ([]string, bool) {
	if t == nil || t.Kind != types.KindPath {
		return nil, false
	}
	var key doccache.CacheKey
	if t.PackageID == r.ws.CurrentCrate {
		key = doccache.ToolchainCrate(r.ws.CurrentCrate)
	} else {
		depKey, ok := r.ws.Dependencies[t.PackageID]
		if !ok {
			return nil, false
		}
		key = depKey
	}
	crate, err := r.crates.Lookup(key)
	if err != nil {
		return nil, false
	}
	item, ok := crate.Lookup(t.BasePath)
	if !ok {
		return nil, false
	}
	return item.Capabilities, true
}

// ResolveCallable resolves path as a callable (free function, method, or
// struct-literal constructor).
func (r *Resolver) ResolveCallable(path string) (*signature.Signature, bool) {
	item, crateName, pp, ok := r.resolveToItem(path)
	if !ok {
		return nil, false
	}
	style := signature.FreeFunction
	switch item.Kind {
	case doccache.ItemFunction:
		style = signature.FreeFunction
	case doccache.ItemStruct:
		style = signature.StructLiteralConstructor
	default:
		r.sink.Errorf("resolution", "path %q resolves to an unsupported item kind %q for a callable reference", path, item.Kind)
		return nil, false
	}

	if len(pp.generics) > 0 && len(pp.generics) != len(item.Generics) {
		r.sink.Errorf("resolution", "generic arity mismatch for %q: expected %d, found %d", path, len(item.Generics), len(pp.generics))
		return nil, false
	}

	sig := &signature.Signature{
		ImportPath: strings.Join(append([]string{crateName}, pp.segments...), "::"),
		Style:      style,
		Async:      item.Async,
	}

	for _, in := range item.Inputs {
		t, err := r.resolveTextualType(crateName, in.TypeExpr)
		if err != nil {
			r.sink.Errorf("resolution", "cannot resolve input %q of %q: %v", in.Name, path, err)
			return nil, false
		}
		sig.Inputs = append(sig.Inputs, signature.Input{
			Name:        in.Name,
			Type:        t,
			BorrowsFrom: strings.HasPrefix(in.TypeExpr, "&") && !strings.HasPrefix(in.TypeExpr, "&mut"),
		})
	}

	if item.OutputExpr != "" {
		out, err := r.resolveTextualType(crateName, item.OutputExpr)
		if err != nil {
			r.sink.Errorf("resolution", "cannot resolve output of %q: %v", path, err)
			return nil, false
		}
		if ok, okT, errT := splitResult(item.OutputExpr); ok {
			okType, err1 := r.resolveTextualType(crateName, okT)
			errType, err2 := r.resolveTextualType(crateName, errT)
			if err1 == nil && err2 == nil {
				sig.MarkFallible(okType, errType)
			} else {
				sig.Output = out
			}
		} else {
			sig.Output = out
		}
	}

	return sig, true
}

// splitResult detects a textual "Result<T, E>" output shape.
func splitResult(expr string) (isResult bool, ok, err string) {
	if !strings.HasPrefix(expr, "Result<") || !strings.HasSuffix(expr, ">") {
		return false, "", ""
	}
	inner := expr[len("Result<") : len(expr)-1]
	parts := splitTopLevel(inner)
	if len(parts) != 2 {
		return false, "", ""
	}
	return true, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// resolveToItem walks (a) the defining package, (b) the path to the terminal
// item, (c) alias/re-export following, per §4.1.
func (r *Resolver) resolveToItem(path string) (doccache.Item, string, parsedPath, bool) {
	pp, err := parsePath(path)
	if err != nil {
		r.sink.Errorf("resolution", "%v", err)
		return doccache.Item{}, "", pp, false
	}

	head := pp.segments[0]
	var key doccache.CacheKey
	var crateName string
	switch head {
	case "crate", "self", "super":
		crateName = r.ws.CurrentCrate
		key = doccache.ToolchainCrate(r.ws.CurrentCrate) // a workspace crate is modeled as its own toolchain-style key
	default:
		depKey, ok := r.ws.Dependencies[head]
		if !ok {
			r.sink.Errorf("resolution", "relative path %q does not begin with crate, self, super, or a direct dependency name", path)
			return doccache.Item{}, "", pp, false
		}
		crateName = head
		key = depKey
	}

	crate, err := r.crates.Lookup(key)
	if err != nil {
		r.sink.Errorf("resolution", "missing crate documentation for %q: %v", crateName, err)
		return doccache.Item{}, "", pp, false
	}

	rest := pp.segments[1:]
	if len(rest) == 0 {
		r.sink.Errorf("resolution", "path %q resolves to a crate root, not an item", path)
		return doccache.Item{}, "", pp, false
	}

	item, ok := crate.Lookup(rest)
	if !ok {
		r.sink.Errorf("resolution", "unknown path %q: no item named %q in crate %q", path, strings.Join(rest, "::"), crateName)
		return doccache.Item{}, "", pp, false
	}

	// Follow alias/re-export chains to their canonical definition (§4.1(c)).
	seen := map[string]bool{}
	for item.Kind == doccache.ItemTypeAlias || item.Kind == doccache.ItemReExport {
		key := strings.Join(item.AliasTarget, "::")
		if seen[key] {
			r.sink.Errorf("resolution", "alias cycle resolving %q", path)
			return doccache.Item{}, "", pp, false
		}
		seen[key] = true
		next, ok := crate.Lookup(item.AliasTarget)
		if !ok {
			r.sink.Errorf("resolution", "dangling alias target %q while resolving %q", key, path)
			return doccache.Item{}, "", pp, false
		}
		item = next
	}

	if item.Kind == doccache.ItemEnumVariant || item.Kind == doccache.ItemMacro {
		r.sink.Errorf("resolution", "path %q resolves to an unsupported item kind %q", path, item.Kind)
		return doccache.Item{}, "", pp, false
	}

	if !item.Public {
		r.sink.Errorf("resolution", "path %q resolves to a non-public item", path)
		return doccache.Item{}, "", pp, false
	}

	return item, crateName, pp, true
}

func (r *Resolver) buildPathType(crateName string, item doccache.Item, pp parsedPath) (*types.Resolved, bool) {
	if len(pp.generics) > 0 && len(pp.generics) != len(item.Generics) {
		r.sink.Errorf("resolution", "generic arity mismatch for %q: expected %d, found %d",
			strings.Join(pp.segments, "::"), len(item.Generics), len(pp.generics))
		return nil, false
	}

	var args []types.GenericArg
	if len(pp.generics) > 0 {
		for _, g := range pp.generics {
			if strings.HasPrefix(g, "'") {
				args = append(args, types.GenericArg{Lifetime: g})
				continue
			}
			t, err := r.resolveTextualType(crateName, g)
			if err != nil {
				r.sink.Errorf("resolution", "cannot resolve generic argument %q: %v", g, err)
				return nil, false
			}
			args = append(args, types.GenericArg{Type: t})
		}
	} else {
		for _, p := range item.Generics {
			args = append(args, types.GenericArg{Param: p})
		}
	}

	return types.Path(crateName, item.Path, args...), true
}

// resolveTextualType resolves a syntactic Rust type expression as recorded in
// doc-cache Items (e.g. "&'a str", "Vec<u8>", "(A, B)") into a Resolved type.
// This is a small, self-contained grammar — not the full path resolver —
// since doc-cache type expressions never contain unresolved relative paths
// beyond what the originating crate's `use` statements already flattened.
func (r *Resolver) resolveTextualType(crateName, expr string) (*types.Resolved, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "&mut "):
		inner, err := r.resolveTextualType(crateName, expr[len("&mut "):])
		if err != nil {
			return nil, err
		}
		return types.Reference(inner, true, false), nil
	case strings.HasPrefix(expr, "&"):
		rest := strings.TrimPrefix(expr, "&")
		isStatic := false
		if strings.HasPrefix(rest, "'static ") {
			isStatic = true
			rest = strings.TrimPrefix(rest, "'static ")
		} else if i := strings.IndexByte(rest, ' '); i >= 0 && strings.HasPrefix(rest, "'") {
			rest = rest[i+1:]
		}
		inner, err := r.resolveTextualType(crateName, rest)
		if err != nil {
			return nil, err
		}
		return types.Reference(inner, false, isStatic), nil
	case strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")"):
		inner := expr[1 : len(expr)-1]
		if strings.TrimSpace(inner) == "" {
			return types.Tuple(), nil
		}
		var elems []*types.Resolved
		for _, part := range splitTopLevel(inner) {
			t, err := r.resolveTextualType(crateName, part)
			if err != nil {
				return nil, err
			}
			elems = append(elems, t)
		}
		return types.Tuple(elems...), nil
	case strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]"):
		t, err := r.resolveTextualType(crateName, expr[1:len(expr)-1])
		if err != nil {
			return nil, err
		}
		return types.Slice(t), nil
	case isScalar(expr):
		return types.Scalar(expr), nil
	default:
		pp, err := parsePath(expr)
		if err != nil {
			return nil, err
		}
		var args []types.GenericArg
		for _, g := range pp.generics {
			if strings.HasPrefix(g, "'") {
				args = append(args, types.GenericArg{Lifetime: g})
				continue
			}
			t, err := r.resolveTextualType(crateName, g)
			if err != nil {
				return nil, err
			}
			args = append(args, types.GenericArg{Type: t})
		}
		return types.Path(crateName, pp.segments, args...), nil
	}
}

var scalars = map[string]bool{
	"bool": true, "char": true, "str": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true, "usize": true,
	"i8": true, "i16": true, "i32": true, "i64": true, "i128": true, "isize": true,
	"f32": true, "f64": true,
}

func isScalar(expr string) bool { return scalars[expr] }
