// Package types models the resolved-type sum described in the Blueprint's data
// model: named path types, references, tuples, slices and scalars.
package types

import (
	"fmt"
	"strings"
)

// Kind tags which variant of the Resolved sum a value holds.
type Kind int

const (
	KindPath Kind = iota
	KindReference
	KindTuple
	KindSlice
	KindScalar
)

// GenericArg is one element of a path type's generic argument list. Exactly one
// of Type, Param or Lifetime is set, matching the "assigned / unassigned / lifetime"
// three-way split from the data model.
type GenericArg struct {
	Type     *Resolved
	Param    string // unassigned type parameter name, e.g. "T"
	Lifetime string // e.g. "'a"; empty when this arg is not a lifetime
}

func (g GenericArg) IsParam() bool    { return g.Param != "" }
func (g GenericArg) IsLifetime() bool { return g.Lifetime != "" }

// Resolved is a structurally-equal sum type over the five type shapes the
// compiler needs to reason about.
type Resolved struct {
	Kind Kind

	// KindPath
	PackageID string
	BasePath  []string
	Generics  []GenericArg

	// KindReference
	Inner    *Resolved
	Mutable  bool
	IsStatic bool

	// KindTuple
	Elements []*Resolved

	// KindSlice reuses Inner

	// KindScalar
	Scalar string // e.g. "u8", "bool", "str"
}

func Path(pkg string, base []string, generics ...GenericArg) *Resolved {
	return &Resolved{Kind: KindPath, PackageID: pkg, BasePath: append([]string(nil), base...), Generics: generics}
}

func Reference(inner *Resolved, mutable, isStatic bool) *Resolved {
	return &Resolved{Kind: KindReference, Inner: inner, Mutable: mutable, IsStatic: isStatic}
}

func Tuple(elems ...*Resolved) *Resolved {
	return &Resolved{Kind: KindTuple, Elements: elems}
}

func Slice(inner *Resolved) *Resolved {
	return &Resolved{Kind: KindSlice, Inner: inner}
}

func Scalar(name string) *Resolved {
	return &Resolved{Kind: KindScalar, Scalar: name}
}

// Equal reports structural equality, per the data model's "Equality is structural".
func Equal(a, b *Resolved) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindPath:
		if a.PackageID != b.PackageID || len(a.BasePath) != len(b.BasePath) || len(a.Generics) != len(b.Generics) {
			return false
		}
		for i := range a.BasePath {
			if a.BasePath[i] != b.BasePath[i] {
				return false
			}
		}
		for i := range a.Generics {
			ga, gb := a.Generics[i], b.Generics[i]
			if ga.IsLifetime() || gb.IsLifetime() {
				continue // lifetimes never affect structural equality of the base type
			}
			if ga.IsParam() != gb.IsParam() {
				return false
			}
			if ga.IsParam() {
				if ga.Param != gb.Param {
					return false
				}
				continue
			}
			if !Equal(ga.Type, gb.Type) {
				return false
			}
		}
		return true
	case KindReference:
		return a.Mutable == b.Mutable && a.IsStatic == b.IsStatic && Equal(a.Inner, b.Inner)
	case KindTuple:
		if len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if !Equal(a.Elements[i], b.Elements[i]) {
				return false
			}
		}
		return true
	case KindSlice:
		return Equal(a.Inner, b.Inner)
	case KindScalar:
		return a.Scalar == b.Scalar
	default:
		return false
	}
}

// EraseLifetimes returns a copy of r with every lifetime generic argument and
// reference "static-or-not" flag reset, as required when caching a type across
// scopes where the concrete lifetime no longer applies.
func EraseLifetimes(r *Resolved) *Resolved {
	if r == nil {
		return nil
	}
	cp := *r
	switch r.Kind {
	case KindPath:
		cp.Generics = make([]GenericArg, 0, len(r.Generics))
		for _, g := range r.Generics {
			if g.IsLifetime() {
				continue
			}
			if g.Type != nil {
				g.Type = EraseLifetimes(g.Type)
			}
			cp.Generics = append(cp.Generics, g)
		}
	case KindReference:
		cp.IsStatic = false
		cp.Inner = EraseLifetimes(r.Inner)
	case KindTuple:
		cp.Elements = make([]*Resolved, len(r.Elements))
		for i, e := range r.Elements {
			cp.Elements[i] = EraseLifetimes(e)
		}
	case KindSlice:
		cp.Inner = EraseLifetimes(r.Inner)
	}
	return &cp
}

// RenameLifetimes returns a copy of r with every lifetime generic argument
// renamed via the supplied function, leaving all other structure untouched.
func RenameLifetimes(r *Resolved, rename func(string) string) *Resolved {
	if r == nil {
		return nil
	}
	cp := *r
	switch r.Kind {
	case KindPath:
		cp.Generics = make([]GenericArg, len(r.Generics))
		for i, g := range r.Generics {
			if g.IsLifetime() {
				g.Lifetime = rename(g.Lifetime)
			} else if g.Type != nil {
				g.Type = RenameLifetimes(g.Type, rename)
			}
			cp.Generics[i] = g
		}
	case KindReference:
		cp.Inner = RenameLifetimes(r.Inner, rename)
	case KindTuple:
		cp.Elements = make([]*Resolved, len(r.Elements))
		for i, e := range r.Elements {
			cp.Elements[i] = RenameLifetimes(e, rename)
		}
	case KindSlice:
		cp.Inner = RenameLifetimes(r.Inner, rename)
	}
	return &cp
}

// UnassignedParams enumerates the names of every unassigned generic type
// parameter reachable from r, in depth-first left-to-right order, deduplicated.
func UnassignedParams(r *Resolved) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(*Resolved)
	walk = func(r *Resolved) {
		if r == nil {
			return
		}
		switch r.Kind {
		case KindPath:
			for _, g := range r.Generics {
				if g.IsParam() {
					if !seen[g.Param] {
						seen[g.Param] = true
						out = append(out, g.Param)
					}
				} else if g.Type != nil {
					walk(g.Type)
				}
			}
		case KindReference, KindSlice:
			walk(r.Inner)
		case KindTuple:
			for _, e := range r.Elements {
				walk(e)
			}
		}
	}
	walk(r)
	return out
}

// Specializable reports whether r contains at least one unassigned type
// parameter, per the data model's definition.
func Specializable(r *Resolved) bool {
	return len(UnassignedParams(r)) > 0
}

// String renders a human-readable path, primarily for diagnostics.
func (r *Resolved) String() string {
	if r == nil {
		return "<nil>"
	}
	switch r.Kind {
	case KindPath:
		var sb strings.Builder
		sb.WriteString(strings.Join(r.BasePath, "::"))
		if len(r.Generics) > 0 {
			parts := make([]string, len(r.Generics))
			for i, g := range r.Generics {
				switch {
				case g.IsLifetime():
					parts[i] = g.Lifetime
				case g.IsParam():
					parts[i] = g.Param
				default:
					parts[i] = g.Type.String()
				}
			}
			sb.WriteString("<")
			sb.WriteString(strings.Join(parts, ", "))
			sb.WriteString(">")
		}
		return sb.String()
	case KindReference:
		mut := ""
		if r.Mutable {
			mut = "mut "
		}
		return fmt.Sprintf("&%s%s", mut, r.Inner.String())
	case KindTuple:
		parts := make([]string, len(r.Elements))
		for i, e := range r.Elements {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindSlice:
		return "[" + r.Inner.String() + "]"
	case KindScalar:
		return r.Scalar
	default:
		return "<?>"
	}
}
