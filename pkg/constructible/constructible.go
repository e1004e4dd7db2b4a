// Package constructible implements C3: a per-scope type->constructor index,
// with structural-unification specialization for templated (generic)
// constructors (§4.3).
package constructible

import (
	"fmt"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
	"github.com/pavex-go/pavexc/pkg/types"
)

type templateEntry struct {
	pattern *types.Resolved
	id      component.ID
}

// DB is the constructible index.
type DB struct {
	scopes     *scopegraph.Graph
	components *component.DB
	sink       *diagnostics.Sink

	index     map[scopegraph.ID]map[string]component.ID
	templated map[scopegraph.ID][]templateEntry

	// singletonScope records the declared scope of every registered singleton
	// constructor (specialized ones included), so later requests from a
	// different scope can check the §4.3 "common ancestor" invariant.
	singletonScope map[component.ID]scopegraph.ID
}

func New(sink *diagnostics.Sink, scopes *scopegraph.Graph, components *component.DB) *DB {
	return &DB{
		scopes: scopes, components: components, sink: sink,
		index: map[scopegraph.ID]map[string]component.ID{}, templated: map[scopegraph.ID][]templateEntry{},
		singletonScope: map[component.ID]scopegraph.ID{},
	}
}

// Register indexes a constructor in its declared scope.
func (db *DB) Register(id component.ID) {
	c, ok := db.components.HydratedComponent(id)
	if !ok || c.OutputType == nil {
		return
	}
	scope := c.Scope
	if db.index[scope] == nil {
		db.index[scope] = map[string]component.ID{}
	}
	db.index[scope][typeKey(c.OutputType)] = id
	if types.Specializable(c.OutputType) {
		db.templated[scope] = append(db.templated[scope], templateEntry{pattern: c.OutputType, id: id})
	}
	if c.Lifecycle == component.Singleton {
		db.singletonScope[id] = scope
	}
}

func typeKey(t *types.Resolved) string {
	return types.EraseLifetimes(t).String()
}

// Get returns the nearest constructor for t, searching scope and walking to
// the root (§4.3), falling back to specialization on a miss.
func (db *DB) Get(scope scopegraph.ID, t *types.Resolved) (component.ID, scopegraph.ID, bool) {
	key := typeKey(t)
	cur := scope
	for {
		if m, ok := db.index[cur]; ok {
			if id, ok := m[key]; ok {
				if !db.checkSingletonVisibility(id, scope, cur) {
					return component.NoID, 0, false
				}
				return id, cur, true
			}
		}
		if cur == scopegraph.Root {
			break
		}
		cur = db.scopes.Parent(cur)
	}
	return db.specialize(scope, t)
}

func (db *DB) checkSingletonVisibility(id component.ID, requester, defining scopegraph.ID) bool {
	first, tracked := db.singletonScope[id]
	if !tracked {
		return true
	}
	nca := db.scopes.NearestCommonAncestor(first, requester)
	if nca != defining && !db.scopes.IsAncestor(defining, nca) {
		db.sink.Errorf("structural", "singleton constructor %d is visible from incompatible sibling scopes (defined in scope %v, requested from %v)",
			id, defining, requester)
		return false
	}
	return true
}

// specialize walks the scope chain's templated entries, attempting structural
// unification against t; on a bind it synthesizes and registers a concrete
// constructor.
func (db *DB) specialize(scope scopegraph.ID, t *types.Resolved) (component.ID, scopegraph.ID, bool) {
	cur := scope
	for {
		for _, entry := range db.templated[cur] {
			bindings := map[string]*types.Resolved{}
			if unify(entry.pattern, t, bindings) {
				concreteID, ok := db.components.Specialize(entry.id, bindings)
				if !ok {
					continue
				}
				db.Register(concreteID)
				if tmpl, ok := db.components.HydratedComponent(entry.id); ok && tmpl.Lifecycle == component.Singleton {
					if !db.checkSingletonVisibility(concreteID, scope, cur) {
						return component.NoID, 0, false
					}
				}
				return concreteID, cur, true
			}
		}
		if cur == scopegraph.Root {
			break
		}
		cur = db.scopes.Parent(cur)
	}
	return component.NoID, 0, false
}

// unify attempts structural unification of pattern (possibly containing
// unassigned parameters) against concrete, recording bindings. Lifetimes are
// ignored (§4.3).
func unify(pattern, concrete *types.Resolved, bindings map[string]*types.Resolved) bool {
	if pattern == nil || concrete == nil {
		return pattern == concrete
	}

	if pattern.Kind != concrete.Kind {
		return false
	}
	switch pattern.Kind {
	case types.KindPath:
		if pattern.PackageID != concrete.PackageID || len(pattern.BasePath) != len(concrete.BasePath) {
			return false
		}
		for i := range pattern.BasePath {
			if pattern.BasePath[i] != concrete.BasePath[i] {
				return false
			}
		}
		if len(pattern.Generics) != len(concrete.Generics) {
			return false
		}
		for i := range pattern.Generics {
			pg, cg := pattern.Generics[i], concrete.Generics[i]
			if pg.IsLifetime() || cg.IsLifetime() {
				continue
			}
			if pg.IsParam() {
				if !bindParam(pg.Param, cg.Type, bindings) {
					return false
				}
				continue
			}
			if cg.IsParam() {
				return false
			}
			if !unify(pg.Type, cg.Type, bindings) {
				return false
			}
		}
		return true
	case types.KindReference:
		return pattern.Mutable == concrete.Mutable && unify(pattern.Inner, concrete.Inner, bindings)
	case types.KindTuple:
		if len(pattern.Elements) != len(concrete.Elements) {
			return false
		}
		for i := range pattern.Elements {
			if !unify(pattern.Elements[i], concrete.Elements[i], bindings) {
				return false
			}
		}
		return true
	case types.KindSlice:
		return unify(pattern.Inner, concrete.Inner, bindings)
	case types.KindScalar:
		return pattern.Scalar == concrete.Scalar
	default:
		return false
	}
}

func bindParam(name string, concrete *types.Resolved, bindings map[string]*types.Resolved) bool {
	if concrete == nil {
		return false
	}
	if existing, ok := bindings[name]; ok {
		return types.Equal(existing, concrete)
	}
	bindings[name] = concrete
	return true
}

func (db *DB) String() string {
	return fmt.Sprintf("constructible.DB{scopes=%d}", len(db.index))
}
