package constructible_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/constructible"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/resolver"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
	"github.com/pavex-go/pavexc/pkg/types"
)

type fakeSource struct{ crates map[string]*doccache.Crate }

func (f *fakeSource) Lookup(key doccache.CacheKey) (*doccache.Crate, error) {
	name := key.ToolchainName
	if key.Kind == doccache.ThirdPartyKind {
		name = key.PackageID
	}
	return f.crates[name], nil
}

func newFixture(t *testing.T) (*component.DB, *constructible.DB, *scopegraph.Graph, *diagnostics.Sink) {
	appCrate := &doccache.Crate{
		Name: "app",
		Items: map[string]doccache.Item{
			"pool::Pool":      {Path: []string{"pool", "Pool"}, Kind: doccache.ItemStruct, Public: true},
			"state::AppState": {Path: []string{"state", "AppState"}, Kind: doccache.ItemStruct, Public: true},
			"state::build_state": {
				Path: []string{"state", "build_state"}, Kind: doccache.ItemFunction, Public: true,
				OutputExpr: "state::AppState",
			},
			"pool::new_pool": {
				Path: []string{"pool", "new_pool"}, Kind: doccache.ItemFunction, Public: true,
			},
		},
	}
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	sink := diagnostics.NewSink(nil)
	r := resolver.New(ws, src, sink)
	scopes := scopegraph.New()
	cdb := component.New(sink, scopes, r)
	idx := constructible.New(sink, scopes, cdb)
	return cdb, idx, scopes, sink
}

func TestGetFindsNearestAncestorScope(t *testing.T) {
	cdb, idx, scopes, sink := newFixture(t)
	child := scopes.NewChild(scopegraph.Root)

	id, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::build_state", Lifecycle: component.Singleton, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())
	idx.Register(id)

	c, _ := cdb.HydratedComponent(id)
	got, definingScope, found := idx.Get(child, c.OutputType)
	require.True(t, found)
	assert.Equal(t, id, got)
	assert.Equal(t, scopegraph.Root, definingScope)
}

func TestGetMissReturnsFalse(t *testing.T) {
	_, idx, scopes, _ := newFixture(t)
	missing := types.Path("app", []string{"nowhere", "Ghost"})
	_, _, found := idx.Get(scopes.NewChild(scopegraph.Root), missing)
	assert.False(t, found)
}

func TestSpecializeBindsGenericConstructor(t *testing.T) {
	cdb, idx, scopes, sink := newFixture(t)

	templateID, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::pool::new_pool", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())

	tmpl, _ := cdb.HydratedComponent(templateID)
	genericPool := types.Path("app", []string{"pool", "Pool"}, types.GenericArg{Param: "T"})
	tmpl.OutputType = genericPool
	tmpl.Signature.Output = genericPool
	idx.Register(templateID)

	requested := types.Path("app", []string{"pool", "Pool"}, types.GenericArg{Type: types.Scalar("u64")})
	concreteID, _, found := idx.Get(scopegraph.Root, requested)
	require.True(t, found)
	assert.NotEqual(t, templateID, concreteID)

	// Re-requesting the same concrete type is memoized to the same component.
	concreteID2, _, found2 := idx.Get(scopegraph.Root, requested)
	require.True(t, found2)
	assert.Equal(t, concreteID, concreteID2)
}
