package component_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/resolver"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
)

type fakeSource struct{ crates map[string]*doccache.Crate }

func (f *fakeSource) Lookup(key doccache.CacheKey) (*doccache.Crate, error) {
	name := key.ToolchainName
	if key.Kind == doccache.ThirdPartyKind {
		name = key.PackageID
	}
	return f.crates[name], nil
}

func newDB(t *testing.T) (*component.DB, *diagnostics.Sink) {
	appCrate := &doccache.Crate{
		Name: "app",
		Items: map[string]doccache.Item{
			"state::AppState": {Path: []string{"state", "AppState"}, Kind: doccache.ItemStruct, Public: true, Capabilities: []string{"Send", "Sync"}},
			"state::build": {
				Path: []string{"state", "build"}, Kind: doccache.ItemFunction, Public: true,
				OutputExpr: "Result<AppState, BuildError>",
			},
			"state::BuildError": {Path: []string{"state", "BuildError"}, Kind: doccache.ItemStruct, Public: true},
			"handlers::get_user": {
				Path: []string{"handlers", "get_user"}, Kind: doccache.ItemFunction, Public: true,
				Inputs: []doccache.FunctionInput{{Name: "state", TypeExpr: "&AppState"}},
			},
		},
	}
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	sink := diagnostics.NewSink(nil)
	r := resolver.New(ws, src, sink)
	scopes := scopegraph.New()
	db := component.New(sink, scopes, r)
	return db, sink
}

func TestInternDedup(t *testing.T) {
	db, sink := newDB(t)
	u := component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::build", Lifecycle: component.RequestScoped, Scope: scopegraph.Root}
	id1, ok1 := db.Intern(u)
	id2, ok2 := db.Intern(u)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, id1, id2)
	assert.False(t, sink.HasErrors())
}

func TestFallibleSynthesizesMatchTransformers(t *testing.T) {
	db, sink := newDB(t)
	id, ok := db.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::build", Lifecycle: component.Singleton, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())

	c, found := db.HydratedComponent(id)
	require.True(t, found)
	assert.True(t, c.Fallible())

	// The synthetic transformers were interned right after; find them by scanning All().
	var sawOk, sawErr bool
	for _, comp := range db.All() {
		if comp.Kind == component.KindMatchOk && comp.FallibleParent == id {
			sawOk = true
		}
		if comp.Kind == component.KindMatchErr && comp.FallibleParent == id {
			sawErr = true
		}
	}
	assert.True(t, sawOk)
	assert.True(t, sawErr)

	okID, errID, ok := db.MatchTransformerIDs(id)
	require.True(t, ok)
	okComp, found := db.HydratedComponent(okID)
	require.True(t, found)
	assert.Equal(t, component.KindMatchOk, okComp.Kind)
	errComp, found := db.HydratedComponent(errID)
	require.True(t, found)
	assert.Equal(t, component.KindMatchErr, errComp.Kind)
}

func TestFallibleWithoutHandlerIsDiagnosed(t *testing.T) {
	db, sink := newDB(t)
	_, ok := db.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::build", Lifecycle: component.Singleton, Scope: scopegraph.Root})
	require.True(t, ok)

	db.CheckFallibleHasHandler()
	assert.True(t, sink.HasErrors())
}

func TestCheckSingletonCapabilitiesDiagnosesMissingSendSync(t *testing.T) {
	db, sink := newDB(t)
	_, ok := db.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::build", Lifecycle: component.Singleton, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())

	// state::build's Ok type resolves to a bare "AppState" path that the doc
	// cache never documents any capabilities for, so it must be flagged.
	db.CheckSingletonCapabilities()
	assert.True(t, sink.HasErrors())
}

func TestBorrowTransformerSynthesis(t *testing.T) {
	db, _ := newDB(t)
	ownerID, ok := db.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::handlers::get_user", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)

	borrowID := db.SynthesizeBorrowTransformer(ownerID)
	borrowID2 := db.SynthesizeBorrowTransformer(ownerID)
	assert.Equal(t, borrowID, borrowID2, "synthesizing twice for the same owner must dedup")

	c, found := db.HydratedComponent(borrowID)
	require.True(t, found)
	assert.Equal(t, component.KindBorrowTransformer, c.Kind)
	assert.Equal(t, ownerID, db.OwnedID(borrowID))
}
