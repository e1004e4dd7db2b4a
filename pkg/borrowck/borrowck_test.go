package borrowck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/borrowck"
	"github.com/pavex-go/pavexc/pkg/callgraph"
	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/constructible"
	"github.com/pavex-go/pavexc/pkg/depgraph"
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

// newFixture wires a state that's shared by reference (wrap_ref) and by
// value (consume_owned) from the same underlying request-scoped constructor,
// the canonical move-while-borrowed shape: both the reference and the move
// reach the same request handler.
func newFixture(t *testing.T, cloning component.CloningStrategy, appStateCapabilities []string) (*component.DB, *constructible.DB, *scopegraph.Graph, *diagnostics.Sink, component.ID) {
	appCrate := &doccache.Crate{
		Name: "app",
		Items: map[string]doccache.Item{
			"state::AppState":  {Path: []string{"state", "AppState"}, Kind: doccache.ItemStruct, Public: true, Capabilities: appStateCapabilities},
			"state::new_state": {Path: []string{"state", "new_state"}, Kind: doccache.ItemFunction, Public: true, OutputExpr: "state::AppState"},
			"state::Wrapper":   {Path: []string{"state", "Wrapper"}, Kind: doccache.ItemStruct, Public: true},
			"state::wrap_ref": {
				Path: []string{"state", "wrap_ref"}, Kind: doccache.ItemFunction, Public: true,
				Inputs:     []doccache.FunctionInput{{Name: "inner", TypeExpr: "&state::AppState"}},
				OutputExpr: "state::Wrapper",
			},
			"state::Owned": {Path: []string{"state", "Owned"}, Kind: doccache.ItemStruct, Public: true},
			"state::consume_owned": {
				Path: []string{"state", "consume_owned"}, Kind: doccache.ItemFunction, Public: true,
				Inputs:     []doccache.FunctionInput{{Name: "owned", TypeExpr: "state::AppState"}},
				OutputExpr: "state::Owned",
			},
			"state::handle": {
				Path: []string{"state", "handle"}, Kind: doccache.ItemFunction, Public: true,
				Inputs: []doccache.FunctionInput{
					{Name: "wrapper", TypeExpr: "state::Wrapper"},
					{Name: "owned", TypeExpr: "state::Owned"},
				},
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

	stateID, ok := cdb.Intern(component.UserComponent{
		Kind: component.KindConstructor, Path: "crate::state::new_state",
		Lifecycle: component.RequestScoped, CloningStrategy: cloning, Scope: scopegraph.Root,
	})
	require.True(t, ok)
	idx.Register(stateID)

	wrapID, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::wrap_ref", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	idx.Register(wrapID)

	ownedID, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::state::consume_owned", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	idx.Register(ownedID)

	handlerID, ok := cdb.Intern(component.UserComponent{Kind: component.KindRequestHandler, Path: "crate::state::handle", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())

	return cdb, idx, scopes, sink, handlerID
}

func defaultPolicy(l component.Lifecycle) bool { return l != component.Singleton }

func build(t *testing.T, cdb *component.DB, idx *constructible.DB, scopes *scopegraph.Graph, handlerID component.ID) *callgraph.Graph {
	dep := depgraph.Build(handlerID, nil, cdb, idx, scopes, defaultPolicy)
	require.True(t, depgraph.AssertAcyclic(dep, diagnostics.NewSink(nil)))
	return callgraph.Build(dep, cdb)
}

func TestCheckInsertsCloneWhenRepairable(t *testing.T) {
	cdb, idx, scopes, sink, handlerID := newFixture(t, component.CloneIfNecessary, []string{"Send", "Sync", "Clone"})
	cg := build(t, cdb, idx, scopes, handlerID)

	before := len(cg.Nodes)
	borrowck.Check(cg, cdb, sink)

	assert.False(t, sink.HasErrors(), "a CloneIfNecessary conflict must be repaired, not diagnosed")
	assert.Greater(t, len(cg.Nodes), before, "a clone node must have been inserted")

	var sawClone bool
	for _, n := range cg.Nodes {
		if n.Kind != callgraph.NodeCompute {
			continue
		}
		if c, ok := cdb.HydratedComponent(n.ComponentID); ok && c.Kind == component.KindCloneTransformer {
			sawClone = true
		}
	}
	assert.True(t, sawClone)
}

func TestCheckEmitsDiagnosticWhenNotRepairable(t *testing.T) {
	cdb, idx, scopes, sink, handlerID := newFixture(t, component.NeverClone, []string{"Send", "Sync", "Clone"})
	cg := build(t, cdb, idx, scopes, handlerID)

	before := len(cg.Nodes)
	borrowck.Check(cg, cdb, sink)

	assert.True(t, sink.HasErrors(), "a NeverClone conflict can't be repaired and must be diagnosed")
	assert.Equal(t, before, len(cg.Nodes), "no clone node should be inserted when cloning isn't allowed")
}

func TestCheckEmitsDiagnosticWhenCloneCapabilityMissing(t *testing.T) {
	// CloningStrategy allows repair, but the documentation cache never
	// records a Clone implementation for AppState — the repair must still
	// fail into a diagnostic rather than silently inserting a clone node for
	// a type that doesn't actually implement Clone (§4.6).
	cdb, idx, scopes, sink, handlerID := newFixture(t, component.CloneIfNecessary, []string{"Send", "Sync"})
	cg := build(t, cdb, idx, scopes, handlerID)

	before := len(cg.Nodes)
	borrowck.Check(cg, cdb, sink)

	assert.True(t, sink.HasErrors(), "cloning strategy alone doesn't authorize a repair without a documented Clone impl")
	assert.Equal(t, before, len(cg.Nodes), "no clone node should be inserted when Clone isn't documented")
}
