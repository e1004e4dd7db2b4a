package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/callgraph"
	"github.com/pavex-go/pavexc/pkg/codegen"
	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/constructible"
	"github.com/pavex-go/pavexc/pkg/depgraph"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/ordering"
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

func defaultPolicy(l component.Lifecycle) bool { return l != component.Singleton }

// buildChain wires new_token -> consume -> handle, a single straight-line
// pipeline, for exercising the basic-block emission path.
func buildChain(t *testing.T) (*callgraph.Graph, *component.DB) {
	appCrate := &doccache.Crate{
		Name: "app",
		Items: map[string]doccache.Item{
			"auth::Token":     {Path: []string{"auth", "Token"}, Kind: doccache.ItemStruct, Public: true},
			"auth::Receipt":   {Path: []string{"auth", "Receipt"}, Kind: doccache.ItemStruct, Public: true},
			"auth::new_token": {Path: []string{"auth", "new_token"}, Kind: doccache.ItemFunction, Public: true, OutputExpr: "auth::Token"},
			"auth::consume": {
				Path: []string{"auth", "consume"}, Kind: doccache.ItemFunction, Public: true,
				Inputs: []doccache.FunctionInput{{Name: "token", TypeExpr: "auth::Token"}}, OutputExpr: "auth::Receipt",
			},
			"auth::handle": {
				Path: []string{"auth", "handle"}, Kind: doccache.ItemFunction, Public: true,
				Inputs:     []doccache.FunctionInput{{Name: "r", TypeExpr: "auth::Receipt"}},
				OutputExpr: "auth::Receipt",
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

	tokenID, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::auth::new_token", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	idx.Register(tokenID)

	consumeID, ok := cdb.Intern(component.UserComponent{Kind: component.KindConstructor, Path: "crate::auth::consume", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	idx.Register(consumeID)

	handlerID, ok := cdb.Intern(component.UserComponent{Kind: component.KindRequestHandler, Path: "crate::auth::handle", Lifecycle: component.RequestScoped, Scope: scopegraph.Root})
	require.True(t, ok)
	require.False(t, sink.HasErrors())

	dep := depgraph.Build(handlerID, nil, cdb, idx, scopes, defaultPolicy)
	require.True(t, depgraph.AssertAcyclic(dep, sink))
	return callgraph.Build(dep, cdb), cdb
}

func TestGenerateFunctionEmitsOneBindingPerSharedNode(t *testing.T) {
	g, cdb := buildChain(t)
	order := ordering.Build(g)

	fn := codegen.GenerateFunction(codegen.FunctionSpec{Name: "handle0", Graph: g, Order: order, Components: cdb})

	assert.Contains(t, fn.Source, "func handle0(")
	assert.Contains(t, fn.Source, "crate.auth.new_token()")
	assert.Contains(t, fn.Source, "crate.auth.consume(")
	assert.Contains(t, fn.Source, "crate.auth.handle(")
	assert.Contains(t, fn.Source, "return ")
}

func TestGenerateFunctionIsDeterministic(t *testing.T) {
	g, cdb := buildChain(t)
	order := ordering.Build(g)

	first := codegen.GenerateFunction(codegen.FunctionSpec{Name: "handle0", Graph: g, Order: order, Components: cdb})
	second := codegen.GenerateFunction(codegen.FunctionSpec{Name: "handle0", Graph: g, Order: order, Components: cdb})

	assert.Equal(t, first.Source, second.Source)
}
