package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/blueprint"
	"github.com/pavex-go/pavexc/pkg/config"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/pipeline"
	"github.com/pavex-go/pavexc/pkg/resolver"
)

type fakeSource struct{ crates map[string]*doccache.Crate }

func (f *fakeSource) Lookup(key doccache.CacheKey) (*doccache.Crate, error) {
	name := key.ToolchainName
	if key.Kind == doccache.ThirdPartyKind {
		name = key.PackageID
	}
	return f.crates[name], nil
}

func appCrate() *doccache.Crate {
	return &doccache.Crate{
		Name: "app",
		Items: map[string]doccache.Item{
			"db::Pool":    {Path: []string{"db", "Pool"}, Kind: doccache.ItemStruct, Public: true, Capabilities: []string{"Send", "Sync"}},
			"db::new_pool": {Path: []string{"db", "new_pool"}, Kind: doccache.ItemFunction, Public: true, OutputExpr: "db::Pool"},
			"routes::Greeting": {Path: []string{"routes", "Greeting"}, Kind: doccache.ItemStruct, Public: true},
			"routes::home": {
				Path: []string{"routes", "home"}, Kind: doccache.ItemFunction, Public: true,
				Inputs: []doccache.FunctionInput{{Name: "pool", TypeExpr: "db::Pool"}}, OutputExpr: "routes::Greeting",
			},
			"routes::not_found": {Path: []string{"routes", "not_found"}, Kind: doccache.ItemFunction, Public: true, OutputExpr: "routes::Greeting"},
			"settings::Limits": {Path: []string{"settings", "Limits"}, Kind: doccache.ItemStruct, Public: true, Capabilities: []string{"Send", "Sync"}},
		},
	}
}

func TestCompileBuildsOneFunctionPerRoute(t *testing.T) {
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate()}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	bp := &blueprint.Blueprint{
		Constructors: []blueprint.Constructor{
			{Callable: blueprint.Callable{Path: "crate::db::new_pool"}, Lifecycle: blueprint.LifecycleSingleton},
		},
		Routes: []blueprint.Route{
			{Method: blueprint.MethodGuard{Methods: []string{"GET"}}, Path: "/home", Handler: blueprint.Callable{Path: "crate::routes::home"}},
		},
		Fallback: &blueprint.Fallback{Handler: blueprint.Callable{Path: "crate::routes::not_found"}},
	}

	comp.LoadBlueprint(bp)
	require.False(t, comp.Sink().HasErrors(), comp.Sink().Render())

	artifact, err := comp.Compile()
	require.NoError(t, err)
	require.Len(t, artifact.Functions, 2)

	assert.Contains(t, artifact.RouterSource, `m.RegisterRoute(pavexrouter.AnyDomain, "/home"`)
	assert.Contains(t, artifact.ApplicationStateSource, "type ApplicationState struct")
	assert.Contains(t, artifact.ApplicationStateSource, "Pool")
}

func TestCompileReportsUnresolvedCallable(t *testing.T) {
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate()}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	bp := &blueprint.Blueprint{
		Routes: []blueprint.Route{
			{Method: blueprint.MethodGuard{Methods: []string{"GET"}}, Path: "/missing", Handler: blueprint.Callable{Path: "crate::routes::does_not_exist"}},
		},
	}

	comp.LoadBlueprint(bp)
	assert.True(t, comp.Sink().HasErrors())

	_, err := comp.Compile()
	assert.Error(t, err)
}

func TestLoadBlueprintDiagnosesSingletonMissingSendSync(t *testing.T) {
	crate := appCrate()
	crate.Items["db::Pool"] = doccache.Item{Path: []string{"db", "Pool"}, Kind: doccache.ItemStruct, Public: true}

	src := &fakeSource{crates: map[string]*doccache.Crate{"app": crate}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	bp := &blueprint.Blueprint{
		Constructors: []blueprint.Constructor{
			{Callable: blueprint.Callable{Path: "crate::db::new_pool"}, Lifecycle: blueprint.LifecycleSingleton},
		},
	}

	comp.LoadBlueprint(bp)
	assert.True(t, comp.Sink().HasErrors(), "a singleton whose type documents neither Send nor Sync must be diagnosed")
}

func TestConfigComponentResolvesAgainstLoadedStore(t *testing.T) {
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate()}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[limits]\nmax_requests = 10\n"), 0o644))
	store, err := config.Load(configPath)
	require.NoError(t, err)
	comp.SetConfigStore(store)

	bp := &blueprint.Blueprint{
		Configs: []blueprint.ConfigValue{
			{TypePath: "crate::settings::Limits", Key: "limits.max_requests"},
		},
	}

	comp.LoadBlueprint(bp)
	assert.False(t, comp.Sink().HasErrors(), comp.Sink().Render())
}

func TestConfigComponentWithoutStoreValueIsDiagnosed(t *testing.T) {
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate()}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	bp := &blueprint.Blueprint{
		Configs: []blueprint.ConfigValue{
			{TypePath: "crate::settings::Limits", Key: "limits.max_requests"},
		},
	}

	comp.LoadBlueprint(bp)
	assert.True(t, comp.Sink().HasErrors(), "a config key with no backing store value must be diagnosed")
}

func TestCompileNestedBlueprintPrefixAndDomain(t *testing.T) {
	src := &fakeSource{crates: map[string]*doccache.Crate{"app": appCrate()}}
	ws := resolver.Workspace{CurrentCrate: "app"}
	comp := pipeline.New(ws, src, nil)

	bp := &blueprint.Blueprint{
		NestedBlueprints: []blueprint.NestedBlueprint{
			{
				PathPrefix: "/api",
				Domain:     "api.example.com",
				Blueprint: &blueprint.Blueprint{
					Routes: []blueprint.Route{
						{Method: blueprint.MethodGuard{Methods: []string{"GET"}}, Path: "/home", Handler: blueprint.Callable{Path: "crate::routes::home"}},
					},
				},
			},
		},
		Constructors: []blueprint.Constructor{
			{Callable: blueprint.Callable{Path: "crate::db::new_pool"}, Lifecycle: blueprint.LifecycleSingleton},
		},
	}

	comp.LoadBlueprint(bp)
	require.False(t, comp.Sink().HasErrors(), comp.Sink().Render())

	artifact, err := comp.Compile()
	require.NoError(t, err)
	assert.Contains(t, artifact.RouterSource, `mustDomain("api.example.com")`)
	assert.Contains(t, artifact.RouterSource, `"/api/home"`)
}
