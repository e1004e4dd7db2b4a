package blueprint_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/blueprint"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	errHandler := blueprint.Callable{Path: "crate::errors::handle_not_found"}
	bp := &blueprint.Blueprint{
		CreationSite: blueprint.Site{File: "src/main.rs", Line: 10},
		Constructors: []blueprint.Constructor{
			{
				Callable:  blueprint.Callable{Path: "crate::db::new_pool"},
				Lifecycle: blueprint.LifecycleSingleton,
			},
		},
		Configs: []blueprint.ConfigValue{{TypePath: "crate::config::DbConfig", Key: "db"}},
		Routes: []blueprint.Route{
			{
				Method:  blueprint.MethodGuard{Methods: []string{"GET"}},
				Path:    "/home/{id}",
				Handler: blueprint.Callable{Path: "crate::routes::get_home"},
			},
			{
				Method:       blueprint.MethodGuard{Any: true},
				Path:         "/fallible",
				Handler:      blueprint.Callable{Path: "crate::routes::fallible"},
				ErrorHandler: &errHandler,
			},
		},
		NestedBlueprints: []blueprint.NestedBlueprint{
			{
				Blueprint: &blueprint.Blueprint{
					Routes: []blueprint.Route{
						{Method: blueprint.MethodGuard{Methods: []string{"GET"}}, Path: "/nested", Handler: blueprint.Callable{Path: "crate::nested::handler"}},
					},
				},
				PathPrefix: "/api",
			},
		},
	}

	path := filepath.Join(t.TempDir(), "blueprint.yaml")
	require.NoError(t, blueprint.Persist(bp, path))

	loaded, err := blueprint.Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(bp, loaded); diff != "" {
		t.Errorf("blueprint changed across a persist/load round trip (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := blueprint.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
