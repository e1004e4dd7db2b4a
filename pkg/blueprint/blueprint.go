// Package blueprint is the external, serializable representation of an
// application's routes, constructors, middlewares and nested scopes — the
// thing a user-facing builder API would emit and persist to disk for the
// compiler to load. Grounded on
// original_source/libs/pavex/src/blueprint/blueprint.rs for the shape
// (routes, constructors, middlewares, nested blueprints with prefix/domain,
// prebuilt types), adapted from RON persistence to YAML per this port's
// ambient (de)serialization stack.
package blueprint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Site is where a route/constructor/middleware was registered, carried
// through for diagnostics.
type Site struct {
	File string `yaml:"file"`
	Line int    `yaml:"line"`
}

// Callable is an unresolved, textual reference to a function/method/
// struct-literal constructor — resolved against a crate's documentation by
// C1 once the Blueprint is loaded.
type Callable struct {
	Path string `yaml:"path"`
	Site Site   `yaml:"site"`
}

// Lifecycle mirrors component.Lifecycle as a serializable string so a
// Blueprint file stays human-editable.
type Lifecycle string

const (
	LifecycleSingleton     Lifecycle = "singleton"
	LifecycleRequestScoped Lifecycle = "request_scoped"
	LifecycleTransient     Lifecycle = "transient"
)

// CloningStrategy mirrors component.CloningStrategy.
type CloningStrategy string

const (
	CloningNeverClone      CloningStrategy = "never_clone"
	CloningCloneIfNecessary CloningStrategy = "clone_if_necessary"
)

// MethodGuard is the set of HTTP methods a route matches: specific verbs, or
// every verb ("any").
type MethodGuard struct {
	Any     bool     `yaml:"any,omitempty"`
	Methods []string `yaml:"methods,omitempty"`
}

// Route is one registered (method, path) -> handler mapping, with an
// optional per-route error handler override.
type Route struct {
	Method       MethodGuard `yaml:"method"`
	Path         string      `yaml:"path"`
	Handler      Callable    `yaml:"handler"`
	ErrorHandler *Callable   `yaml:"error_handler,omitempty"`
}

// Constructor registers how to build a type: its callable, lifecycle,
// optional cloning-strategy override, and optional error handler (for a
// fallible constructor).
type Constructor struct {
	Callable        Callable         `yaml:"callable"`
	Lifecycle       Lifecycle        `yaml:"lifecycle"`
	CloningStrategy *CloningStrategy `yaml:"cloning_strategy,omitempty"`
	ErrorHandler    *Callable        `yaml:"error_handler,omitempty"`
}

// Middleware is a wrapping/pre-/post-processing middleware, invoked in
// registration order around the request handler.
type Middleware struct {
	Kind     string    `yaml:"kind"` // "wrap" | "pre_process" | "post_process"
	Callable Callable  `yaml:"callable"`
	ErrorHandler *Callable `yaml:"error_handler,omitempty"`
}

// PrebuiltType registers a type the application-state builder's caller hands
// in directly at runtime, with no constructor of its own.
type PrebuiltType struct {
	TypePath string `yaml:"type_path"`
	Site     Site   `yaml:"site"`
}

// ConfigValue registers a Config component: a type to construct from a
// configuration value keyed by Key, resolved against the compiler's loaded
// configuration store (pkg/config) at LoadBlueprint time.
type ConfigValue struct {
	TypePath string `yaml:"type_path"`
	Key      string `yaml:"key"`
	Site     Site   `yaml:"site"`
}

// Fallback is the handler invoked when no route matches within a scope.
type Fallback struct {
	Handler Callable `yaml:"handler"`
}

// NestedBlueprint is a child Blueprint mounted under its parent, optionally
// scoped by a path prefix and/or a domain guard.
type NestedBlueprint struct {
	Blueprint    *Blueprint `yaml:"blueprint"`
	PathPrefix   string     `yaml:"path_prefix,omitempty"`
	Domain       string     `yaml:"domain,omitempty"`
	NestingSite  Site       `yaml:"nesting_site"`
}

// Blueprint is the external representation passed to the compiler: routes,
// constructors, middlewares, prebuilt types, an optional fallback, and
// nested blueprints, each in the order they were registered.
type Blueprint struct {
	CreationSite     Site              `yaml:"creation_site"`
	Constructors     []Constructor     `yaml:"constructors,omitempty"`
	PrebuiltTypes    []PrebuiltType    `yaml:"prebuilt_types,omitempty"`
	Configs          []ConfigValue     `yaml:"configs,omitempty"`
	Routes           []Route           `yaml:"routes,omitempty"`
	Middlewares      []Middleware      `yaml:"middlewares,omitempty"`
	ErrorObservers   []Callable        `yaml:"error_observers,omitempty"`
	Fallback         *Fallback         `yaml:"fallback,omitempty"`
	NestedBlueprints []NestedBlueprint `yaml:"nested_blueprints,omitempty"`
}

// Load reads a YAML-encoded Blueprint from filepath.
func Load(filepath string) (*Blueprint, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading blueprint %s: %w", filepath, err)
	}
	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parsing blueprint %s: %w", filepath, err)
	}
	return &bp, nil
}

// Persist writes bp to filepath as YAML.
func Persist(bp *Blueprint, filepath string) error {
	data, err := yaml.Marshal(bp)
	if err != nil {
		return fmt.Errorf("encoding blueprint: %w", err)
	}
	if err := os.WriteFile(filepath, data, 0o644); err != nil {
		return fmt.Errorf("writing blueprint %s: %w", filepath, err)
	}
	return nil
}
