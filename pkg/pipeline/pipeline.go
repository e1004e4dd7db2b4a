// Package pipeline implements the single-threaded driver object that wires
// C1 through C9 in control-flow order, per §5: all mutable analysis state
// (the resolver, the component DB, the constructible index, the scope
// graph, the diagnostics sink) is owned by one Compilation, mirroring the
// teacher's single-Scope-owns-mutable-state design (its cache/tags/
// extensions are all reachable only through the one *Scope value a program
// builds). Compilation additionally owns the translation from the external,
// string-keyed Blueprint vocabulary (pkg/blueprint) into the compiler's
// internal, int-enum vocabulary (pkg/component, pkg/router) — deferred here
// on purpose so pkg/blueprint can stay a plain, human-editable artifact.
package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pavex-go/pavexc/pkg/blueprint"
	"github.com/pavex-go/pavexc/pkg/borrowck"
	"github.com/pavex-go/pavexc/pkg/callgraph"
	"github.com/pavex-go/pavexc/pkg/codegen"
	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/config"
	"github.com/pavex-go/pavexc/pkg/constructible"
	"github.com/pavex-go/pavexc/pkg/depgraph"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/ordering"
	"github.com/pavex-go/pavexc/pkg/resolver"
	"github.com/pavex-go/pavexc/pkg/router"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
)

// Compilation is the sole owner of every piece of mutable analysis state a
// Blueprint compiles through.
type Compilation struct {
	sink           *diagnostics.Sink
	scopes         *scopegraph.Graph
	resolver       *resolver.Resolver
	components     *component.DB
	constructibles *constructible.DB
	router         *router.Router
	configValues   *config.Store

	handlers       []handlerEntry
	errorObservers []component.ID
}

// SetConfigStore attaches the configuration values Config components are
// bound against. Without one, every Config component is diagnosed as
// unbound once its Blueprint is loaded.
func (c *Compilation) SetConfigStore(s *config.Store) { c.configValues = s }

type handlerEntry struct {
	id   component.ID
	name string
}

// New creates a Compilation against a single workspace and crate source,
// ready to load one Blueprint tree.
func New(ws resolver.Workspace, crates resolver.CrateSource, log *zap.Logger) *Compilation {
	sink := diagnostics.NewSink(log)
	scopes := scopegraph.New()
	r := resolver.New(ws, crates, sink)
	components := component.New(sink, scopes, r)
	constructibles := constructible.New(sink, scopes, components)
	return &Compilation{
		sink:           sink,
		scopes:         scopes,
		resolver:       r,
		components:     components,
		constructibles: constructibles,
		router:         router.New(),
	}
}

// Sink exposes the diagnostics collected across every stage, so a caller
// can render them regardless of whether Compile ultimately succeeds.
func (c *Compilation) Sink() *diagnostics.Sink { return c.sink }

// invocationPolicy is the rule C4's dependency graph uses to decide whether
// a component is rebuilt per request (Compute) or already available
// up-front as a bound input (Input): singletons are built once into
// ApplicationState, everything else is computed fresh.
func invocationPolicy(l component.Lifecycle) bool { return l != component.Singleton }

func translateLifecycle(l blueprint.Lifecycle) component.Lifecycle {
	switch l {
	case blueprint.LifecycleSingleton:
		return component.Singleton
	case blueprint.LifecycleTransient:
		return component.Transient
	default:
		return component.RequestScoped
	}
}

func translateCloning(cs *blueprint.CloningStrategy) component.CloningStrategy {
	if cs != nil && *cs == blueprint.CloningCloneIfNecessary {
		return component.CloneIfNecessary
	}
	return component.NeverClone
}

func translateMethodGuard(g blueprint.MethodGuard) router.MethodGuard {
	if g.Any {
		return router.AnyMethod()
	}
	return router.Methods(g.Methods...)
}

func translateSite(s blueprint.Site) component.Site {
	return component.Site{File: s.File, Line: s.Line}
}

// LoadBlueprint interns every component a Blueprint tree declares and
// registers its routes/fallbacks into the router, recursing into nested
// blueprints with their scope, path prefix and domain guard composed with
// their parent's.
func (c *Compilation) LoadBlueprint(bp *blueprint.Blueprint) {
	c.loadScope(bp, scopegraph.Root, "", router.AnyDomain)
	c.components.CheckFallibleHasHandler()
	c.components.CheckSingletonCapabilities()
}

func (c *Compilation) loadScope(bp *blueprint.Blueprint, scope scopegraph.ID, prefix string, domain router.DomainGuard) {
	for _, ctor := range bp.Constructors {
		id, ok := c.components.Intern(component.UserComponent{
			Kind:            component.KindConstructor,
			Path:            ctor.Callable.Path,
			Lifecycle:       translateLifecycle(ctor.Lifecycle),
			CloningStrategy: translateCloning(ctor.CloningStrategy),
			Scope:           scope,
			Site:            translateSite(ctor.Callable.Site),
		})
		if !ok {
			continue
		}
		c.constructibles.Register(id)
		c.registerMatchTransformers(id)
		c.linkErrorHandler(id, scope, ctor.ErrorHandler)
	}

	for _, pt := range bp.PrebuiltTypes {
		resolved, ok := c.resolver.ResolveType(pt.TypePath)
		if !ok {
			continue
		}
		id, ok := c.components.Intern(component.UserComponent{
			Kind:         component.KindPrebuilt,
			PrebuiltType: resolved,
			Scope:        scope,
			Site:         translateSite(pt.Site),
		})
		if !ok {
			continue
		}
		c.constructibles.Register(id)
	}

	for _, cfg := range bp.Configs {
		id, ok := c.components.Intern(component.UserComponent{
			Kind:      component.KindConfig,
			Path:      cfg.TypePath,
			ConfigKey: cfg.Key,
			Lifecycle: component.Singleton,
			Scope:     scope,
			Site:      translateSite(cfg.Site),
		})
		if !ok {
			continue
		}
		c.constructibles.Register(id)
		if _, found := c.configValues.Lookup(cfg.Key); !found {
			c.sink.Errorf("config", "config key %q at %s:%d has no value in the loaded configuration", cfg.Key, cfg.Site.File, cfg.Site.Line)
		}
	}

	for _, mw := range bp.Middlewares {
		kind, ok := middlewareKind(mw.Kind)
		if !ok {
			c.sink.Errorf("blueprint", "unknown middleware kind %q", mw.Kind)
			continue
		}
		id, ok := c.components.Intern(component.UserComponent{
			Kind:  kind,
			Path:  mw.Callable.Path,
			Scope: scope,
			Site:  translateSite(mw.Callable.Site),
		})
		if !ok {
			continue
		}
		c.registerMatchTransformers(id)
		c.linkErrorHandler(id, scope, mw.ErrorHandler)
		// Each middleware is interned (with its Ok/Err transformers
		// registered), but the middleware itself is not registered in the
		// constructible index and is not composed into any route's call
		// graph: a route's call graph is built from its handler alone.
	}

	for _, obs := range bp.ErrorObservers {
		id, ok := c.components.Intern(component.UserComponent{
			Kind:  component.KindErrorObserver,
			Path:  obs.Path,
			Scope: scope,
			Site:  translateSite(obs.Site),
		})
		if ok {
			c.errorObservers = append(c.errorObservers, id)
		}
	}

	for _, rt := range bp.Routes {
		id, ok := c.components.Intern(component.UserComponent{
			Kind:      component.KindRequestHandler,
			Path:      rt.Handler.Path,
			Lifecycle: component.RequestScoped,
			Scope:     scope,
			Site:      translateSite(rt.Handler.Site),
		})
		if !ok {
			continue
		}
		c.linkErrorHandler(id, scope, rt.ErrorHandler)
		c.router.RegisterRoute(domain, prefix+rt.Path, translateMethodGuard(rt.Method), id, scope, c.sink)
		c.handlers = append(c.handlers, handlerEntry{id: id, name: fmt.Sprintf("handler%d", int(id))})
	}

	if bp.Fallback != nil {
		id, ok := c.components.Intern(component.UserComponent{
			Kind:      component.KindRequestHandler,
			Path:      bp.Fallback.Handler.Path,
			Lifecycle: component.RequestScoped,
			Scope:     scope,
			Site:      translateSite(bp.Fallback.Handler.Site),
		})
		if ok {
			c.router.RegisterFallback(scope, id, c.sink)
			c.handlers = append(c.handlers, handlerEntry{id: id, name: fmt.Sprintf("handler%d", int(id))})
			if prefix != "" {
				// A nested Blueprint mounted under a path prefix implicitly
				// covers every route under that prefix, even ones registered
				// by a sibling nested Blueprint later in the tree.
				c.router.RegisterPrefixFallback(prefix, id)
			}
		}
	}

	for _, nested := range bp.NestedBlueprints {
		childScope := c.scopes.NewChild(scope)
		childPrefix := prefix + nested.PathPrefix
		childDomain := domain
		if nested.Domain != "" {
			if g, err := router.NewDomainGuard(nested.Domain); err == nil {
				childDomain = g
			} else {
				c.sink.Errorf("blueprint", "nested blueprint at %s: %s", nested.NestingSite.File, err)
			}
		}
		c.loadScope(nested.Blueprint, childScope, childPrefix, childDomain)
	}
}

// registerMatchTransformers indexes a fallible component's synthesized
// Ok/Err transformers into the constructible DB, so a downstream consumer
// declaring the bare Ok (or Err) type as an input resolves to the unwrapped
// value instead of the raw Result (§4.4) — mirroring how a borrow
// transformer is registered the moment its owner is observed.
func (c *Compilation) registerMatchTransformers(parentID component.ID) {
	okID, errID, ok := c.components.MatchTransformerIDs(parentID)
	if !ok {
		return
	}
	c.constructibles.Register(okID)
	c.constructibles.Register(errID)
}

func (c *Compilation) linkErrorHandler(targetID component.ID, scope scopegraph.ID, handler *blueprint.Callable) {
	if handler == nil {
		return
	}
	handlerID, ok := c.components.Intern(component.UserComponent{
		Kind:  component.KindErrorHandler,
		Path:  handler.Path,
		Scope: scope,
		Site:  translateSite(handler.Site),
	})
	if !ok {
		return
	}
	c.components.LinkErrorHandler(targetID, handlerID)
}

func middlewareKind(kind string) (component.Kind, bool) {
	switch kind {
	case "wrap":
		return component.KindWrappingMiddleware, true
	case "pre_process":
		return component.KindPreProcessing, true
	case "post_process":
		return component.KindPostProcessing, true
	default:
		return 0, false
	}
}

// Artifact is everything Compile produces once every handler pipeline has
// been built: one generated function per handler, plus the generated
// program's Router, ApplicationState and dependency manifest sources.
type Artifact struct {
	Functions               []codegen.Function
	RouterSource            string
	ApplicationStateSource  string
	ManifestSource          string
}

// Compile builds the call graph, borrow-checks, orders and generates one
// function for every request handler and fallback the loaded Blueprint
// registered, then emits the Router/ApplicationState/manifest. Code
// generation is gated on an empty error set, per §4.10 — a Blueprint whose
// loading or per-handler analysis produced any error diagnostic returns
// those diagnostics instead of an Artifact.
func (c *Compilation) Compile() (*Artifact, error) {
	if c.sink.HasErrors() {
		return nil, fmt.Errorf("blueprint loading failed with %d error(s):\n%s", c.sink.ErrorCount(), c.sink.Render())
	}

	names := map[component.ID]string{}
	var functions []codegen.Function
	for _, h := range c.handlers {
		fn, err := c.compileHandler(h.id, h.name)
		if err != nil {
			return nil, err
		}
		functions = append(functions, fn)
		names[h.id] = h.name
	}

	if c.sink.HasErrors() {
		return nil, fmt.Errorf("compilation failed with %d error(s):\n%s", c.sink.ErrorCount(), c.sink.Render())
	}

	fallbacks := c.router.ResolveFallbacks(c.scopes, c.sink)
	if c.sink.HasErrors() {
		return nil, fmt.Errorf("fallback resolution failed with %d error(s):\n%s", c.sink.ErrorCount(), c.sink.Render())
	}

	routerSrc := codegen.GenerateRouter(codegen.RouterSpec{
		Routes:          c.router.Export(),
		Fallbacks:       fallbacks,
		DefaultFallback: component.NoID,
		HandlerNames:    names,
	})
	appStateSrc := codegen.GenerateApplicationState(codegen.ApplicationStateSpec{Components: c.components})
	manifestSrc := codegen.GenerateManifest(map[string]string{})

	return &Artifact{
		Functions:              functions,
		RouterSource:           routerSrc,
		ApplicationStateSource: appStateSrc,
		ManifestSource:         manifestSrc,
	}, nil
}

func (c *Compilation) compileHandler(id component.ID, name string) (codegen.Function, error) {
	dep := depgraph.Build(id, c.errorObservers, c.components, c.constructibles, c.scopes, invocationPolicy)
	if !depgraph.AssertAcyclic(dep, c.sink) {
		return codegen.Function{}, fmt.Errorf("cyclic dependency rooted at component %d", id)
	}

	cg := callgraph.Build(dep, c.components)
	borrowck.Check(cg, c.components, c.sink)
	order := ordering.Build(cg)

	return codegen.GenerateFunction(codegen.FunctionSpec{
		Name:       name,
		Graph:      cg,
		Order:      order,
		Components: c.components,
	}), nil
}
