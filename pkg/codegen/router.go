package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/router"
)

// RouterSpec is everything GenerateRouter needs to emit the generated
// program's dispatch entry point: every registered route, each handler's
// resolved fallback, and the default fallback for a request that matches no
// scope at all.
type RouterSpec struct {
	Routes          []router.RouteExport
	Fallbacks       map[component.ID]component.ID
	DefaultFallback component.ID
	HandlerNames    map[component.ID]string // component.ID -> generated function name
}

// GenerateRouter emits the literal source of the generated program's Router
// struct and its route(request, connection_info, state) method, per §4.9.
// Rather than compiling a second, standalone matcher into the generated
// artifact, the emitted Router embeds this compiler's own pkg/router.Router
// as its runtime dispatcher and rebuilds it from the literal route table at
// init time — the same pattern a protobuf-style codegen uses for its
// runtime support library, and it avoids maintaining two implementations of
// the two-level domain/path/method matching rules.
func GenerateRouter(spec RouterSpec) string {
	var sb strings.Builder

	sb.WriteString("// Router dispatches an incoming request to the handler pipeline its host,\n")
	sb.WriteString("// path and method resolve to, falling back to the default fallback (or\n")
	sb.WriteString("// NotFound, or the 405 path) when nothing matches. The per-handler\n")
	sb.WriteString("// fallbacks table is not consulted when routing.\n")
	sb.WriteString("type Router struct {\n")
	sb.WriteString("\tmatcher   *pavexrouter.Router\n")
	sb.WriteString("\thandlers  map[int]HandlerFunc\n")
	sb.WriteString("\tfallbacks map[int]HandlerFunc\n")
	sb.WriteString("\tdefaultFallback HandlerFunc\n")
	sb.WriteString("}\n\n")

	sb.WriteString("// HandlerFunc is a fully resolved request handler pipeline: a free\n")
	sb.WriteString("// function generated from one call graph.\n")
	sb.WriteString("type HandlerFunc func(*http.Request, ConnectionInfo, *ApplicationState) Response\n\n")

	sb.WriteString("func NewRouter(state *ApplicationState) *Router {\n")
	sb.WriteString("\tm := pavexrouter.New()\n")
	sb.WriteString("\tsink := diagnostics.NewSink(nil)\n")
	sb.WriteString("\thandlers := map[int]HandlerFunc{}\n")

	ids := make([]int, 0, len(spec.HandlerNames))
	for id := range spec.HandlerNames {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(&sb, "\thandlers[%d] = %s\n", id, spec.HandlerNames[component.ID(id)])
	}

	for _, rt := range spec.Routes {
		domainExpr := "pavexrouter.AnyDomain"
		if rt.Domain != "" {
			domainExpr = fmt.Sprintf("mustDomain(%q)", rt.Domain)
		}
		guardExpr := "pavexrouter.AnyMethod()"
		if !rt.Guard.Any {
			methods := make([]string, len(rt.Guard.Methods))
			for i, m := range rt.Guard.Methods {
				methods[i] = fmt.Sprintf("%q", m)
			}
			guardExpr = fmt.Sprintf("pavexrouter.Methods(%s)", strings.Join(methods, ", "))
		}
		fmt.Fprintf(&sb, "\tm.RegisterRoute(%s, %q, %s, component.ID(%d), scopegraph.Root, sink)\n",
			domainExpr, rt.Path, guardExpr, int(rt.Handler))
	}

	sb.WriteString("\n\tfallbacks := map[int]HandlerFunc{}\n")
	fallbackIDs := make([]int, 0, len(spec.Fallbacks))
	for id := range spec.Fallbacks {
		fallbackIDs = append(fallbackIDs, int(id))
	}
	sort.Ints(fallbackIDs)
	for _, id := range fallbackIDs {
		fmt.Fprintf(&sb, "\tfallbacks[%d] = handlers[%d]\n", id, int(spec.Fallbacks[component.ID(id)]))
	}

	defaultExpr := "nil"
	if spec.DefaultFallback != component.NoID {
		if name, ok := spec.HandlerNames[spec.DefaultFallback]; ok {
			defaultExpr = name
		}
	}

	sb.WriteString("\n\treturn &Router{\n")
	sb.WriteString("\t\tmatcher:         m,\n")
	sb.WriteString("\t\thandlers:        handlers,\n")
	sb.WriteString("\t\tfallbacks:       fallbacks,\n")
	fmt.Fprintf(&sb, "\t\tdefaultFallback: %s,\n", defaultExpr)
	sb.WriteString("\t}\n")
	sb.WriteString("}\n\n")

	sb.WriteString("func mustDomain(pattern string) pavexrouter.DomainGuard {\n")
	sb.WriteString("\tg, err := pavexrouter.NewDomainGuard(pattern)\n")
	sb.WriteString("\tif err != nil {\n")
	sb.WriteString("\t\tpanic(err)\n")
	sb.WriteString("\t}\n")
	sb.WriteString("\treturn g\n")
	sb.WriteString("}\n\n")

	sb.WriteString("// Route resolves req against the compiled route table and invokes the\n")
	sb.WriteString("// matched handler, falling back to the default fallback (or NotFound) on a\n")
	sb.WriteString("// miss and to a 405 response when the path matches but the method doesn't.\n")
	sb.WriteString("func (rt *Router) Route(req *http.Request, conn ConnectionInfo, state *ApplicationState) Response {\n")
	sb.WriteString("\thandlerID, params, ok := rt.matcher.Match(req.Host, req.URL.Path, req.Method)\n")
	sb.WriteString("\tif !ok {\n")
	sb.WriteString("\t\tif allowed := rt.matcher.AllowedMethods(req.Host, req.URL.Path); allowed != nil {\n")
	sb.WriteString("\t\t\treturn MethodNotAllowed(allowed)\n")
	sb.WriteString("\t\t}\n")
	sb.WriteString("\t\tif fb := rt.defaultFallback; fb != nil {\n")
	sb.WriteString("\t\t\treturn fb(req, conn, state)\n")
	sb.WriteString("\t\t}\n")
	sb.WriteString("\t\treturn NotFound()\n")
	sb.WriteString("\t}\n")
	sb.WriteString("\treq = withRouteParams(req, params)\n")
	sb.WriteString("\treturn rt.handlers[int(handlerID)](req, conn, state)\n")
	sb.WriteString("}\n")

	return sb.String()
}

// ApplicationStateSpec describes the singleton-backed fields the generated
// ApplicationState struct threads into every handler closure, per §6's
// "ApplicationState struct whose fields are the singletons required at
// runtime".
type ApplicationStateSpec struct {
	Components *component.DB
}

// GenerateApplicationState emits the ApplicationState struct type: one field
// per singleton component, built once at startup and shared (by reference)
// across every request. No constructor function is emitted.
func GenerateApplicationState(spec ApplicationStateSpec) string {
	var sb strings.Builder
	sb.WriteString("// ApplicationState holds every singleton-lifecycle value the generated\n")
	sb.WriteString("// handlers depend on, built once at startup.\n")
	sb.WriteString("type ApplicationState struct {\n")

	var fieldNames []string
	fields := map[string]string{}
	for _, c := range spec.Components.All() {
		if c.Lifecycle != component.Singleton {
			continue
		}
		name := varBase(c.OutputType)
		name = strings.ToUpper(name[:1]) + name[1:]
		fields[name] = goType(c.OutputType)
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)
	for _, name := range fieldNames {
		fmt.Fprintf(&sb, "\t%s %s\n", name, fields[name])
	}
	sb.WriteString("}\n")
	return sb.String()
}

// GenerateManifest emits the generated program's dependency manifest: the
// exact third-party versions the emitted source imports, per §6. Kept as a
// plain key/value listing rather than a full go.mod so the pipeline can
// merge it into whatever build file format the surrounding project uses.
func GenerateManifest(deps map[string]string) string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("# generated — do not edit by hand\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "%s %s\n", name, deps[name])
	}
	return sb.String()
}
