package router

import (
	"sort"
	"strings"

	"github.com/pavex-go/pavexc/pkg/component"
	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
)

type domainEntry struct {
	guard DomainGuard
	trie  *pathTrie
}

type routeRecord struct {
	handler component.ID
	scope   scopegraph.ID
	path    string
	domain  DomainGuard
	guard   MethodGuard
}

// Router is the two-level domain + path/method structure described in §4.8:
// each registered route belongs to a domain guard, and within a domain its
// path+method is resolved by a pathTrie. Unlike the original, domain
// matching here walks a guard's labels directly instead of compiling a
// second reversed-pattern trie — DomainGuard.Pattern() still produces the
// reversed representation for anything downstream that wants it (codegen's
// literal router construction uses the forward String() form instead), but
// in-memory matching doesn't need a
// second trie engine to get the same leftmost-catch-all, one-parameter
// semantics. domains is kept sorted literal-before-param-before-catch-all
// (sortDomainsBySpecificity) so the linear scan in matchDomain can't have a
// wildcard domain shadow a more specific one registered after it.
type Router struct {
	domains   []domainEntry
	anyDomain *pathTrie

	routes []routeRecord

	scopeFallback      map[scopegraph.ID]component.ID
	pathPrefixFallback map[string]component.ID
}

func New() *Router {
	return &Router{
		scopeFallback:      map[scopegraph.ID]component.ID{},
		pathPrefixFallback: map[string]component.ID{},
	}
}

// RegisterRoute inserts path/guard/handlerID under domain's trie, pushing a
// diagnostic (and skipping the insert) on conflict.
func (r *Router) RegisterRoute(domain DomainGuard, path string, guard MethodGuard, handlerID component.ID, scope scopegraph.ID, sink *diagnostics.Sink) {
	trie := r.trieFor(domain)
	if err := trie.insert(path, guard, handlerID); err != nil {
		sink.Errorf("route_conflict", "%s", err)
		return
	}
	r.routes = append(r.routes, routeRecord{handler: handlerID, scope: scope, path: path, domain: domain, guard: guard})
}

// RouteExport is a flattened view of one registered route, for the code
// generator (§4.9): the domain pattern ("" when unconstrained), the path
// template, the method guard, and the handler it resolves to.
type RouteExport struct {
	Domain  string
	Path    string
	Guard   MethodGuard
	Handler component.ID
}

// Export lists every registered route in registration order, for the code
// generator to emit literal route-table entries from.
func (r *Router) Export() []RouteExport {
	out := make([]RouteExport, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, RouteExport{Domain: rt.domain.String(), Path: rt.path, Guard: rt.guard, Handler: rt.handler})
	}
	return out
}

func (r *Router) trieFor(domain DomainGuard) *pathTrie {
	if domain.Unconstrained() {
		if r.anyDomain == nil {
			r.anyDomain = newPathTrie()
		}
		return r.anyDomain
	}
	for _, e := range r.domains {
		if e.guard == domain {
			return e.trie
		}
	}
	trie := newPathTrie()
	r.domains = append(r.domains, domainEntry{guard: domain, trie: trie})
	r.sortDomainsBySpecificity()
	return trie
}

// sortDomainsBySpecificity keeps r.domains ordered literal-before-param-
// before-catch-all, the same priority trie.go's lookup gets for free from its
// tree structure. matchDomain is a linear scan rather than a trie, so without
// this a catch-all domain registered before a literal one would shadow it.
func (r *Router) sortDomainsBySpecificity() {
	sort.SliceStable(r.domains, func(i, j int) bool {
		gi, li := domainSpecificity(r.domains[i].guard)
		gj, lj := domainSpecificity(r.domains[j].guard)
		if gi != gj {
			return gi < gj
		}
		return li > lj
	})
}

// domainSpecificity ranks a domain guard into literal-only (0), containing a
// single-label parameter (1), or a leftmost catch-all (2), plus the number of
// literal labels within that group for tie-breaking among non-catch-alls.
func domainSpecificity(g DomainGuard) (group, literalLabels int) {
	labels := strings.Split(g.raw, ".")
	if len(labels) > 0 && strings.HasPrefix(labels[0], "{*") {
		return 2, 0
	}
	for _, l := range labels {
		if strings.HasPrefix(l, "{") {
			group = 1
			continue
		}
		literalLabels++
	}
	return group, literalLabels
}

// RegisterFallback attaches handlerID as scope's fallback. A scope can carry
// at most one; a second registration against the same scope is a conflict.
func (r *Router) RegisterFallback(scope scopegraph.ID, handlerID component.ID, sink *diagnostics.Sink) {
	if existing, ok := r.scopeFallback[scope]; ok && existing != handlerID {
		sink.Errorf("fallback_conflict", "scope %s already has a fallback registered", scope)
		return
	}
	r.scopeFallback[scope] = handlerID
}

// RegisterPrefixFallback registers the implicit catch-all fallback a nested
// Blueprint with a path prefix contributes.
func (r *Router) RegisterPrefixFallback(prefix string, handlerID component.ID) {
	r.pathPrefixFallback[prefix] = handlerID
}

// ResolveFallbacks computes, for every registered route, which fallback
// handler covers it if no method guard matches: the nearest scope ancestor
// that declares one, cross-checked against any path-prefix fallback that
// also covers the route. A mismatch is an ambiguity diagnostic and the route
// is excluded from the returned map, per §4.8.
func (r *Router) ResolveFallbacks(scopes *scopegraph.Graph, sink *diagnostics.Sink) map[component.ID]component.ID {
	result := map[component.ID]component.ID{}
	for _, rt := range r.routes {
		scopeFallback, scopeOK := r.nearestScopeFallback(rt.scope, scopes)
		pathFallback, pathOK := r.matchPrefixFallback(rt.path)

		switch {
		case !pathOK && scopeOK:
			result[rt.handler] = scopeFallback
		case pathOK && !scopeOK:
			result[rt.handler] = pathFallback
		case pathOK && scopeOK:
			if pathFallback == scopeFallback {
				result[rt.handler] = pathFallback
			} else {
				sink.Errorf("fallback_ambiguity",
					"route %q has a scope-based fallback that differs from its path-based catch-all fallback; pick one", rt.path)
			}
		}
	}
	return result
}

func (r *Router) nearestScopeFallback(scope scopegraph.ID, scopes *scopegraph.Graph) (component.ID, bool) {
	for _, s := range scopes.PathToRoot(scope) {
		if h, ok := r.scopeFallback[s]; ok {
			return h, true
		}
	}
	return component.NoID, false
}

func (r *Router) matchPrefixFallback(path string) (component.ID, bool) {
	var best string
	var bestHandler component.ID
	found := false
	for prefix, h := range r.pathPrefixFallback {
		if strings.HasPrefix(path, prefix) && len(prefix) >= len(best) {
			best, bestHandler, found = prefix, h, true
		}
	}
	return bestHandler, found
}

// Match resolves (host, path, method) to a handler and its captured path
// parameters.
func (r *Router) Match(host, path, method string) (component.ID, map[string]string, bool) {
	trie, domainParams := r.matchDomain(host)
	if trie == nil {
		return component.NoID, nil, false
	}
	node, pathParams := trie.lookup(path)
	if node == nil {
		return component.NoID, nil, false
	}
	rt, ok := node.routes[strings.ToUpper(method)]
	if !ok {
		rt, ok = node.routes["*"]
	}
	if !ok {
		return component.NoID, nil, false
	}
	for k, v := range domainParams {
		pathParams[k] = v
	}
	return rt.handler, pathParams, true
}

// AllowedMethods computes the 405 method set for (host, path): the union of
// every method guard registered at that path, or nil if any handler there
// accepts any method (no 405 response is ever needed in that case).
func (r *Router) AllowedMethods(host, path string) []string {
	trie, _ := r.matchDomain(host)
	if trie == nil {
		return nil
	}
	node, _ := trie.lookup(path)
	return allowedMethods(node)
}

func (r *Router) matchDomain(host string) (*pathTrie, map[string]string) {
	host = strings.TrimSuffix(strings.SplitN(host, ":", 2)[0], ".")
	hostLabels := strings.Split(host, ".")

	for _, e := range r.domains {
		if params, ok := matchDomainLabels(e.guard, hostLabels); ok {
			return e.trie, params
		}
	}
	if r.anyDomain != nil {
		return r.anyDomain, map[string]string{}
	}
	return nil, nil
}

func matchDomainLabels(guard DomainGuard, hostLabels []string) (map[string]string, bool) {
	templateLabels := strings.Split(guard.raw, ".")
	params := map[string]string{}

	if strings.HasPrefix(templateLabels[0], "{*") {
		name := templateLabels[0][2 : len(templateLabels[0])-1]
		rest := templateLabels[1:]
		if len(hostLabels) < len(rest) {
			return nil, false
		}
		tail := hostLabels[len(hostLabels)-len(rest):]
		for i, t := range rest {
			if t != tail[i] {
				return nil, false
			}
		}
		params[name] = strings.Join(hostLabels[:len(hostLabels)-len(rest)], ".")
		return params, true
	}

	if len(templateLabels) != len(hostLabels) {
		return nil, false
	}
	for i, t := range templateLabels {
		if strings.HasPrefix(t, "{") {
			params[t[1:len(t)-1]] = hostLabels[i]
			continue
		}
		if t != hostLabels[i] {
			return nil, false
		}
	}
	return params, true
}
