package router

import (
	"fmt"
	"strings"

	"github.com/pavex-go/pavexc/pkg/component"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segCatchAll
)

type segment struct {
	kind segmentKind
	text string // segLiteral
	name string // segParam / segCatchAll
}

// parsePath splits a route template into segments, rejecting a catch-all
// anywhere but the last segment.
func parsePath(path string) ([]segment, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	segments := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch {
		case strings.HasPrefix(p, "{*") && strings.HasSuffix(p, "}"):
			if i != len(parts)-1 {
				return nil, fmt.Errorf("catch-all parameter %q must be the last segment of the path", p)
			}
			segments = append(segments, segment{kind: segCatchAll, name: p[2 : len(p)-1]})
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
			segments = append(segments, segment{kind: segParam, name: p[1 : len(p)-1]})
		default:
			segments = append(segments, segment{kind: segLiteral, text: p})
		}
	}
	return segments, nil
}

// MethodGuard is the set of HTTP methods a route matches: the well-known
// verbs, arbitrary custom method strings, or the any-method guard.
type MethodGuard struct {
	Any     bool
	Methods []string
}

func AnyMethod() MethodGuard { return MethodGuard{Any: true} }

func Methods(methods ...string) MethodGuard {
	up := make([]string, len(methods))
	for i, m := range methods {
		up[i] = strings.ToUpper(m)
	}
	return MethodGuard{Methods: up}
}

type route struct {
	handler component.ID
	guard   MethodGuard
	path    string
}

// pathNode is one trie vertex. A path's terminal node carries one route per
// distinct method guard key ("*" for the any-method guard).
type pathNode struct {
	literal  map[string]*pathNode
	param    *pathNode
	paramName string
	catchAll *pathNode
	catchAllName string

	routes map[string]route // method key ("*" or an uppercased verb) -> route
	path   string            // the template that first reached this node, for diagnostics
}

func newPathNode() *pathNode { return &pathNode{literal: map[string]*pathNode{}} }

// pathTrie is the level-2 structure within a single domain: path segments to
// handlers, grouped by method.
type pathTrie struct {
	root *pathNode
}

func newPathTrie() *pathTrie { return &pathTrie{root: newPathNode()} }

// insert registers path/guard/handler, reporting a conflict if an
// incompatible route already occupies that trie position.
func (t *pathTrie) insert(path string, guard MethodGuard, handlerID component.ID) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	n := t.root
	for _, s := range segments {
		switch s.kind {
		case segLiteral:
			child, ok := n.literal[s.text]
			if !ok {
				child = newPathNode()
				n.literal[s.text] = child
			}
			n = child
		case segParam:
			if n.param == nil {
				n.param = newPathNode()
				n.paramName = s.name
			} else if n.paramName != s.name {
				return fmt.Errorf("path %q conflicts with an existing route: parameter name %q doesn't match the already-registered %q at the same position", path, s.name, n.paramName)
			}
			n = n.param
		case segCatchAll:
			if n.catchAll == nil {
				n.catchAll = newPathNode()
				n.catchAllName = s.name
			} else if n.catchAllName != s.name {
				return fmt.Errorf("path %q conflicts with an existing route: catch-all parameter name %q doesn't match the already-registered %q", path, s.name, n.catchAllName)
			}
			n = n.catchAll
		}
	}

	if n.path != "" && n.path != path {
		return fmt.Errorf("path %q conflicts with the already-registered path %q: they resolve to the same trie position", path, n.path)
	}
	n.path = path

	if n.routes == nil {
		n.routes = map[string]route{}
	}
	keys := guardKeys(guard)
	for _, key := range keys {
		if existing, ok := n.routes[key]; ok && existing.handler != handlerID {
			return fmt.Errorf("method conflict on path %q: %q is already handled by a different callable", path, key)
		}
		n.routes[key] = route{handler: handlerID, guard: guard, path: path}
	}
	return nil
}

func guardKeys(g MethodGuard) []string {
	if g.Any {
		return []string{"*"}
	}
	return g.Methods
}

// lookup walks segments against the trie, preferring literal matches over
// parameters over the catch-all at every level (matchit's own priority
// order), returning the terminal node and any captured parameters.
func (t *pathTrie) lookup(path string) (*pathNode, map[string]string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	params := map[string]string{}
	n := t.root
	for i, p := range parts {
		if child, ok := n.literal[p]; ok {
			n = child
			continue
		}
		if n.param != nil {
			params[n.paramName] = p
			n = n.param
			continue
		}
		if n.catchAll != nil {
			params[n.catchAllName] = strings.Join(parts[i:], "/")
			return n.catchAll, params
		}
		return nil, nil
	}
	return n, params
}

// allowedMethods returns the union of method keys registered at node, or nil
// if the node (or the match) doesn't exist.
func allowedMethods(n *pathNode) []string {
	if n == nil {
		return nil
	}
	var methods []string
	for key, r := range n.routes {
		if key == "*" {
			return nil // any-method guard present: no 405 set is meaningful
		}
		_ = r
		methods = append(methods, key)
	}
	return methods
}
