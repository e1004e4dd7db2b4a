// Package component implements C2: interning user + derived components,
// tracking lifecycle, scope, cloning strategy and error-handler links, and
// synthesizing the two kinds of derived components described in §4.2.
// Match-result transformers are synthesized eagerly, when Intern sees a
// fallible callable; borrow transformers are not synthesized at Intern time,
// only when SynthesizeBorrowTransformer is called for an owner.
package component

import (
	"fmt"
	"strings"

	"github.com/pavex-go/pavexc/pkg/diagnostics"
	"github.com/pavex-go/pavexc/pkg/resolver"
	"github.com/pavex-go/pavexc/pkg/scopegraph"
	"github.com/pavex-go/pavexc/pkg/signature"
	"github.com/pavex-go/pavexc/pkg/types"
)

type Lifecycle int

const (
	Singleton Lifecycle = iota
	RequestScoped
	Transient
)

type CloningStrategy int

const (
	NeverClone CloningStrategy = iota
	CloneIfNecessary
)

type Kind int

const (
	KindConstructor Kind = iota
	KindConfig
	KindPrebuilt
	KindRequestHandler
	KindWrappingMiddleware
	KindPreProcessing
	KindPostProcessing
	KindErrorHandler
	KindErrorObserver
	KindTransformer
	// synthetic, interned only by the DB itself (§4.2)
	KindMatchOk
	KindMatchErr
	KindBorrowTransformer
	KindCloneTransformer
)

func (k Kind) String() string {
	switch k {
	case KindConstructor:
		return "constructor"
	case KindConfig:
		return "config"
	case KindPrebuilt:
		return "prebuilt"
	case KindRequestHandler:
		return "request_handler"
	case KindWrappingMiddleware:
		return "wrapping_middleware"
	case KindPreProcessing:
		return "pre_processing_middleware"
	case KindPostProcessing:
		return "post_processing_middleware"
	case KindErrorHandler:
		return "error_handler"
	case KindErrorObserver:
		return "error_observer"
	case KindTransformer:
		return "transformer"
	case KindMatchOk:
		return "match_ok"
	case KindMatchErr:
		return "match_err"
	case KindBorrowTransformer:
		return "borrow_transformer"
	case KindCloneTransformer:
		return "clone_transformer"
	default:
		return "unknown"
	}
}

// LintLevel is the override a component's registration site may set for a
// named lint.
type LintLevel int

const (
	LintAllow LintLevel = iota
	LintWarn
	LintDeny
)

// Site is a registration site: file + span, for diagnostics.
type Site struct {
	File string
	Line int
}

// ID is a dense component identifier.
type ID int

const NoID ID = -1

// UserComponent is the raw, pre-resolution shape the Blueprint hands to the
// DB. Exactly the fields relevant to Kind are meaningful; see field docs.
type UserComponent struct {
	Kind Kind

	// Path is the textual callable/type path to resolve via C1. Meaningful
	// for every kind except KindPrebuilt.
	Path string

	// ConfigKey is the configuration identifier fragment. KindConfig only.
	ConfigKey string

	// PrebuiltType is already-resolved (supplied by the application-state
	// builder's caller, not discovered via C1). KindPrebuilt only.
	PrebuiltType *types.Resolved

	Lifecycle       Lifecycle
	CloningStrategy CloningStrategy
	Scope           scopegraph.ID
	Site            Site
	Lints           map[string]LintLevel

	// HandlesErrorType is the Err type this error handler/observer targets.
	// KindErrorHandler / KindErrorObserver only.
	HandlesErrorType *types.Resolved

	// Target is the already-interned component whose output this
	// transformer is applied to. KindTransformer only.
	Target ID
}

// Component is a fully interned, classified component.
type Component struct {
	ID              ID
	Kind            Kind
	Lifecycle       Lifecycle
	CloningStrategy CloningStrategy
	Scope           scopegraph.ID
	Site            Site
	Lints           map[string]LintLevel

	Signature  *signature.Signature // nil for config/prebuilt
	OutputType *types.Resolved

	ErrorHandlerID ID // NoID if none linked yet
	TransformerIDs []ID

	FallibleParent ID // KindMatchOk/KindMatchErr only
	OwnedParent    ID // KindBorrowTransformer only
}

func (c *Component) Fallible() bool {
	return c.Signature != nil && c.Signature.IsFallible()
}

// DB is the append-only component database (append-only except for the
// borrow checker's clone-node insertions, §4.6).
type DB struct {
	sink     *diagnostics.Sink
	scopes   *scopegraph.Graph
	resolver *resolver.Resolver

	next       ID
	components map[ID]*Component
	internKey  map[string]ID // content-key -> id, for get_or_intern dedup
	matchOk    map[ID]ID     // fallible parent -> synthesized KindMatchOk id
	matchErr   map[ID]ID     // fallible parent -> synthesized KindMatchErr id
}

func New(sink *diagnostics.Sink, scopes *scopegraph.Graph, r *resolver.Resolver) *DB {
	return &DB{
		sink:       sink,
		scopes:     scopes,
		resolver:   r,
		components: map[ID]*Component{},
		internKey:  map[string]ID{},
		matchOk:    map[ID]ID{},
		matchErr:   map[ID]ID{},
	}
}

func contentKey(u UserComponent) string {
	return fmt.Sprintf("%d|%s|%s|%d|%d|%d", u.Kind, u.Path, u.ConfigKey, u.Scope, u.Lifecycle, u.CloningStrategy)
}

// Intern resolves u's callable (if any) via C1, classifies it, and interns it.
// Two Intern calls with equal content return the same id ("get_or_intern").
// Resolution failures are pushed as diagnostics and the component is omitted
// (returns NoID, false) so downstream stages continue with a best-effort DB.
func (db *DB) Intern(u UserComponent) (ID, bool) {
	key := contentKey(u)
	if id, ok := db.internKey[key]; ok {
		return id, true
	}

	c := &Component{
		Kind:            u.Kind,
		Lifecycle:       u.Lifecycle,
		CloningStrategy: u.CloningStrategy,
		Scope:           u.Scope,
		Site:            u.Site,
		Lints:           u.Lints,
		ErrorHandlerID:  NoID,
		FallibleParent:  NoID,
		OwnedParent:     NoID,
	}

	switch u.Kind {
	case KindPrebuilt:
		if types.Specializable(u.PrebuiltType) || hasLifetime(u.PrebuiltType) {
			db.sink.Errorf("signature", "prebuilt type %q at %s:%d may not contain lifetime parameters or unassigned generics",
				u.PrebuiltType, u.Site.File, u.Site.Line)
			return NoID, false
		}
		c.OutputType = u.PrebuiltType

	case KindConfig:
		t, ok := db.resolver.ResolveType(u.Path)
		if !ok {
			return NoID, false
		}
		if types.Specializable(t) || hasLifetime(t) {
			db.sink.Errorf("signature", "config type %q (key %q) at %s:%d may not contain lifetime parameters or unassigned generics",
				t, u.ConfigKey, u.Site.File, u.Site.Line)
			return NoID, false
		}
		c.OutputType = t

	default:
		sig, ok := db.resolver.ResolveCallable(u.Path)
		if !ok {
			return NoID, false
		}
		c.Signature = sig
		c.OutputType = sig.Output
		if u.Kind == KindErrorHandler || u.Kind == KindErrorObserver {
			// carried separately; linking happens in LinkErrorHandlers
		}
	}

	id := db.next
	db.next++
	c.ID = id
	db.components[id] = c
	db.internKey[key] = id

	if c.Fallible() {
		db.synthesizeMatchTransformers(c)
	}

	return id, true
}

func hasLifetime(t *types.Resolved) bool {
	if t == nil {
		return false
	}
	if t.Kind == types.KindPath {
		for _, g := range t.Generics {
			if g.IsLifetime() {
				return true
			}
			if g.Type != nil && hasLifetime(g.Type) {
				return true
			}
		}
	}
	if t.Kind == types.KindReference {
		return hasLifetime(t.Inner)
	}
	return false
}

// synthesizeMatchTransformers interns the Ok and Err synthetic transformers
// for a fallible component, per §4.2(1).
func (db *DB) synthesizeMatchTransformers(parent *Component) {
	res, _ := parent.Signature.AsResult()

	okID := db.next
	db.next++
	db.components[okID] = &Component{
		ID: okID, Kind: KindMatchOk, Lifecycle: parent.Lifecycle, Scope: parent.Scope,
		OutputType: res.OkType, FallibleParent: parent.ID, ErrorHandlerID: NoID, OwnedParent: NoID,
	}

	errID := db.next
	db.next++
	db.components[errID] = &Component{
		ID: errID, Kind: KindMatchErr, Lifecycle: parent.Lifecycle, Scope: parent.Scope,
		OutputType: res.ErrType, FallibleParent: parent.ID, ErrorHandlerID: NoID, OwnedParent: NoID,
	}

	db.matchOk[parent.ID] = okID
	db.matchErr[parent.ID] = errID
}

// MatchTransformerIDs returns the synthesized Ok/Err transformer ids for a
// fallible component, per §4.2(1). The caller (pkg/pipeline) registers both
// into the constructible index right after interning the fallible
// component, so a consumer declaring the bare Ok type as an input resolves
// to the unwrapped value instead of the raw Result (§4.4).
func (db *DB) MatchTransformerIDs(parentID ID) (okID, errID ID, ok bool) {
	okID, ok = db.matchOk[parentID]
	if !ok {
		return NoID, NoID, false
	}
	errID = db.matchErr[parentID]
	return okID, errID, true
}

// SynthesizeBorrowTransformer interns a "borrow &T" synthetic transformer for
// ownerID's output type, if one doesn't already exist, per §4.2(2). Called by
// pkg/depgraph while expanding a root, when an input consumed by shared
// reference has no direct constructor but its owned type does.
func (db *DB) SynthesizeBorrowTransformer(ownerID ID) ID {
	owner := db.components[ownerID]
	if owner == nil {
		return NoID
	}
	key := fmt.Sprintf("borrow|%d", ownerID)
	if id, ok := db.internKey[key]; ok {
		return id
	}

	id := db.next
	db.next++
	db.components[id] = &Component{
		ID: id, Kind: KindBorrowTransformer, Lifecycle: owner.Lifecycle, Scope: owner.Scope,
		OutputType: types.Reference(owner.OutputType, false, false),
		OwnedParent: owner.ID, ErrorHandlerID: NoID, FallibleParent: NoID,
	}
	db.internKey[key] = id
	return id
}

// SynthesizeCloneTransformer interns a "clone T" synthetic transformer for
// ownerID's output type, if one doesn't already exist. The borrow checker
// (C6) calls this to repair a move-while-borrowed conflict when the owner's
// cloning strategy allows it.
func (db *DB) SynthesizeCloneTransformer(ownerID ID) ID {
	owner := db.components[ownerID]
	if owner == nil {
		return NoID
	}
	key := fmt.Sprintf("clone|%d", ownerID)
	if id, ok := db.internKey[key]; ok {
		return id
	}

	id := db.next
	db.next++
	db.components[id] = &Component{
		ID: id, Kind: KindCloneTransformer, Lifecycle: owner.Lifecycle, Scope: owner.Scope,
		OutputType: owner.OutputType, OwnedParent: owner.ID, ErrorHandlerID: NoID, FallibleParent: NoID,
	}
	db.internKey[key] = id
	return id
}

// LinkErrorHandler attaches handlerID as fallibleID's error handler. Per §3,
// every fallible component has zero or one error handler; a second call
// overwrites (the caller, pkg/pipeline, calls this once for each blueprint
// registration that declares an error handler).
func (db *DB) LinkErrorHandler(fallibleID, handlerID ID) {
	if c := db.components[fallibleID]; c != nil {
		c.ErrorHandlerID = handlerID
	}
}

// LinkTransformer records that transformerID is applied to targetID's output.
func (db *DB) LinkTransformer(targetID, transformerID ID) {
	if c := db.components[targetID]; c != nil {
		c.TransformerIDs = append(c.TransformerIDs, transformerID)
	}
}

func (db *DB) Lifecycle(id ID) Lifecycle             { return db.components[id].Lifecycle }
func (db *DB) ScopeID(id ID) scopegraph.ID            { return db.components[id].Scope }
func (db *DB) CloningStrategy(id ID) CloningStrategy  { return db.components[id].CloningStrategy }
func (db *DB) HydratedComponent(id ID) (*Component, bool) {
	c, ok := db.components[id]
	return c, ok
}

func (db *DB) ErrorHandlerID(id ID) (ID, bool) {
	c := db.components[id]
	if c == nil || c.ErrorHandlerID == NoID {
		return NoID, false
	}
	return c.ErrorHandlerID, true
}

func (db *DB) TransformerIDs(id ID) ([]ID, bool) {
	c := db.components[id]
	if c == nil || len(c.TransformerIDs) == 0 {
		return nil, false
	}
	return c.TransformerIDs, true
}

// FallibleID returns, for a match-result node, the fallible parent.
func (db *DB) FallibleID(id ID) ID {
	c := db.components[id]
	if c == nil {
		return NoID
	}
	return c.FallibleParent
}

// OwnedID returns, for a shared-borrow node, the underlying owned value.
func (db *DB) OwnedID(id ID) ID {
	c := db.components[id]
	if c == nil {
		return NoID
	}
	return c.OwnedParent
}

// All returns every interned component, in id order, for diagnostics and
// iteration by later stages.
func (db *DB) All() []*Component {
	out := make([]*Component, 0, len(db.components))
	for i := ID(0); i < db.next; i++ {
		if c, ok := db.components[i]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Capabilities returns the trait capabilities documented for id's output
// type (e.g. "Send", "Sync", "Clone"), looked up through the resolver's
// documentation-cache access. Empty when id's output type isn't documented
// this way (KindPrebuilt, scalars, or a lookup miss).
func (db *DB) Capabilities(id ID) []string {
	c, ok := db.components[id]
	if !ok || c.OutputType == nil {
		return nil
	}
	caps, _ := db.resolver.Capabilities(c.OutputType)
	return caps
}

// HasCapability reports whether want is present in caps.
func HasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// CheckSingletonCapabilities pushes a diagnostic for every singleton whose
// output type's documented capabilities don't include Send and Sync, or
// Clone when its cloning strategy requires it (§3's singleton-safety
// invariant, §7 error kind 6). Prebuilt types are supplied directly by the
// application-state builder's caller, not documented via the crate cache, so
// they're exempt.
func (db *DB) CheckSingletonCapabilities() {
	for id := ID(0); id < db.next; id++ {
		c, ok := db.components[id]
		if !ok || c.Lifecycle != Singleton || c.Kind == KindPrebuilt || c.OutputType == nil {
			continue
		}
		caps := db.Capabilities(id)
		var missing []string
		if !HasCapability(caps, "Send") {
			missing = append(missing, "Send")
		}
		if !HasCapability(caps, "Sync") {
			missing = append(missing, "Sync")
		}
		if c.CloningStrategy == CloneIfNecessary && !HasCapability(caps, "Clone") {
			missing = append(missing, "Clone")
		}
		if len(missing) == 0 {
			continue
		}
		db.sink.Push(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Kind:     "trait_capability",
			Message:  fmt.Sprintf("singleton %s at %s:%d is missing %s", c.OutputType, c.Site.File, c.Site.Line, strings.Join(missing, ", ")),
			Primary:  &diagnostics.Span{File: c.Site.File, Line: c.Site.Line},
			Help:     "implement the missing trait(s) for this type, or record them as documentation capabilities",
		})
	}
}

// CheckFallibleHasHandler pushes a diagnostic for every fallible component
// without a reachable error handler, per §3's invariant. Request handlers,
// middlewares and constructors are eligible to be fallible.
func (db *DB) CheckFallibleHasHandler() {
	for _, c := range db.All() {
		if !c.Fallible() {
			continue
		}
		switch c.Kind {
		case KindRequestHandler, KindWrappingMiddleware, KindPreProcessing, KindPostProcessing, KindConstructor:
		default:
			continue
		}
		if c.ErrorHandlerID == NoID {
			db.sink.Push(diagnostics.Diagnostic{
				Severity: diagnostics.SeverityError,
				Kind:     "signature",
				Message:  fmt.Sprintf("component %d (%s) is fallible but has no reachable error handler", c.ID, c.Kind),
				Primary:  &diagnostics.Span{File: c.Site.File, Line: c.Site.Line},
				Help:     "register an error handler for this component's error type",
			})
		}
	}
}
