// Package doccache implements the crate documentation cache described in §6:
// a read-through interface over per-crate documentation summaries, backed by
// a SQLite database (one file per compiler version, so no schema migrations
// are required) plus an access-log used to prefetch the crates touched by
// the previous compilation.
package doccache

import "fmt"

// ItemKind is the kind of a documented item.
type ItemKind string

const (
	ItemFunction  ItemKind = "function"
	ItemStruct    ItemKind = "struct"
	ItemEnum      ItemKind = "enum"
	ItemTrait     ItemKind = "trait"
	ItemTypeAlias ItemKind = "type_alias"
	ItemReExport  ItemKind = "re_export"
	ItemEnumVariant ItemKind = "enum_variant"
	ItemMacro     ItemKind = "macro"
)

// FunctionInput is the syntactic shape of one input of a documented function,
// as required by §4.1(c): enough to resolve a type without re-parsing Rust.
type FunctionInput struct {
	Name     string
	TypeExpr string // e.g. "&'a str", "Vec<T>"
}

// Item is one documented entity: its kind, visibility, generics, and for
// functions the syntactic shape of every input and the return type.
type Item struct {
	Path        []string
	Kind        ItemKind
	Public      bool
	Generics    []string
	Inputs      []FunctionInput // functions only
	OutputExpr  string          // functions only; empty for side-effect-only
	Async       bool            // functions only
	AliasTarget []string        // type_alias / re_export only: canonical path
	Capabilities []string       // e.g. "Send", "Sync", "Clone" — queried by the singleton-safety check
}

// Crate is a documentation summary for one package: every public item keyed
// by its full path.
type Crate struct {
	Name  string
	Items map[string]Item
}

func (c *Crate) Lookup(path []string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	item, ok := c.Items[joinPath(path)]
	return item, ok
}

func joinPath(path []string) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += "::"
		}
		s += p
	}
	return s
}

// CacheKeyKind distinguishes toolchain crates (std, core, alloc) from
// third-party crates.
type CacheKeyKind int

const (
	ToolchainKind CacheKeyKind = iota
	ThirdPartyKind
)

// CacheKey is either ToolchainCrate(name) or ThirdPartyCrate(package id,
// version, source, feature set, toolchain fingerprint, rustdoc options), per §6.
type CacheKey struct {
	Kind CacheKeyKind

	// ToolchainKind
	ToolchainName string

	// ThirdPartyKind
	PackageID            string
	Version              string
	Source               string
	FeatureSet           []string
	ToolchainFingerprint string
	RustdocOptions       string
}

func ToolchainCrate(name string) CacheKey {
	return CacheKey{Kind: ToolchainKind, ToolchainName: name}
}

func ThirdPartyCrate(packageID, version, source string, features []string, toolchainFingerprint, rustdocOptions string) CacheKey {
	return CacheKey{
		Kind:                 ThirdPartyKind,
		PackageID:            packageID,
		Version:              version,
		Source:               source,
		FeatureSet:           append([]string(nil), features...),
		ToolchainFingerprint: toolchainFingerprint,
		RustdocOptions:       rustdocOptions,
	}
}

// String renders a stable cache-key string, used both as the SQLite primary
// key and as the in-memory memoization key.
func (k CacheKey) String() string {
	if k.Kind == ToolchainKind {
		return "toolchain:" + k.ToolchainName
	}
	feats := ""
	for _, f := range k.FeatureSet {
		feats += f + ","
	}
	return fmt.Sprintf("thirdparty:%s@%s:%s:features=%s:fp=%s:opts=%s",
		k.PackageID, k.Version, k.Source, feats, k.ToolchainFingerprint, k.RustdocOptions)
}

// CrateCollection is the external collaborator C1 consults, lazily and
// memoized (§4.1).
type CrateCollection interface {
	Get(key CacheKey) (*Crate, bool, error)
	Insert(key CacheKey, crate *Crate) error
	GetAccessLog(projectFingerprint string) ([]string, error)
	PersistAccessLog(projectFingerprint string, packageIDs []string) error
}
