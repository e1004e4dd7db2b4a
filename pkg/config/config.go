// Package config loads the TOML-backed values a Blueprint's Config
// components are bound against (§3's "Config type... a prebuilt value sourced
// from configuration, keyed by a string identifier fragment"). Grounded on
// this stack's defaults-then-file-then-env configuration-loading pattern,
// ported from a YAML/struct-tag shape to a flat, Blueprint-declared key space
// since a Config component's key isn't known until the Blueprint is loaded.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store is the flat key -> value set a compiled application's Config
// components are resolved against.
type Store struct {
	values map[string]any
}

// Load reads path as TOML, flattening nested tables into dot-joined keys
// (e.g. `[db]` with `port = 5` becomes the key "db.port"), then overlays any
// PAVEX_<KEY> environment variable — '.' replaced with '_', upper-cased —
// over the file's value for that key. An empty path loads an empty Store, so
// every key lookup fails and every Config component is diagnosed as unbound.
func Load(path string) (*Store, error) {
	values := map[string]any{}
	if path != "" {
		var raw map[string]any
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		flatten("", raw, values)
	}
	for key := range values {
		envKey := "PAVEX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if v, ok := os.LookupEnv(envKey); ok {
			values[key] = v
		}
	}
	return &Store{values: values}, nil
}

func flatten(prefix string, raw map[string]any, out map[string]any) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Lookup reports whether key has a configured value, and returns it. A nil
// Store (no --config flag supplied) always reports not found.
func (s *Store) Lookup(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}
