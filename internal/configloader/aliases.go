// SPDX-License-Identifier: AGPL-3.0-or-later
package configloader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/types"
)

// Catalog returns the built-in catalog extended with the configured models.
func Catalog(cfg *types.Config) (*catalog.Catalog, error) {
	if cfg == nil || len(cfg.Models) == 0 {
		return catalog.Default(), nil
	}
	cat, err := catalog.Default().With(cfg.Models...)
	if err != nil {
		return nil, fmt.Errorf("config models: %w", err)
	}
	return cat, nil
}

// Aliases normalises the configured aliases against cat. Targets must be
// catalog identifiers; an alias may not shadow an identifier.
func Aliases(cfg *types.Config, cat *catalog.Catalog) (map[string]string, error) {
	out := make(map[string]string)
	if cfg == nil {
		return out, nil
	}
	for _, alias := range cfg.Aliases {
		from := strings.TrimSpace(alias.From)
		to := strings.TrimSpace(alias.To)
		if from == "" || to == "" {
			continue
		}
		if _, ok := cat.Lookup(to); !ok {
			return nil, fmt.Errorf("invalid alias %q -> %q: unknown model", from, to)
		}
		if _, ok := cat.Lookup(from); ok {
			return nil, fmt.Errorf("invalid alias %q: shadows a catalog model", from)
		}
		if prev, dup := out[from]; dup && prev != to {
			return nil, fmt.Errorf("alias %q declared twice (%q, %q)", from, prev, to)
		}
		out[from] = to
	}
	return out, nil
}

// ResolveAlias maps id through aliases, returning id unchanged when no alias applies.
func ResolveAlias(aliases map[string]string, id string) string {
	if to, ok := aliases[id]; ok {
		return to
	}
	return id
}

// AliasNames returns the alias names in sorted order.
func AliasNames(aliases map[string]string) []string {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
