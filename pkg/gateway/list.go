package gateway

import (
	"context"
	"sort"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/pkg/errors"
)

// Item is one row of List.
type Item struct {
	Name      string            `json:"name"`
	Scope     config.Scope      `json:"scope"`
	SourceDir string            `json:"source,omitempty"`
	EntryDir  string            `json:"entry,omitempty"`
	Manifest  *runtime.Manifest `json:"manifest,omitempty"`
	// Stale is set when the source changed since the last build.
	Stale bool `json:"stale"`
}

// Built reports whether the item has a runtime entry.
func (it Item) Built() bool { return it.Manifest != nil }

// List returns every known skill whose name matches pattern, project
// entries first then by name. Sources and runtime-only entries are both
// listed.
func (g *Gateway) List(ctx context.Context, pattern string) ([]Item, error) {
	var matcher glob.Glob
	if pattern != "" {
		m, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		matcher = m
	}

	seen := map[string]bool{}
	var items []Item
	for _, src := range g.resolver.List(resolver.Options{AllowRuntimeFallback: true}) {
		if seen[src.Name] || (matcher != nil && !matcher.Match(src.Name)) {
			continue
		}
		seen[src.Name] = true

		store := runtime.ForScope(g.cfg.Layout, src.Scope)
		it := Item{Name: src.Name, Scope: src.Scope, EntryDir: store.EntryDir(src.Name)}
		if src.Origin == resolver.OriginRuntime {
			it.EntryDir = src.Dir
		} else {
			it.SourceDir = src.Dir
		}
		if m, err := runtime.ReadManifest(it.EntryDir); err == nil {
			it.Manifest = m
		}
		if it.SourceDir != "" && it.Manifest != nil {
			if fp, err := fingerprint.Compute(ctx, it.SourceDir); err == nil {
				it.Stale = fp.String() != it.Manifest.SourceHash
			}
		}
		items = append(items, it)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Scope != items[j].Scope {
			return items[i].Scope == config.ScopeProject
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}
