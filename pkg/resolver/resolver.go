// Package resolver locates a named skill across the project and global
// stores.
package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/logger"
)

// Origin says whether a Source is authored content or a compiled entry.
type Origin string

const (
	OriginSource  Origin = "source"
	OriginRuntime Origin = "runtime"
)

// Source is a resolved skill location.
type Source struct {
	Name   string
	Dir    string
	Scope  config.Scope
	Origin Origin
	// ReadOnly sources come from the runtime store and must never be
	// recompiled.
	ReadOnly bool
}

// Options narrows a lookup. A zero Scope searches project then global.
type Options struct {
	Scope                config.Scope
	AllowRuntimeFallback bool
}

// Resolver resolves skill names against a Layout.
type Resolver struct {
	layout config.Layout
}

// New creates a Resolver for layout.
func New(layout config.Layout) *Resolver {
	return &Resolver{layout: layout}
}

// ValidName reports whether name can be a single directory component.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

type candidate struct {
	dir    string
	scope  config.Scope
	origin Origin
}

// Resolve returns the first existing candidate for name. Project sources win
// over global sources. Runtime entries are considered only when no source
// exists and opts.AllowRuntimeFallback is set; the result is then ReadOnly.
func (r *Resolver) Resolve(ctx context.Context, name string, opts Options) (*Source, error) {
	if !ValidName(name) {
		return nil, errcode.New(errcode.SkillNotFound, "invalid skill name %q", name)
	}

	for _, c := range r.candidates(name, opts) {
		info, err := os.Stat(c.dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if c.origin == OriginRuntime {
			if _, err := os.Stat(filepath.Join(c.dir, config.MetaDir, "manifest.json")); err != nil {
				continue
			}
		}
		abs, err := filepath.Abs(c.dir)
		if err != nil {
			return nil, errcode.Wrap(err, errcode.IO, "failed to resolve %s", c.dir)
		}
		logger.G(ctx).WithField("skill", name).WithField("dir", abs).
			WithField("scope", c.scope).WithField("origin", c.origin).Debug("resolved skill")
		return &Source{
			Name:     name,
			Dir:      abs,
			Scope:    c.scope,
			Origin:   c.origin,
			ReadOnly: c.origin == OriginRuntime,
		}, nil
	}

	return nil, errcode.New(errcode.SkillNotFound, "skill '%s' not found", name)
}

func (r *Resolver) candidates(name string, opts Options) []candidate {
	var scopes []config.Scope
	switch opts.Scope {
	case config.ScopeProject:
		scopes = []config.Scope{config.ScopeProject}
	case config.ScopeGlobal:
		scopes = []config.Scope{config.ScopeGlobal}
	default:
		scopes = []config.Scope{config.ScopeProject, config.ScopeGlobal}
	}

	var out []candidate
	for _, s := range scopes {
		if dir := r.layout.Sources(s); dir != "" {
			out = append(out, candidate{dir: filepath.Join(dir, name), scope: s, origin: OriginSource})
		}
	}
	if opts.AllowRuntimeFallback {
		for _, s := range scopes {
			if dir := r.layout.Runtime(s); dir != "" {
				out = append(out, candidate{dir: filepath.Join(dir, name), scope: s, origin: OriginRuntime})
			}
		}
	}
	return out
}

// List returns the skills present in the stores opts selects, project
// entries first. A name already seen in an earlier store is skipped.
func (r *Resolver) List(opts Options) []*Source {
	seen := map[string]bool{}
	var out []*Source
	for _, c := range r.candidates("", opts) {
		store := c.dir
		entries, err := os.ReadDir(store)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || seen[e.Name()] {
				continue
			}
			seen[e.Name()] = true
			out = append(out, &Source{
				Name:     e.Name(),
				Dir:      filepath.Join(store, e.Name()),
				Scope:    c.scope,
				Origin:   c.origin,
				ReadOnly: c.origin == OriginRuntime,
			})
		}
	}
	return out
}
