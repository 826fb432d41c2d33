// Package deploy publishes compiled runtime entries into the skill
// directories of agent tools. Each target is provisioned independently with
// the first link strategy that works on the platform.
package deploy

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jingkaihe/skillc/pkg/errcode"
)

const (
	rootPlaceholder  = "{root}"
	skillPlaceholder = "{skill}"
)

// builtinTargets maps agent ids to the dot-directory they read skills from.
var builtinTargets = map[string]string{
	"claude":   ".claude",
	"codex":    ".codex",
	"copilot":  ".github",
	"cursor":   ".cursor",
	"gemini":   ".gemini",
	"kiro":     ".kiro",
	"opencode": ".opencode",
	"trae":     ".trae",
}

// Target is a resolved deploy destination template.
type Target struct {
	ID       string
	Template string
	// Custom targets were given as a path rather than an id.
	Custom bool
}

// Registry resolves target ids to templates.
type Registry struct {
	templates map[string]string
}

// NewRegistry returns the built-in registry with overrides applied on top.
// Override values are templates that may use {root} and {skill}.
func NewRegistry(overrides map[string]string) *Registry {
	templates := make(map[string]string, len(builtinTargets)+len(overrides))
	for id, dir := range builtinTargets {
		templates[id] = filepath.Join(rootPlaceholder, dir, "skills", skillPlaceholder)
	}
	for id, tmpl := range overrides {
		if strings.TrimSpace(tmpl) == "" {
			continue
		}
		templates[strings.ToLower(id)] = tmpl
	}
	return &Registry{templates: templates}
}

// IDs returns the known target ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsCustomPath reports whether a target is spelled as a path.
func IsCustomPath(target string) bool {
	return strings.HasPrefix(target, "~") || strings.ContainsAny(target, `/\`)
}

// Lookup resolves a target id or custom path.
func (r *Registry) Lookup(target string) (Target, error) {
	if IsCustomPath(target) {
		return Target{ID: target, Template: target, Custom: true}, nil
	}
	tmpl, ok := r.templates[strings.ToLower(target)]
	if !ok {
		return Target{}, errcode.New(errcode.DeployFailed, "unknown deploy target %q (known: %s)",
			target, strings.Join(r.IDs(), ", "))
	}
	return Target{ID: target, Template: tmpl}, nil
}

// Path expands the target for skill. root is the project root for project
// deploys and home for global ones.
func (t Target) Path(root, home, skill string) string {
	p := t.Template
	p = strings.ReplaceAll(p, skillPlaceholder, skill)
	p = strings.ReplaceAll(p, rootPlaceholder, root)
	if p == "~" {
		p = home
	} else if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		p = filepath.Join(home, p[2:])
	}
	if t.Custom && !strings.Contains(t.Template, skillPlaceholder) {
		p = filepath.Join(p, skill)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(os.ExpandEnv(p))
}
