// Package gateway implements the read side of skillc: the commands agents
// call instead of loading a whole skill. Every read is recorded in the
// access log.
package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillc/pkg/analytics"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/index"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
)

// Gateway serves read commands against built skills.
type Gateway struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	access   *analytics.Logger
	warnings []errcode.Warning
}

// New returns a Gateway. access may be nil to disable access logging.
func New(cfg *config.Config, access *analytics.Logger) *Gateway {
	return &Gateway{cfg: cfg, resolver: resolver.New(cfg.Layout), access: access}
}

// Warnings returns and clears the warnings collected by read commands.
func (g *Gateway) Warnings() []errcode.Warning {
	w := g.warnings
	g.warnings = nil
	return w
}

// Entry is a located, built skill.
type Entry struct {
	Skill     string
	Scope     config.Scope
	Dir       string
	SourceDir string
	Manifest  *runtime.Manifest
	ReadOnly  bool
}

// IndexPath is the entry's search database.
func (e *Entry) IndexPath() string {
	return runtime.IndexPath(e.Dir, e.Manifest.SourcePath)
}

// Locate finds the runtime entry of skill. Sources win over runtime-only
// entries; a source that was never built is reported as an unusable index.
func (g *Gateway) Locate(ctx context.Context, skill string) (*Entry, error) {
	src, err := g.resolver.Resolve(ctx, skill, resolver.Options{AllowRuntimeFallback: true})
	if err != nil {
		return nil, err
	}

	store := runtime.ForScope(g.cfg.Layout, src.Scope)
	dir := store.EntryDir(skill)
	if src.Origin == resolver.OriginRuntime {
		dir = src.Dir
	}
	m, err := runtime.ReadManifest(dir)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IndexUnusable, "skill '%s' has not been built; run 'skc build %s'", skill, skill)
	}

	e := &Entry{Skill: skill, Scope: src.Scope, Dir: dir, Manifest: m, ReadOnly: src.ReadOnly}
	if src.Origin == resolver.OriginSource {
		e.SourceDir = src.Dir
	}
	return e, nil
}

func (g *Gateway) log(ctx context.Context, command string, e *Entry, skill, section string, args []string, err error) {
	if g.access == nil || skill == "" {
		return
	}
	a := analytics.Access{Command: command, Skill: skill, Section: section, Args: args, Err: err, Scope: config.ScopeGlobal}
	if g.cfg.Layout.HasProject() {
		a.Scope = config.ScopeProject
	}
	if e != nil {
		a.Scope = e.Scope
		a.SkillPath = e.SourceDir
		if a.SkillPath == "" {
			a.SkillPath = e.Manifest.SourcePath
		}
	}
	g.access.Log(ctx, a)
}

// Search queries one skill, or every built skill when skill is empty.
func (g *Gateway) Search(ctx context.Context, skill, query string, limit int) (matches []index.Match, err error) {
	var e *Entry
	defer func() { g.log(ctx, "search", e, skill, "", []string{skill, query}, err) }()

	if skill == "" {
		var targets []index.Target
		items, lerr := g.List(ctx, "")
		if lerr != nil {
			return nil, lerr
		}
		for _, it := range items {
			if it.Manifest != nil {
				targets = append(targets, index.Target{Skill: it.Name, Path: runtime.IndexPath(it.EntryDir, it.Manifest.SourcePath)})
			}
		}
		return index.SearchAll(ctx, targets, query, limit)
	}

	if _, err = index.BuildQuery(query); err != nil {
		return nil, err
	}
	e, err = g.Locate(ctx, skill)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(ctx, e.IndexPath())
	if err != nil {
		return nil, err
	}
	defer ix.Close()
	matches, err = ix.Search(ctx, query, limit)
	for i := range matches {
		matches[i].Skill = skill
	}
	return matches, err
}

// Outline returns the heading outline of skill.
func (g *Gateway) Outline(ctx context.Context, skill string) (hs []index.Heading, err error) {
	var e *Entry
	defer func() { g.log(ctx, "outline", e, skill, "", []string{skill}, err) }()

	e, err = g.Locate(ctx, skill)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(ctx, e.IndexPath())
	if err != nil {
		return nil, err
	}
	defer ix.Close()
	return ix.Headings(ctx)
}

// Section is the content of one heading.
type Section struct {
	Skill   string        `json:"skill"`
	Heading index.Heading `json:"heading"`
	Content string        `json:"content"`
}

// Show returns the section of skill titled title. When several headings
// match, the first in outline order wins and a W001 warning is recorded.
func (g *Gateway) Show(ctx context.Context, skill, title string) (sec *Section, err error) {
	var e *Entry
	defer func() { g.log(ctx, "show", e, skill, title, []string{skill, title}, err) }()

	e, err = g.Locate(ctx, skill)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(ctx, e.IndexPath())
	if err != nil {
		return nil, err
	}
	defer ix.Close()

	found, err := ix.FindHeadings(ctx, title)
	if err != nil {
		return nil, err
	}
	if len(found) > 1 {
		g.warnings = append(g.warnings, errcode.Warnf(errcode.WarnMultipleMatches,
			"%d sections match '%s'; showing %s:%d", len(found), title, found[0].File, found[0].StartLine))
	}
	content, err := ix.SectionContent(ctx, found[0].File, found[0].StartLine)
	if err != nil {
		return nil, err
	}
	return &Section{Skill: skill, Heading: found[0], Content: content}, nil
}

// Open returns the content of a file inside the skill's source.
func (g *Gateway) Open(ctx context.Context, skill, rel string) (content string, err error) {
	var e *Entry
	defer func() { g.log(ctx, "open", e, skill, "", []string{skill, rel}, err) }()

	e, err = g.Locate(ctx, skill)
	if err != nil {
		return "", err
	}
	root := e.SourceDir
	if root == "" {
		root = e.Manifest.SourcePath
	}
	path, err := within(root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errcode.Wrap(err, errcode.SectionNotFound, "cannot open '%s' in %s", rel, skill)
	}
	return string(data), nil
}

// Sources lists the files of the skill's source.
func (g *Gateway) Sources(ctx context.Context, skill string) (files []string, err error) {
	var e *Entry
	defer func() { g.log(ctx, "sources", e, skill, "", []string{skill}, err) }()

	e, err = g.Locate(ctx, skill)
	if err != nil {
		return nil, err
	}
	root := e.SourceDir
	if root == "" {
		root = e.Manifest.SourcePath
	}
	entries, err := fingerprint.Entries(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		files = append(files, en.Path)
	}
	return files, nil
}

// within joins rel onto root and refuses results outside root, following
// symlinks.
func within(root, rel string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errcode.Wrap(err, errcode.IO, "cannot resolve %s", root)
	}
	path := filepath.Join(realRoot, filepath.FromSlash(rel))
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if path != realRoot && !strings.HasPrefix(path, realRoot+string(filepath.Separator)) {
		return "", errcode.New(errcode.PathEscape, "'%s' is outside the skill", rel)
	}
	return path, nil
}
