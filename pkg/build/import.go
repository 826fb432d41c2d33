package build

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/skills"
)

// ImportOptions controls Import. Build.Scope selects the destination
// store; auto means the project store when there is a project.
type ImportOptions struct {
	Name      string
	Overwrite bool
	Build     Options
}

// ImportPlan is where Import places a skill.
type ImportPlan struct {
	Source string
	Name   string
	Scope  config.Scope
	Dest   string
	// InPlace is set when Source already is the store directory, so nothing
	// is copied.
	InPlace bool
}

// PlanImport validates the skill at path and resolves its destination.
// The name comes from opts.Name, then the frontmatter name, then the
// directory name.
func (b *Builder) PlanImport(path string, opts ImportOptions) (*ImportPlan, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "invalid path %s", path)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errcode.New(errcode.SkillNotFound, "%s is not a directory", path)
	}
	abs = fsutil.Resolve(abs)
	primary := filepath.Join(abs, skills.PrimaryDocument)
	if _, err := os.Stat(primary); err != nil {
		return nil, errcode.New(errcode.MissingPrimaryDocument, "not a valid skill: %s (missing %s)", abs, skills.PrimaryDocument)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(abs)
		if doc, err := skills.ParseFile(primary); err == nil && doc.Metadata.Name != "" {
			name = doc.Metadata.Name
		}
	}
	if !resolver.ValidName(name) {
		return nil, errcode.New(errcode.SkillNotFound, "invalid skill name %q", name)
	}

	scope := opts.Build.Scope
	if scope == "" {
		scope = config.ScopeGlobal
		if b.cfg.Layout.HasProject() {
			scope = config.ScopeProject
		}
	}
	if scope == config.ScopeProject && !b.cfg.Layout.HasProject() {
		return nil, errcode.New(errcode.IO, "no project found; run skc init or import with --global")
	}

	dest := fsutil.Resolve(filepath.Join(b.cfg.Layout.Sources(scope), name))
	plan := &ImportPlan{Source: abs, Name: name, Scope: scope, Dest: dest}
	switch {
	case plan.Dest == abs:
		plan.InPlace = true
	case fsutil.Within(abs, dest), fsutil.Within(dest, abs):
		return nil, errcode.New(errcode.IO, "cannot import %s into %s: the directories overlap", abs, plan.Dest)
	}
	return plan, nil
}

// Import copies the skill directory at path into a source store and builds
// it. A skill already in its store directory is built without copying.
func (b *Builder) Import(ctx context.Context, path string, opts ImportOptions) (*Report, error) {
	plan, err := b.PlanImport(path, opts)
	if err != nil {
		return nil, err
	}
	log := logger.G(ctx).WithField("skill", plan.Name).WithField("dest", plan.Dest)

	if plan.InPlace {
		log.Info("skill is already in the source store, building in place")
	} else {
		if fsutil.Exists(plan.Dest) {
			if !opts.Overwrite {
				return nil, errcode.New(errcode.IO, "skill %s already exists at %s (use --force to overwrite)", plan.Name, plan.Dest)
			}
			if err := os.RemoveAll(plan.Dest); err != nil {
				return nil, errcode.Wrap(err, errcode.IO, "failed to remove %s", plan.Dest)
			}
		}

		err = fsutil.CopyDir(plan.Source, plan.Dest, fsutil.CopyOptions{
			Skip: func(rel string, d fs.DirEntry) bool {
				return d.IsDir() && (fingerprint.IsExcludedDir(d.Name()) || strings.HasPrefix(d.Name(), ".skillc"))
			},
		})
		if err != nil {
			os.RemoveAll(plan.Dest)
			return nil, errcode.Wrap(err, errcode.IO, "failed to import %s", path)
		}
		log.Info("imported skill")
	}

	buildOpts := opts.Build
	buildOpts.Scope = plan.Scope
	return b.Build(ctx, plan.Name, buildOpts)
}
