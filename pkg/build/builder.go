// Package build orchestrates a skill build: resolve, fingerprint, compile,
// index, publish and deploy, with a cache that skips compilation when the
// source is unchanged.
package build

import (
	"context"
	"os"
	"path/filepath"
	"time"

	udiff "github.com/aymanbagabas/go-udiff"
	"github.com/jingkaihe/skillc/pkg/compiler"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/deploy"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/index"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/jingkaihe/skillc/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Options controls one build.
type Options struct {
	Scope config.Scope
	// Force recompiles even when the fingerprint matches.
	Force     bool
	Targets   []string
	NoDeploy  bool
	ForceCopy bool
	Diff      bool
}

// Builder runs builds against one configuration.
type Builder struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	compiler *compiler.Compiler
	indexer  *index.Indexer
	engine   *deploy.Engine
}

// New returns a Builder for cfg.
func New(cfg *config.Config) *Builder {
	return &Builder{
		cfg:      cfg,
		resolver: resolver.New(cfg.Layout),
		compiler: compiler.New(compiler.Options{MaxStubLines: cfg.MaxStubLines, Tokenizer: cfg.Tokenizer}),
		indexer:  index.NewIndexer(cfg.Tokenizer, index.Options{}),
		engine:   deploy.NewEngine(deploy.NewRegistry(cfg.Targets)),
	}
}

// Build compiles and deploys the skill called name. The returned error is
// set only when the skill could not be resolved, fingerprinted, compiled,
// indexed or published; deploy failures are reported per target.
func (b *Builder) Build(ctx context.Context, name string, opts Options) (*Report, error) {
	report := &Report{Skill: name}
	ctx = logger.WithSkill(ctx, name)

	started := time.Now()
	src, err := b.resolver.Resolve(ctx, name, resolver.Options{Scope: opts.Scope})
	if err != nil {
		report.record(StageResolve, StatusFailed, err.Error(), started)
		return report, err
	}
	report.record(StageResolve, StatusDone, src.Dir, started)

	return report, b.build(ctx, src, opts, report)
}

// BuildSource builds an already resolved source.
func (b *Builder) BuildSource(ctx context.Context, src *resolver.Source, opts Options) (*Report, error) {
	report := &Report{Skill: src.Name}
	return report, b.build(logger.WithSkill(ctx, src.Name), src, opts, report)
}

func (b *Builder) build(ctx context.Context, src *resolver.Source, opts Options, report *Report) error {
	report.Source = src
	if src.ReadOnly || src.Origin == resolver.OriginRuntime {
		return errcode.New(errcode.SkillNotFound,
			"skill %s has no source; compiled entries at %s are read-only", src.Name, src.Dir)
	}

	return telemetry.WithSpan(ctx, "skillc.build", func(ctx context.Context) error {
		started := time.Now()
		fp, err := fingerprint.Compute(ctx, src.Dir)
		if err != nil {
			report.record(StageFingerprint, StatusFailed, err.Error(), started)
			return err
		}
		report.Fingerprint = fp
		report.record(StageFingerprint, StatusDone, fp.Short(), started)
		telemetry.SetAttributes(ctx, attribute.String("skill.fingerprint", fp.String()))

		store := runtime.ForScope(b.cfg.Layout, src.Scope)
		unlock, err := store.Lock(ctx, src.Name)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to lock %s", src.Name)
		}
		defer unlock()

		prev, err := store.LoadManifest(ctx, src.Name)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to load manifest")
		}

		if !opts.Force && b.upToDate(prev, fp) && store.HasStub(src.Name) {
			report.CacheHit = true
			if err := b.refresh(ctx, store, src, fp, prev, report); err != nil {
				return err
			}
		} else if err := b.rebuild(ctx, store, src, fp, opts, report); err != nil {
			return err
		}

		b.deploy(ctx, store, src, opts, report)
		return nil
	}, attribute.String("skill", src.Name), attribute.String("scope", string(src.Scope)))
}

// upToDate reports whether prev was compiled from fp under the current
// stub ceiling.
func (b *Builder) upToDate(prev *runtime.Manifest, fp fingerprint.Fingerprint) bool {
	return prev != nil && prev.SourceHash == fp.String() && prev.MaxStubLines == b.compiler.MaxStubLines()
}

// refresh handles a cache hit: the stub is kept and only the index is
// repaired when it no longer matches.
func (b *Builder) refresh(ctx context.Context, store *runtime.Store, src *resolver.Source, fp fingerprint.Fingerprint, m *runtime.Manifest, report *Report) error {
	started := time.Now()
	report.record(StageCompile, StatusSkipped, "source unchanged", started)
	report.Manifest = m

	entry := store.EntryDir(src.Name)
	err := telemetry.WithSpan(ctx, "skillc.index", func(ctx context.Context) error {
		summary, err := b.indexer.Build(ctx, src, fp, runtime.IndexPath(entry, src.Dir))
		if err != nil {
			return err
		}
		report.Index = summary
		return nil
	})
	if err != nil {
		report.record(StageIndex, StatusFailed, err.Error(), started)
		return err
	}
	if !report.Index.Rebuilt {
		report.record(StageIndex, StatusSkipped, string(report.Index.Previous), started)
		report.record(StagePublish, StatusSkipped, "cache hit", started)
		return nil
	}
	report.record(StageIndex, StatusDone, "repaired "+string(report.Index.Previous)+" index", started)

	if m.Tokenizer != b.indexer.Tokenizer() {
		updated := *m
		updated.Tokenizer = b.indexer.Tokenizer()
		if err := runtime.WriteManifest(entry, &updated); err != nil {
			report.record(StagePublish, StatusFailed, err.Error(), started)
			return errcode.Wrap(err, errcode.IO, "failed to update manifest")
		}
		report.Manifest = &updated
	}
	report.record(StagePublish, StatusSkipped, "cache hit", started)
	return nil
}

func (b *Builder) rebuild(ctx context.Context, store *runtime.Store, src *resolver.Source, fp fingerprint.Fingerprint, opts Options, report *Report) error {
	started := time.Now()
	var art *compiler.Artifact
	err := telemetry.WithSpan(ctx, "skillc.compile", func(ctx context.Context) error {
		var err error
		art, err = b.compiler.Compile(ctx, src, fp)
		return err
	})
	if err != nil {
		report.record(StageCompile, StatusFailed, err.Error(), started)
		return err
	}
	report.record(StageCompile, StatusDone, "", started)

	if opts.Diff {
		report.Diff = stubDiff(store.EntryDir(src.Name), art.Stub)
	}

	staging, err := store.Stage(src.Name)
	if err != nil {
		return errcode.Wrap(err, errcode.IO, "failed to stage %s", src.Name)
	}
	defer staging.Abort()

	started = time.Now()
	if err := staging.WriteArtifact(art.Stub, &art.Manifest); err != nil {
		report.record(StagePublish, StatusFailed, err.Error(), started)
		return errcode.Wrap(err, errcode.IO, "failed to write artifact")
	}

	err = telemetry.WithSpan(ctx, "skillc.index", func(ctx context.Context) error {
		summary, err := b.indexer.Build(ctx, src, fp, runtime.IndexPath(staging.Dir(), src.Dir))
		if err != nil {
			return err
		}
		report.Index = summary
		return nil
	})
	if err != nil {
		report.record(StageIndex, StatusFailed, err.Error(), started)
		return err
	}
	report.record(StageIndex, StatusDone, "", started)

	started = time.Now()
	if err := telemetry.WithSpan(ctx, "skillc.publish", staging.Publish); err != nil {
		report.record(StagePublish, StatusFailed, err.Error(), started)
		return errcode.Wrap(err, errcode.IO, "failed to publish %s", src.Name)
	}
	report.record(StagePublish, StatusDone, store.EntryDir(src.Name), started)
	report.Manifest = &art.Manifest
	return nil
}

func (b *Builder) deploy(ctx context.Context, store *runtime.Store, src *resolver.Source, opts Options, report *Report) {
	started := time.Now()
	targets := opts.Targets
	if len(targets) == 0 {
		targets = b.cfg.DefaultTargets
	}
	if opts.NoDeploy || len(targets) == 0 {
		report.record(StageDeploy, StatusSkipped, "", started)
		return
	}

	_ = telemetry.WithSpan(ctx, "skillc.deploy", func(ctx context.Context) error {
		report.Deploys = b.engine.Deploy(ctx, deploy.Artifact{
			Skill:    src.Name,
			Dir:      store.EntryDir(src.Name),
			Manifest: report.Manifest,
		}, targets, b.deployOptions(src.Scope, opts.ForceCopy))
		return deploy.Failed(report.Deploys)
	})

	if err := deploy.Failed(report.Deploys); err != nil {
		logger.G(ctx).WithError(err).Warn("some deploy targets failed")
		report.record(StageDeploy, StatusFailed, err.Error(), started)
		return
	}
	report.record(StageDeploy, StatusDone, "", started)
}

func (b *Builder) deployOptions(scope config.Scope, forceCopy bool) deploy.Options {
	return deploy.Options{
		ForceCopy:   forceCopy,
		ProjectRoot: b.cfg.Layout.ProjectRoot,
		Global:      scope == config.ScopeGlobal,
		Home:        b.cfg.Layout.Home,
	}
}

// Status reports deploy status of name's published entry for targets.
func (b *Builder) Status(ctx context.Context, name string, scope config.Scope, targets []string) ([]deploy.TargetStatus, *runtime.Manifest, error) {
	src, err := b.resolver.Resolve(ctx, name, resolver.Options{Scope: scope, AllowRuntimeFallback: true})
	if err != nil {
		return nil, nil, err
	}
	store := runtime.ForScope(b.cfg.Layout, src.Scope)
	m, err := store.LoadManifest(ctx, name)
	if err != nil {
		return nil, nil, errcode.Wrap(err, errcode.IO, "failed to load manifest")
	}
	if m == nil {
		return nil, nil, errcode.New(errcode.SkillNotFound, "skill %s has not been built", name)
	}
	if len(targets) == 0 {
		targets = b.cfg.DefaultTargets
	}
	art := deploy.Artifact{Skill: name, Dir: store.EntryDir(name), Manifest: m}
	return b.engine.Status(ctx, art, targets, b.deployOptions(src.Scope, false)), m, nil
}

func stubDiff(entry string, stub []byte) string {
	old, err := os.ReadFile(filepath.Join(entry, runtime.StubFile))
	if err != nil || string(old) == string(stub) {
		return ""
	}
	return udiff.Unified("a/"+runtime.StubFile, "b/"+runtime.StubFile, string(old), string(stub))
}
