package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const skillMD = `---
name: pdf
description: Work with PDF files
---

# PDF

## Extract

Pull text out with pdftotext.

## Merge

Combine with qpdf.
`

type env struct {
	cfg    *config.Config
	source string
}

func newEnv(t *testing.T) env {
	t.Helper()
	base := t.TempDir()
	layout := config.Layout{
		Home:        filepath.Join(base, "home"),
		Cwd:         filepath.Join(base, "proj"),
		ProjectRoot: filepath.Join(base, "proj"),
	}
	src := filepath.Join(layout.ProjectSources(), "pdf")
	writeFile(t, src, "SKILL.md", skillMD)
	writeFile(t, src, "refs/api.md", "# API\n\nThe full API.\n")
	return env{cfg: config.Default(layout), source: src}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func stageStatus(t *testing.T, r *Report, name StageName) StageStatus {
	t.Helper()
	s, ok := r.Stage(name)
	require.True(t, ok, "stage %s missing", name)
	return s.Status
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	report, err := New(e.cfg).Build(ctx, "pdf", Options{})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(report, err))
	assert.False(t, report.CacheHit)
	assert.Equal(t, StatusDone, stageStatus(t, report, StageCompile))
	assert.Equal(t, StatusDone, stageStatus(t, report, StageIndex))
	assert.Equal(t, StatusDone, stageStatus(t, report, StagePublish))
	assert.Equal(t, StatusDone, stageStatus(t, report, StageDeploy))

	entry := filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf")
	m, err := runtime.ReadManifest(entry)
	require.NoError(t, err)
	assert.Equal(t, report.Fingerprint.String(), m.SourceHash)
	assert.Equal(t, config.ScopeProject, m.Scope)
	_, err = os.Stat(runtime.IndexPath(entry, e.source))
	assert.NoError(t, err)

	stub, err := os.ReadFile(filepath.Join(e.cfg.Layout.ProjectRoot, ".claude", "skills", "pdf", "SKILL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(stub), "# pdf (compiled)")
}

func TestBuildCacheHit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := New(e.cfg)

	first, err := b.Build(ctx, "pdf", Options{})
	require.NoError(t, err)
	entry := filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf")
	before, err := os.Stat(filepath.Join(entry, runtime.StubFile))
	require.NoError(t, err)

	second, err := b.Build(ctx, "pdf", Options{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, StatusSkipped, stageStatus(t, second, StageCompile))
	assert.Equal(t, StatusSkipped, stageStatus(t, second, StageIndex))
	assert.Equal(t, first.Manifest.BuiltAt, second.Manifest.BuiltAt)
	assert.True(t, second.Deploys[0].Unchanged)

	after, err := os.Stat(filepath.Join(entry, runtime.StubFile))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	forced, err := b.Build(ctx, "pdf", Options{Force: true})
	require.NoError(t, err)
	assert.False(t, forced.CacheHit)
	assert.Equal(t, StatusDone, stageStatus(t, forced, StageCompile))
}

func TestBuildSourceChangeProducesDiff(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := New(e.cfg)

	_, err := b.Build(ctx, "pdf", Options{})
	require.NoError(t, err)

	writeFile(t, e.source, "SKILL.md", skillMD+"\n## Split\n\nSeparate pages.\n")
	report, err := b.Build(ctx, "pdf", Options{Diff: true})
	require.NoError(t, err)
	assert.False(t, report.CacheHit)
	assert.Contains(t, report.Diff, "+  - Split")
	assert.Contains(t, report.Diff, "--- a/SKILL.md")
}

func TestBuildPathEscape(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(e.source, "leak.txt")))

	report, err := New(e.cfg).Build(ctx, "pdf", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.ErrPathEscape))
	assert.Equal(t, ExitBuildFailed, ExitCode(report, err))
	assert.Equal(t, StatusFailed, stageStatus(t, report, StageCompile))

	_, statErr := os.Stat(filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf"))
	assert.True(t, os.IsNotExist(statErr), "no runtime entry is written")
	_, statErr = os.Lstat(filepath.Join(e.cfg.Layout.ProjectRoot, ".claude", "skills", "pdf"))
	assert.True(t, os.IsNotExist(statErr), "nothing is deployed")
}

func TestBuildPathEscapeKeepsPreviousEntry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := New(e.cfg)
	first, err := b.Build(ctx, "pdf", Options{})
	require.NoError(t, err)

	require.NoError(t, os.Symlink("/etc", filepath.Join(e.source, "etc")))
	_, err = b.Build(ctx, "pdf", Options{})
	require.Error(t, err)

	m, err := runtime.ReadManifest(filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf"))
	require.NoError(t, err)
	assert.Equal(t, first.Manifest.SourceHash, m.SourceHash)
}

func TestBuildPartialDeploy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.Layout.ProjectRoot, ".codex"), []byte("file"), 0o644))

	report, err := New(e.cfg).Build(ctx, "pdf", Options{Targets: []string{"claude", "codex", "cursor"}})
	require.NoError(t, err, "deploy failures are not build failures")
	assert.Equal(t, ExitDeployFailed, ExitCode(report, err))
	assert.Equal(t, 1, report.DeployFailures())
	assert.Equal(t, StatusFailed, stageStatus(t, report, StageDeploy))
	assert.True(t, report.Deploys[0].OK())
	assert.False(t, report.Deploys[1].OK())
	assert.True(t, report.Deploys[2].OK())
}

func TestBuildNoDeploy(t *testing.T) {
	e := newEnv(t)
	report, err := New(e.cfg).Build(context.Background(), "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, stageStatus(t, report, StageDeploy))
	assert.Empty(t, report.Deploys)
}

func TestTokenizerChangeReindexesOnCacheHit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := New(e.cfg).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)

	cjk := *e.cfg
	cjk.Tokenizer = config.TokenizerCJK
	report, err := New(&cjk).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.True(t, report.CacheHit)
	require.NotNil(t, report.Index)
	assert.True(t, report.Index.Rebuilt)
	assert.Equal(t, StatusDone, stageStatus(t, report, StageIndex))
	assert.Equal(t, config.TokenizerCJK, report.Manifest.Tokenizer)

	m, err := runtime.ReadManifest(filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf"))
	require.NoError(t, err)
	assert.Equal(t, config.TokenizerCJK, m.Tokenizer)
}

func TestCorruptIndexRepairedOnCacheHit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := New(e.cfg)
	_, err := b.Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)

	path := runtime.IndexPath(filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf"), e.source)
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("garbage ", 64)), 0o644))

	report, err := b.Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.True(t, report.CacheHit)
	assert.True(t, report.Index.Rebuilt)
}

func TestBuildReadOnlySourceRefused(t *testing.T) {
	e := newEnv(t)
	src := &resolver.Source{
		Name:     "pdf",
		Dir:      filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf"),
		Scope:    config.ScopeProject,
		Origin:   resolver.OriginRuntime,
		ReadOnly: true,
	}
	_, err := New(e.cfg).BuildSource(context.Background(), src, Options{})
	assert.True(t, errors.Is(err, errcode.ErrNotFound))
}

func TestBuildNotFound(t *testing.T) {
	e := newEnv(t)
	report, err := New(e.cfg).Build(context.Background(), "missing", Options{})
	assert.Equal(t, errcode.SkillNotFound, errcode.CodeOf(err))
	assert.Equal(t, ExitBuildFailed, ExitCode(report, err))
	assert.Equal(t, StatusFailed, stageStatus(t, report, StageResolve))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := New(e.cfg)

	_, _, err := b.Status(ctx, "pdf", "", nil)
	assert.True(t, errors.Is(err, errcode.ErrNotFound), "unbuilt skill")

	_, err = b.Build(ctx, "pdf", Options{})
	require.NoError(t, err)
	statuses, m, err := b.Status(ctx, "pdf", "", []string{"claude", "gemini"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "current", string(statuses[0].Status))
	assert.Equal(t, "missing", string(statuses[1].Status))
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ext := filepath.Join(t.TempDir(), "forms")
	writeFile(t, ext, "SKILL.md", "---\nname: forms\ndescription: Fill forms\n---\n# Forms\n")
	writeFile(t, ext, ".git/HEAD", "ref")

	report, err := New(e.cfg).Import(ctx, ext, ImportOptions{Build: Options{NoDeploy: true}})
	require.NoError(t, err)
	assert.Equal(t, "forms", report.Skill)

	dst := filepath.Join(e.cfg.Layout.ProjectSources(), "forms")
	_, err = os.Stat(filepath.Join(dst, "SKILL.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, ".git"))
	assert.True(t, os.IsNotExist(err))

	_, err = New(e.cfg).Import(ctx, ext, ImportOptions{Build: Options{NoDeploy: true}})
	assert.Error(t, err, "existing skill needs overwrite")
	_, err = New(e.cfg).Import(ctx, ext, ImportOptions{Overwrite: true, Build: Options{NoDeploy: true}})
	assert.NoError(t, err)
}

func TestImportRequiresPrimaryDocument(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.cfg).Import(context.Background(), t.TempDir(), ImportOptions{})
	assert.True(t, errors.Is(err, errcode.ErrMissingPrimaryDocument))
}

func TestBuildIgnoresBrokenSymlink(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "secret.md"), filepath.Join(e.source, "leak.md")))

	report, err := New(e.cfg).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(report, err))
	assert.Equal(t, StatusDone, stageStatus(t, report, StageIndex))
}

func TestStubCeilingChangeRebuilds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, err := New(e.cfg).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMaxStubLines, first.Manifest.MaxStubLines)
	assert.False(t, first.Manifest.Truncated)

	tight := *e.cfg
	tight.MaxStubLines = config.MinStubLines
	second, err := New(&tight).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.False(t, second.CacheHit, "a new ceiling invalidates the cached stub")
	assert.Equal(t, StatusDone, stageStatus(t, second, StageCompile))
	assert.LessOrEqual(t, second.Manifest.StubLines, config.MinStubLines)
	assert.True(t, second.Manifest.Truncated)

	entry := filepath.Join(e.cfg.Layout.ProjectRuntime(), "pdf")
	stub, err := os.ReadFile(filepath.Join(entry, runtime.StubFile))
	require.NoError(t, err)
	assert.LessOrEqual(t, strings.Count(string(stub), "\n"), config.MinStubLines)

	third, err := New(&tight).Build(ctx, "pdf", Options{NoDeploy: true})
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
}

func TestImportUsesFrontmatterName(t *testing.T) {
	tests := []struct {
		name     string
		dir      string
		body     string
		override string
		want     string
	}{
		{
			name: "frontmatter name",
			dir:  "checkout-2024",
			body: "---\nname: forms\ndescription: Fill forms\n---\n# Forms\n",
			want: "forms",
		},
		{
			name: "directory name without frontmatter name",
			dir:  "forms",
			body: "# Forms\n",
			want: "forms",
		},
		{
			name:     "explicit name wins",
			dir:      "checkout-2024",
			body:     "---\nname: forms\ndescription: Fill forms\n---\n# Forms\n",
			override: "paper",
			want:     "paper",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ext := filepath.Join(t.TempDir(), tt.dir)
			writeFile(t, ext, "SKILL.md", tt.body)

			plan, err := New(e.cfg).PlanImport(ext, ImportOptions{Name: tt.override})
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Name)
			assert.Equal(t, tt.want, filepath.Base(plan.Dest))
			assert.False(t, plan.InPlace)
		})
	}
}

func TestImportFromSourceStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for _, overwrite := range []bool{false, true} {
		report, err := New(e.cfg).Import(ctx, e.source, ImportOptions{Overwrite: overwrite, Build: Options{NoDeploy: true}})
		require.NoError(t, err)
		assert.Equal(t, "pdf", report.Skill)

		data, err := os.ReadFile(filepath.Join(e.source, "SKILL.md"))
		require.NoError(t, err, "the source must survive importing onto itself")
		assert.Equal(t, skillMD, string(data))
		_, err = os.Stat(filepath.Join(e.source, "refs", "api.md"))
		assert.NoError(t, err)
	}
}

func TestImportRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	tests := []struct {
		name string
		path string
		opts ImportOptions
	}{
		{"store parent", e.cfg.Layout.ProjectSources(), ImportOptions{Name: "pdf", Overwrite: true}},
		{"nested under its destination", filepath.Join(e.source, "copy"), ImportOptions{Name: "pdf", Overwrite: true}},
	}
	writeFile(t, e.source, "copy/SKILL.md", "---\nname: copy\ndescription: nested\n---\n")
	writeFile(t, e.cfg.Layout.ProjectSources(), "SKILL.md", skillMD)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Build = Options{NoDeploy: true}
			_, err := New(e.cfg).Import(ctx, tt.path, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "overlap")

			_, err = os.Stat(filepath.Join(e.source, "SKILL.md"))
			assert.NoError(t, err, "nothing is removed")
		})
	}
}
