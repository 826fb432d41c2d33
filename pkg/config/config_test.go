package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()

	cfg, err := Load(context.Background(), LoadOptions{Cwd: cwd, Home: home})
	require.NoError(t, err)

	assert.Equal(t, TokenizerASCII, cfg.Tokenizer)
	assert.Equal(t, DefaultMaxStubLines, cfg.MaxStubLines)
	assert.Equal(t, []string{"claude"}, cfg.DefaultTargets)
	assert.False(t, cfg.Layout.HasProject())
}

func TestLoadPrecedence(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	cwd := filepath.Join(project, "src", "pkg")
	require.NoError(t, os.MkdirAll(cwd, 0o755))

	writeConfig(t, filepath.Join(home, DirName), `
version: 1
search:
  tokenizer: cjk
deploy:
  targets: [claude, codex]
targets:
  myagent: "{root}/.myagent/skills/{skill}"
`)
	writeConfig(t, filepath.Join(project, DirName), `
version: 1
search:
  tokenizer: ascii
build:
  max_stub_lines: 40
`)

	t.Run("project overrides global", func(t *testing.T) {
		cfg, err := Load(context.Background(), LoadOptions{Cwd: cwd, Home: home})
		require.NoError(t, err)
		assert.Equal(t, project, cfg.Layout.ProjectRoot)
		assert.Equal(t, TokenizerASCII, cfg.Tokenizer)
		assert.Equal(t, 40, cfg.MaxStubLines)
		assert.Equal(t, []string{"claude", "codex"}, cfg.DefaultTargets)
		assert.Equal(t, "{root}/.myagent/skills/{skill}", cfg.Targets["myagent"])
		assert.Equal(t, []string{"myagent"}, cfg.TargetIDs())
	})

	t.Run("env overrides files", func(t *testing.T) {
		t.Setenv("SKILLC_TOKENIZER", "cjk")
		cfg, err := Load(context.Background(), LoadOptions{Cwd: cwd, Home: home})
		require.NoError(t, err)
		assert.Equal(t, TokenizerCJK, cfg.Tokenizer)
	})

	t.Run("invalid env is ignored", func(t *testing.T) {
		t.Setenv("SKILLC_TOKENIZER", "klingon")
		cfg, err := Load(context.Background(), LoadOptions{Cwd: cwd, Home: home})
		require.NoError(t, err)
		assert.Equal(t, TokenizerASCII, cfg.Tokenizer)
	})
}

func TestLoadIgnoresVersionZero(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, DirName), "version: 0\nsearch:\n  tokenizer: cjk\n")

	cfg, err := Load(context.Background(), LoadOptions{Cwd: t.TempDir(), Home: home})
	require.NoError(t, err)
	assert.Equal(t, TokenizerASCII, cfg.Tokenizer)
}

func TestLoadAcceptsNewerVersion(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, DirName), "version: 2\nsearch:\n  tokenizer: cjk\n")

	cfg, err := Load(context.Background(), LoadOptions{Cwd: t.TempDir(), Home: home})
	require.NoError(t, err)
	assert.Equal(t, TokenizerCJK, cfg.Tokenizer)
}

func TestLoadMalformedFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unparseable yaml", "search: [unterminated\n"},
		{"undecodable value", "build:\n  max_stub_lines: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			project := t.TempDir()
			writeConfig(t, filepath.Join(home, DirName), tt.body)
			writeConfig(t, filepath.Join(project, DirName), "version: 1\nsearch:\n  tokenizer: cjk\n")

			cfg, err := Load(context.Background(), LoadOptions{Cwd: project, Home: home})
			require.NoError(t, err)
			assert.Equal(t, TokenizerCJK, cfg.Tokenizer, "valid project config still applies")
			assert.Equal(t, DefaultMaxStubLines, cfg.MaxStubLines)
			assert.Equal(t, []string{"claude"}, cfg.DefaultTargets)
		})
	}
}

func TestLoadClampsStubCeiling(t *testing.T) {
	tests := []struct {
		value int
		want  int
	}{
		{1, MinStubLines},
		{MinStubLines - 1, MinStubLines},
		{MinStubLines, MinStubLines},
		{30, 30},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, filepath.Join(home, DirName), fmt.Sprintf("version: 1\nbuild:\n  max_stub_lines: %d\n", tt.value))

			cfg, err := Load(context.Background(), LoadOptions{Cwd: t.TempDir(), Home: home})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MaxStubLines)
		})
	}
}

func TestParseTokenizer(t *testing.T) {
	tests := []struct {
		in      string
		want    Tokenizer
		wantErr bool
	}{
		{"", TokenizerASCII, false},
		{"ASCII", TokenizerASCII, false},
		{" cjk ", TokenizerCJK, false},
		{"icu", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTokenizer(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, DirName), 0o755))
	nested := filepath.Join(home, "work", "repo", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Empty(t, FindProjectRoot(nested, home), "home .skillc is the global store")

	repo := filepath.Join(home, "work", "repo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, DirName), 0o755))
	assert.Equal(t, repo, FindProjectRoot(nested, home))
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{Home: "/h", Cwd: "/p/sub", ProjectRoot: "/p"}
	assert.Equal(t, filepath.Join("/p", ".skillc", "skills"), l.Sources(ScopeProject))
	assert.Equal(t, filepath.Join("/h", ".skillc", "runtime"), l.Runtime(ScopeGlobal))
	assert.Equal(t, "/p", l.ScopeRoot(ScopeProject))
	assert.Equal(t, "/h", l.ScopeRoot(ScopeGlobal))
	assert.Equal(t, filepath.Join("/p", ".skillc", "analytics", "s"), l.AnalyticsDir(ScopeProject, "s"))
	assert.Equal(t, filepath.Join("/p/sub", ".skillc", "logs"), l.FallbackLogs())

	noProject := Layout{Home: "/h", Cwd: "/x"}
	assert.Empty(t, noProject.ProjectRuntime())
	assert.Equal(t, filepath.Join("/h", ".skillc", "analytics", "s"), noProject.AnalyticsDir(ScopeProject, "s"))
}
