package main

import (
	"testing"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	err := exitWith(2, nil)
	assert.Equal(t, "exit status 2", err.Error())

	cause := errors.New("boom")
	err = exitWith(1, cause)
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, cause)

	var ee *exitError
	require.True(t, errors.As(errors.Wrap(err, "outer"), &ee))
	assert.Equal(t, 1, ee.code)
}

func TestScopeFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    config.Scope
		wantErr bool
	}{
		{"auto", nil, "", false},
		{"global", []string{"--global"}, config.ScopeGlobal, false},
		{"project", []string{"-p"}, config.ScopeProject, false},
		{"both", []string{"-g", "-p"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "x"}
			addScopeFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			got, err := scopeFromFlags(cmd)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetBuildConfigFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "build"}
	cmd.Flags().AddFlagSet(buildCmd.Flags())
	require.NoError(t, cmd.ParseFlags([]string{"--force", "-t", "claude", "-t", "codex", "--copy", "--diff"}))

	cfg := getBuildConfigFromFlags(cmd)
	assert.True(t, cfg.Force)
	assert.True(t, cfg.Copy)
	assert.True(t, cfg.Diff)
	assert.False(t, cfg.NoDeploy)
	assert.Equal(t, []string{"claude", "codex"}, cfg.Targets)

	opts := cfg.options(config.ScopeGlobal)
	assert.Equal(t, config.ScopeGlobal, opts.Scope)
	assert.True(t, opts.ForceCopy)
}

func TestSkillTemplateIsValid(t *testing.T) {
	doc, err := skills.Parse([]byte(skillTemplate("pdf")))
	require.NoError(t, err)
	assert.Equal(t, "pdf", doc.Metadata.Name)
	assert.NotEmpty(t, doc.Metadata.Description)
	h, ok := doc.FirstHeading(1)
	require.True(t, ok)
	assert.Equal(t, "pdf", h.Text)
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 line", plural(1, "line"))
	assert.Equal(t, "3 lines", plural(3, "line"))
	assert.Equal(t, "0 entries", plural(0, "entry"))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"build", "search", "outline", "show", "open", "sources", "list", "status", "lint", "sync", "stats", "init", "mcp", "version", "manifest-schema"} {
		assert.True(t, names[want], want)
	}
}
