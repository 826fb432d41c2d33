package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// InitConfig holds the flags of skc init.
type InitConfig struct {
	Global bool
	Skill  string
}

func NewInitConfig() *InitConfig {
	return &InitConfig{}
}

var initCmd = withTracing(&cobra.Command{
	Use:   "init",
	Short: "Create a skill store",
	Long: `Create .skillc/ in the current directory, marking it as a project root, or
~/.skillc with --global. With --skill, also scaffold a new skill source.

Examples:
  skc init
  skc init --skill pdf
  skc init --global`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInit(cmd.Context(), getInitConfigFromFlags(cmd))
	},
})

func init() {
	defaults := NewInitConfig()
	initCmd.Flags().BoolP("global", "g", defaults.Global, "Initialise ~/.skillc instead of ./.skillc")
	initCmd.Flags().String("skill", defaults.Skill, "Scaffold a skill with this name")
	rootCmd.AddCommand(initCmd)
}

func getInitConfigFromFlags(cmd *cobra.Command) *InitConfig {
	config := NewInitConfig()
	if v, err := cmd.Flags().GetBool("global"); err == nil {
		config.Global = v
	}
	if v, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = v
	}
	return config
}

type initFile struct {
	Version int `yaml:"version"`
	Search  struct {
		Tokenizer string `yaml:"tokenizer"`
	} `yaml:"search"`
	Deploy struct {
		Targets []string `yaml:"targets"`
	} `yaml:"deploy"`
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	layout := a.cfg.Layout

	dir := filepath.Join(layout.Cwd, config.DirName)
	scope := config.ScopeProject
	if cfg.Global {
		dir = layout.GlobalDir()
		scope = config.ScopeGlobal
	}
	for _, sub := range []string{"skills", "runtime"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if !fsutil.Exists(configPath) {
		var f initFile
		f.Version = config.CurrentVersion
		f.Search.Tokenizer = string(config.TokenizerASCII)
		f.Deploy.Targets = a.cfg.DefaultTargets
		data, err := yaml.Marshal(&f)
		if err != nil {
			return errors.Wrap(err, "failed to encode config")
		}
		if err := os.WriteFile(configPath, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", configPath)
		}
	}
	presenter.Success(fmt.Sprintf("Initialised %s store at %s", scope, dir))

	if cfg.Skill == "" {
		return nil
	}
	if !resolver.ValidName(cfg.Skill) {
		return errors.Errorf("invalid skill name %q", cfg.Skill)
	}
	skillDir := filepath.Join(dir, "skills", cfg.Skill)
	primary := filepath.Join(skillDir, skills.PrimaryDocument)
	if fsutil.Exists(primary) {
		return errors.Errorf("skill %s already exists at %s", cfg.Skill, skillDir)
	}
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", skillDir)
	}
	if err := os.WriteFile(primary, []byte(skillTemplate(cfg.Skill)), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", primary)
	}
	presenter.Success(fmt.Sprintf("Created skill %s at %s", cfg.Skill, skillDir))
	presenter.Info(fmt.Sprintf("Edit %s, then run 'skc build %s'", primary, cfg.Skill))
	return nil
}

func skillTemplate(name string) string {
	return fmt.Sprintf(`---
name: %s
description: Describe when an agent should use this skill.
---

# %s

## Usage

Explain the task step by step.
`, name, name)
}
