// Package config resolves skillc's layered configuration into an explicit
// Config value. Components never read viper directly; the CLI loads a Config
// once and threads it through every call.
package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Tokenizer selects how the search index segments text.
type Tokenizer string

const (
	TokenizerASCII Tokenizer = "ascii"
	TokenizerCJK   Tokenizer = "cjk"
)

// ParseTokenizer accepts the config and env spellings of a tokenizer mode.
func ParseTokenizer(s string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascii", "":
		return TokenizerASCII, nil
	case "cjk":
		return TokenizerCJK, nil
	default:
		return "", errors.Errorf("unknown tokenizer %q (expected ascii or cjk)", s)
	}
}

const (
	// DefaultMaxStubLines is the line ceiling for compiled stubs.
	DefaultMaxStubLines = 100
	// MinStubLines is the smallest ceiling that still fits the stub
	// frontmatter, title and truncation marker.
	MinStubLines = 8
	// CurrentVersion is the config file format version this build writes.
	CurrentVersion = 1
	configFileName = "config.yaml"
	envPrefix      = "SKILLC"
)

// Config is the fully resolved configuration for one invocation.
type Config struct {
	Layout         Layout
	Tokenizer      Tokenizer
	Targets        map[string]string
	DefaultTargets []string
	MaxStubLines   int
}

// Default returns a Config for layout with built-in settings only.
func Default(layout Layout) *Config {
	return &Config{
		Layout:         layout,
		Tokenizer:      TokenizerASCII,
		Targets:        map[string]string{},
		DefaultTargets: []string{"claude"},
		MaxStubLines:   DefaultMaxStubLines,
	}
}

// LoadOptions controls where Load looks. Empty fields fall back to the
// process environment.
type LoadOptions struct {
	Cwd  string
	Home string
}

type fileConfig struct {
	Version *int              `mapstructure:"version"`
	Targets map[string]string `mapstructure:"targets"`
	Search  struct {
		Tokenizer string `mapstructure:"tokenizer"`
	} `mapstructure:"search"`
	Deploy struct {
		Targets []string `mapstructure:"targets"`
	} `mapstructure:"deploy"`
	Build struct {
		MaxStubLines int `mapstructure:"max_stub_lines"`
	} `mapstructure:"build"`
}

// Load resolves configuration with precedence env > project > global >
// defaults.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	env := viper.New()
	env.SetEnvPrefix(envPrefix)
	env.AutomaticEnv()

	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get working directory")
		}
		cwd = wd
	}
	home := opts.Home
	if home == "" {
		home = env.GetString("home")
	}
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get user home directory")
		}
		home = h
	}

	layout, err := DiscoverLayout(cwd, home)
	if err != nil {
		return nil, err
	}
	cfg := Default(layout)

	paths := []string{filepath.Join(layout.GlobalDir(), configFileName)}
	if layout.HasProject() {
		paths = append(paths, filepath.Join(layout.ProjectDir(), configFileName))
	}
	for _, path := range paths {
		fc, err := readFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if fc != nil {
			cfg.apply(ctx, path, fc)
		}
	}

	if raw := env.GetString("tokenizer"); raw != "" {
		tok, err := ParseTokenizer(raw)
		if err != nil {
			logger.G(ctx).WithError(err).Warnf("ignoring %s_TOKENIZER", envPrefix)
		} else {
			cfg.Tokenizer = tok
		}
	}

	return cfg, nil
}

// readFile returns nil when the file does not exist, cannot be parsed or
// declares version 0.
func readFile(ctx context.Context, path string) (*fileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to stat config %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		logger.G(ctx).WithError(err).WithField("config", path).Warn("config file is malformed, ignoring it")
		return nil, nil
	}

	var fc fileConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &fc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		logger.G(ctx).WithError(err).WithField("config", path).Warn("config file has invalid values, ignoring it")
		return nil, nil
	}

	log := logger.G(ctx).WithField("config", path)
	switch {
	case fc.Version == nil:
	case *fc.Version == 0:
		log.Warn("config version 0 is invalid, ignoring file")
		return nil, nil
	case *fc.Version > CurrentVersion:
		log.Warnf("config version %d is newer than supported version %d", *fc.Version, CurrentVersion)
	}
	return &fc, nil
}

func (c *Config) apply(ctx context.Context, path string, fc *fileConfig) {
	if fc.Search.Tokenizer != "" {
		tok, err := ParseTokenizer(fc.Search.Tokenizer)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("config", path).Warn("ignoring search.tokenizer")
		} else {
			c.Tokenizer = tok
		}
	}
	for id, tmpl := range fc.Targets {
		c.Targets[id] = tmpl
	}
	if len(fc.Deploy.Targets) > 0 {
		c.DefaultTargets = append([]string(nil), fc.Deploy.Targets...)
	}
	if fc.Build.MaxStubLines > 0 {
		c.MaxStubLines = fc.Build.MaxStubLines
		if c.MaxStubLines < MinStubLines {
			logger.G(ctx).WithField("config", path).
				Warnf("build.max_stub_lines %d is below the minimum, using %d", fc.Build.MaxStubLines, MinStubLines)
			c.MaxStubLines = MinStubLines
		}
	}
}

// TargetIDs returns override ids in sorted order.
func (c *Config) TargetIDs() []string {
	ids := make([]string, 0, len(c.Targets))
	for id := range c.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
