package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jingkaihe/skillc/pkg/build"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// BuildConfig holds the flags of skc build.
type BuildConfig struct {
	Force    bool
	Targets  []string
	Copy     bool
	NoDeploy bool
	Diff     bool
	Watch    bool
	Import   string
	Name     string
}

func NewBuildConfig() *BuildConfig {
	return &BuildConfig{}
}

var buildCmd = withTracing(&cobra.Command{
	Use:   "build [skill...]",
	Short: "Compile, index and deploy skills",
	Long: `Compile each named skill into its runtime entry, refresh its search index and
deploy it to the configured agent directories. An unchanged source skips
compilation; --force recompiles anyway.

Targets are built-in agent ids (claude, codex, cursor, ...), ids from the
config file, or custom paths such as ~/agents/{skill}.

Exit status is 0 on success, 1 when a build failed and 2 when a build
succeeded but at least one deploy target failed.

Examples:
  skc build pdf
  skc build pdf forms --target claude --target codex
  skc build pdf --force --diff
  skc build --import ./vendor/pdf-skill
  skc build pdf --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getBuildConfigFromFlags(cmd)
		scope, err := scopeFromFlags(cmd)
		if err != nil {
			return err
		}
		return runBuild(cmd.Context(), args, scope, cfg)
	},
})

func init() {
	defaults := NewBuildConfig()
	buildCmd.Flags().BoolP("force", "f", defaults.Force, "Recompile even when the source is unchanged")
	buildCmd.Flags().StringSliceP("target", "t", defaults.Targets, "Deploy target id or path (repeatable); defaults to deploy.targets from config")
	buildCmd.Flags().Bool("copy", defaults.Copy, "Copy instead of linking, replacing existing destinations")
	buildCmd.Flags().Bool("no-deploy", defaults.NoDeploy, "Build without deploying")
	buildCmd.Flags().Bool("diff", defaults.Diff, "Show a diff of the stub against the previous build")
	buildCmd.Flags().BoolP("watch", "w", defaults.Watch, "Rebuild when the source changes")
	buildCmd.Flags().String("import", defaults.Import, "Import the skill directory at this path before building")
	buildCmd.Flags().String("name", defaults.Name, "Skill name for --import (defaults to the directory name)")
	addScopeFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}

func getBuildConfigFromFlags(cmd *cobra.Command) *BuildConfig {
	config := NewBuildConfig()
	if v, err := cmd.Flags().GetBool("force"); err == nil {
		config.Force = v
	}
	if v, err := cmd.Flags().GetStringSlice("target"); err == nil {
		config.Targets = v
	}
	if v, err := cmd.Flags().GetBool("copy"); err == nil {
		config.Copy = v
	}
	if v, err := cmd.Flags().GetBool("no-deploy"); err == nil {
		config.NoDeploy = v
	}
	if v, err := cmd.Flags().GetBool("diff"); err == nil {
		config.Diff = v
	}
	if v, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = v
	}
	if v, err := cmd.Flags().GetString("import"); err == nil {
		config.Import = v
	}
	if v, err := cmd.Flags().GetString("name"); err == nil {
		config.Name = v
	}
	return config
}

func (c *BuildConfig) options(scope config.Scope) build.Options {
	return build.Options{
		Scope:     scope,
		Force:     c.Force,
		Targets:   c.Targets,
		NoDeploy:  c.NoDeploy,
		ForceCopy: c.Copy,
		Diff:      c.Diff,
	}
}

func runBuild(ctx context.Context, args []string, scope config.Scope, cfg *BuildConfig) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	builder := build.New(a.cfg)
	opts := cfg.options(scope)

	if cfg.Import != "" {
		if len(args) > 0 {
			return errors.New("--import takes no skill arguments")
		}
		return runImport(ctx, builder, scope, cfg)
	}

	if len(args) == 0 {
		return errors.New("at least one skill name is required")
	}

	if cfg.Watch {
		if len(args) != 1 {
			return errors.New("--watch takes exactly one skill")
		}
		presenter.Info(fmt.Sprintf("Watching %s (Ctrl-C to stop)", args[0]))
		err := builder.Watch(ctx, args[0], build.WatchOptions{Build: opts}, func(r *build.Report, err error) {
			printReport(r, err)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return exitWith(build.ExitBuildFailed, err)
		}
		return nil
	}

	code := build.ExitOK
	var reports []*build.Report
	for _, name := range args {
		r, err := builder.Build(ctx, name, opts)
		if r == nil {
			r = &build.Report{Skill: name}
		}
		reports = append(reports, r)
		if !jsonOutput() {
			printReport(r, err)
		} else if err != nil {
			presenter.Error(err, name)
		}
		if c := build.ExitCode(r, err); c > code {
			code = c
		}
	}

	if jsonOutput() {
		if err := printJSON(reports); err != nil {
			return err
		}
	}
	if code != build.ExitOK {
		return exitWith(code, nil)
	}
	return nil
}

func runImport(ctx context.Context, builder *build.Builder, scope config.Scope, cfg *BuildConfig) error {
	opts := build.ImportOptions{Name: cfg.Name, Overwrite: cfg.Force, Build: cfg.options(scope)}
	plan, err := builder.PlanImport(cfg.Import, opts)
	if err != nil {
		printReport(nil, err)
		return exitWith(build.ExitCode(nil, err), nil)
	}
	if !opts.Overwrite && !plan.InPlace && fsutil.Exists(plan.Dest) {
		answer := presenter.Prompt(fmt.Sprintf("Skill '%s' already exists at %s. Overwrite?", plan.Name, plan.Dest), "y", "N")
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			presenter.Warning("Import cancelled")
			return nil
		}
		opts.Overwrite = true
	}
	opts.Name = plan.Name

	r, err := builder.Import(ctx, cfg.Import, opts)
	if jsonOutput() && r != nil {
		if err := printJSON(r); err != nil {
			return err
		}
	} else {
		printReport(r, err)
	}
	if code := build.ExitCode(r, err); code != build.ExitOK {
		return exitWith(code, nil)
	}
	return nil
}

func printReport(r *build.Report, err error) {
	if r == nil {
		presenter.Error(err, "build failed")
		return
	}

	title := r.Skill
	if r.CacheHit {
		title += " (unchanged)"
	}
	presenter.Section(title)
	for _, s := range r.Stages {
		presenter.Stage(string(s.Name), string(s.Status), s.Detail)
	}
	for _, d := range r.Deploys {
		switch {
		case d.Err != nil:
			presenter.Error(d.Err, d.Target)
		case d.Unchanged:
			presenter.Info(fmt.Sprintf("  %s -> %s (unchanged)", d.Target, d.Path))
		default:
			presenter.Success(fmt.Sprintf("%s -> %s (%s)", d.Target, d.Path, d.Strategy))
		}
	}
	if r.Diff != "" {
		presenter.Info(r.Diff)
	}
	if err != nil {
		presenter.Error(err, fmt.Sprintf("build of %s failed", r.Skill))
	}
}
