package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jingkaihe/skillc/pkg/build"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/deploy"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/spf13/cobra"
)

var listCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List skills and their build state",
	Long: `List project and global skills. STATE is "built", "stale" when the source
changed since the last build, or "unbuilt".

Examples:
  skc list
  skc list --pattern 'pdf*'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")
		return runList(cmd.Context(), pattern)
	},
})

var statusCmd = withTracing(&cobra.Command{
	Use:   "status <skill>",
	Short: "Show where a skill is deployed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, _ := cmd.Flags().GetStringSlice("target")
		scope, err := scopeFromFlags(cmd)
		if err != nil {
			return err
		}
		return runStatus(cmd.Context(), args[0], scope, targets)
	},
})

func init() {
	listCmd.Flags().String("pattern", "", "Glob over skill names")
	statusCmd.Flags().StringSliceP("target", "t", nil, "Targets to check (defaults to deploy.targets from config)")
	addScopeFlags(statusCmd)
	rootCmd.AddCommand(listCmd, statusCmd)
}

func runList(ctx context.Context, pattern string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	items, err := a.gateway.List(ctx, pattern)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(items)
	}
	if len(items) == 0 {
		presenter.Info("No skills found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCOPE\tSTATE\tBUILT AT\tPATH")
	for _, it := range items {
		state, builtAt := "unbuilt", "-"
		if it.Built() {
			state = "built"
			builtAt = it.Manifest.BuiltAt.Local().Format("2006-01-02 15:04")
		}
		if it.Stale {
			state = "stale"
		}
		path := it.SourceDir
		if path == "" {
			path = it.EntryDir
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.Name, it.Scope, state, builtAt, path)
	}
	return w.Flush()
}

func runStatus(ctx context.Context, skill string, scope config.Scope, targets []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	statuses, m, err := build.New(a.cfg).Status(ctx, skill, scope, targets)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(struct {
			Manifest any                   `json:"manifest"`
			Targets  []deploy.TargetStatus `json:"targets"`
		}{m, statuses})
	}

	presenter.Section(fmt.Sprintf("%s (%s)", skill, m.Scope))
	presenter.Info(fmt.Sprintf("  source      %s", m.SourcePath))
	presenter.Info(fmt.Sprintf("  hash        %s", m.SourceHash))
	presenter.Info(fmt.Sprintf("  built at    %s", m.BuiltAt.Local().Format("2006-01-02 15:04:05")))
	presenter.Info(fmt.Sprintf("  stub        %s", plural(m.StubLines, "line")))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tPATH")
	for _, s := range statuses {
		status := string(s.Status)
		if s.Err != nil {
			status = "error: " + s.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Target, status, s.Path)
	}
	return w.Flush()
}
