package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jingkaihe/skillc/pkg/analytics"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/spf13/cobra"
)

var syncCmd = withTracing(&cobra.Command{
	Use:   "sync [skill]",
	Short: "Merge fallback access logs into their primary stores",
	Long: `When a skill's access log cannot be written, reads are recorded under
./.skillc/logs instead. sync moves those entries into the primary log,
skipping entries already present, and removes the fallback store once empty.

Examples:
  skc sync
  skc sync pdf --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		opts := analytics.SyncOptions{DryRun: dryRun}
		if len(args) == 1 {
			opts.Skill = args[0]
		}
		return runSync(cmd.Context(), opts)
	},
})

var statsCmd = withTracing(&cobra.Command{
	Use:   "stats <skill>",
	Short: "Summarise how a skill has been read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), args[0])
	},
})

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Report what would be synced without writing")
	rootCmd.AddCommand(syncCmd, statsCmd)
}

func runSync(ctx context.Context, opts analytics.SyncOptions) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	results, err := analytics.NewSyncer(a.cfg.Layout).Sync(ctx, opts)
	if jsonOutput() {
		if jerr := printJSON(results); jerr != nil {
			return jerr
		}
		return err
	}
	if len(results) == 0 && err == nil {
		presenter.Info("No local logs to sync")
		return nil
	}

	verb := "Synced"
	if opts.DryRun {
		verb = "Would sync"
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		msg := fmt.Sprintf("%s %s for %s into %s", verb, plural(r.Synced, "entry"), r.Skill, r.Primary)
		if r.Skipped > 0 {
			msg += fmt.Sprintf(" (%d already present)", r.Skipped)
		}
		presenter.Success(msg)
	}
	return err
}

func runStats(ctx context.Context, skill string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	scope := config.ScopeGlobal
	if a.cfg.Layout.HasProject() {
		scope = config.ScopeProject
	}
	if src, err := resolver.New(a.cfg.Layout).Resolve(ctx, skill, resolver.Options{AllowRuntimeFallback: true}); err == nil {
		scope = src.Scope
	}

	dir := a.access.PrimaryDir(scope, skill)
	store, err := analytics.OpenExisting(ctx, dir)
	if err != nil {
		return errcode.Wrap(err, errcode.NoLocalLogs, "no access log for '%s'", skill)
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(st)
	}

	presenter.Section(skill)
	presenter.Info(fmt.Sprintf("  reads   %d (%d failed)", st.Total, st.Errors))
	if st.First != "" {
		presenter.Info(fmt.Sprintf("  first   %s", st.First))
		presenter.Info(fmt.Sprintf("  last    %s", st.Last))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if len(st.Commands) > 0 {
		fmt.Fprintln(w, "\nCOMMAND\tCOUNT")
		for _, c := range st.Commands {
			fmt.Fprintf(w, "%s\t%d\n", c.Command, c.Count)
		}
	}
	if len(st.Sections) > 0 {
		fmt.Fprintln(w, "\nSECTION\tCOUNT")
		for _, s := range st.Sections {
			fmt.Fprintf(w, "%s\t%d\n", s.Section, s.Count)
		}
	}
	return w.Flush()
}
