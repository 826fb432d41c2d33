package main

import (
	"context"
	"fmt"

	"github.com/jingkaihe/skillc/pkg/lint"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var lintCmd = withTracing(&cobra.Command{
	Use:   "lint <skill>",
	Short: "Check a skill source for authoring mistakes",
	Long: `Run the lint rules against a skill source. Exit status is 1 when any
diagnostic has error severity.

Examples:
  skc lint pdf
  skc lint pdf --disable SKL003
  skc lint --rules`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		disabled, _ := cmd.Flags().GetStringSlice("disable")
		if rules, _ := cmd.Flags().GetBool("rules"); rules {
			return listRules()
		}
		if len(args) != 1 {
			return errors.New("lint requires a skill name")
		}
		scope, err := scopeFromFlags(cmd)
		if err != nil {
			return err
		}
		return runLint(cmd.Context(), args[0], resolver.Options{Scope: scope}, disabled)
	},
})

func init() {
	lintCmd.Flags().StringSlice("disable", nil, "Rule ids to skip")
	lintCmd.Flags().Bool("rules", false, "List the available rules")
	addScopeFlags(lintCmd)
	rootCmd.AddCommand(lintCmd)
}

func listRules() error {
	rules := lint.DefaultRegistry().Rules()
	if jsonOutput() {
		type rule struct {
			ID          string        `json:"id"`
			Severity    lint.Severity `json:"severity"`
			Description string        `json:"description"`
		}
		out := make([]rule, 0, len(rules))
		for _, r := range rules {
			out = append(out, rule{r.ID, r.Severity, r.Description})
		}
		return printJSON(out)
	}
	for _, r := range rules {
		presenter.Info(fmt.Sprintf("%s  %-7s  %s", r.ID, r.Severity, r.Description))
	}
	return nil
}

func runLint(ctx context.Context, skill string, opts resolver.Options, disabled []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	src, err := resolver.New(a.cfg.Layout).Resolve(ctx, skill, opts)
	if err != nil {
		return err
	}

	diags, err := lint.New(lint.DefaultRegistry(), disabled...).Lint(ctx, src)
	if err != nil {
		return err
	}

	if jsonOutput() {
		if err := printJSON(diags); err != nil {
			return err
		}
	} else if len(diags) == 0 {
		presenter.Success(fmt.Sprintf("%s: no problems found", skill))
	} else {
		for _, d := range diags {
			loc := d.File
			if d.Line > 0 {
				loc = fmt.Sprintf("%s:%d", d.File, d.Line)
			}
			line := fmt.Sprintf("%s: %s[%s] %s", loc, d.Severity, d.RuleID, d.Message)
			presenter.Info(line)
		}
	}

	if lint.HasErrors(diags) {
		return exitWith(1, nil)
	}
	return nil
}
