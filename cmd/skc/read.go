package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jingkaihe/skillc/pkg/index"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/spf13/cobra"
)

var searchCmd = withTracing(&cobra.Command{
	Use:   "search [skill] <query>",
	Short: "Search a skill's documents",
	Long: `Full-text search over the compiled index of a skill. Every term must match;
operators are treated as literal text. With only a query, all built skills
are searched.

Examples:
  skc search pdf "merge pages"
  skc search qpdf --limit 5`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		skill, query := "", args[0]
		if len(args) == 2 {
			skill, query = args[0], args[1]
		}
		return runSearch(cmd.Context(), skill, query, limit)
	},
})

var outlineCmd = withTracing(&cobra.Command{
	Use:   "outline <skill>",
	Short: "List the headings of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutline(cmd.Context(), args[0])
	},
})

var showCmd = withTracing(&cobra.Command{
	Use:   "show <skill> <section>",
	Short: "Print one section of a skill",
	Long: `Print the section of a skill whose heading matches, case-insensitively. The
section runs until the next heading of the same or higher level.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShow(cmd.Context(), args[0], args[1])
	},
})

var openCmd = withTracing(&cobra.Command{
	Use:   "open <skill> <file>",
	Short: "Print a file of a skill",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpen(cmd.Context(), args[0], args[1])
	},
})

var sourcesCmd = withTracing(&cobra.Command{
	Use:   "sources <skill>",
	Short: "List the files of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSources(cmd.Context(), args[0])
	},
})

func init() {
	searchCmd.Flags().IntP("limit", "n", index.DefaultLimit, "Maximum number of results")
	rootCmd.AddCommand(searchCmd, outlineCmd, showCmd, openCmd, sourcesCmd)
}

func runSearch(ctx context.Context, skill, query string, limit int) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.flushWarnings()

	matches, err := a.gateway.Search(ctx, skill, query, limit)
	if err != nil {
		if len(matches) == 0 {
			return err
		}
		// some indexes were unusable; show what the rest found
		presenter.Warning(err.Error())
	}

	if jsonOutput() {
		return printJSON(matches)
	}
	if len(matches) == 0 {
		presenter.Info("No matches")
		return nil
	}
	for _, m := range matches {
		loc := fmt.Sprintf("%s:%d", m.File, m.Line)
		if skill == "" {
			loc = m.Skill + "/" + loc
		}
		title := m.Section
		if title == "" {
			title = "(preamble)"
		}
		presenter.Info(fmt.Sprintf("%s  %s", loc, title))
		presenter.Info("    " + presenter.Highlight(strings.ReplaceAll(m.Snippet, "\n", " ")))
	}
	return nil
}

func runOutline(ctx context.Context, skill string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.flushWarnings()

	hs, err := a.gateway.Outline(ctx, skill)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(hs)
	}

	file := ""
	for _, h := range hs {
		if h.File != file {
			file = h.File
			presenter.Section(file)
		}
		indent := strings.Repeat("  ", max(h.Level-1, 0))
		presenter.Info(fmt.Sprintf("%s%s  (line %d)", indent, h.Text, h.StartLine))
	}
	return nil
}

func runShow(ctx context.Context, skill, title string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.flushWarnings()

	sec, err := a.gateway.Show(ctx, skill, title)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(sec)
	}
	fmt.Println(sec.Content)
	return nil
}

func runOpen(ctx context.Context, skill, rel string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.flushWarnings()

	content, err := a.gateway.Open(ctx, skill, rel)
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}

func runSources(ctx context.Context, skill string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.flushWarnings()

	files, err := a.gateway.Sources(ctx, skill)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(files)
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}
