package main

import (
	"github.com/jingkaihe/skillc/pkg/build"
	"github.com/jingkaihe/skillc/pkg/mcpserver"
	"github.com/jingkaihe/skillc/pkg/version"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve skillc tools over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing the tools
skc_build, skc_search, skc_outline, skc_show, skc_list, skc_open,
skc_sources and skc_lint.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		srv := mcpserver.New(a.cfg, build.New(a.cfg), a.gateway, version.Get().Version)
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
