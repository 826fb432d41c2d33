package main

import (
	"fmt"

	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/jingkaihe/skillc/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		info := version.Get()
		if jsonOutput() {
			out, err := info.JSON()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}
		fmt.Println(info.String())
		return nil
	},
}

var manifestSchemaCmd = &cobra.Command{
	Use:   "manifest-schema",
	Short: "Print the JSON schema of runtime manifests",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return printJSON(runtime.ManifestSchema())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, manifestSchemaCmd)
}
