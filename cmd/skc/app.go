package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jingkaihe/skillc/pkg/analytics"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/gateway"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app bundles what every command needs for one invocation.
type app struct {
	cfg     *config.Config
	access  *analytics.Logger
	gateway *gateway.Gateway
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(ctx, config.LoadOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	access := analytics.NewLogger(cfg.Layout)
	access.Warn = func(_ context.Context, w errcode.Warning) { presenter.Warn(w) }
	return &app{
		cfg:     cfg,
		access:  access,
		gateway: gateway.New(cfg, access),
	}, nil
}

// flushWarnings prints warnings the gateway collected during the command.
func (a *app) flushWarnings() {
	for _, w := range a.gateway.Warnings() {
		presenter.Warn(w)
	}
}

func jsonOutput() bool { return viper.GetBool("json") }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode output")
}

func scopeFromFlags(cmd *cobra.Command) (config.Scope, error) {
	global, _ := cmd.Flags().GetBool("global")
	project, _ := cmd.Flags().GetBool("project")
	switch {
	case global && project:
		return "", errors.New("--global and --project are mutually exclusive")
	case global:
		return config.ScopeGlobal, nil
	case project:
		return config.ScopeProject, nil
	default:
		return "", nil
	}
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("global", "g", false, "Use the global store in ~/.skillc")
	cmd.Flags().BoolP("project", "p", false, "Use the project store in ./.skillc")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	if strings.HasSuffix(word, "y") {
		return fmt.Sprintf("%d %sies", n, strings.TrimSuffix(word, "y"))
	}
	return fmt.Sprintf("%d %ss", n, word)
}
