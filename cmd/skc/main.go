package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitError carries a process exit code out of a command. A nil err means
// the command already reported its outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "skc",
	Short: "Compile, index and deploy agent skills",
	Long: `skc compiles authored skill directories into compact runtime stubs with a
full-text search index, and deploys them into the skill directories of
coding agents.

Skills live in .skillc/skills/<name> (project) or ~/.skillc/skills/<name>
(global). Run 'skc init' to create a project store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return errors.Wrap(err, "invalid --log-level")
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		if viper.GetBool("quiet") {
			presenter.SetQuiet(true)
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialise tracing")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
}

var shutdownTracing func(context.Context) error

func init() {
	viper.SetEnvPrefix("SKILLC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt or json)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress informational output")
	rootCmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()

	if shutdownTracing != nil {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.G(ctx).WithError(err).Debug("failed to flush traces")
		}
	}
	os.Exit(code)
}

func run(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			presenter.Error(ee.err, "")
		}
		return ee.code
	}
	presenter.Error(err, "")
	return 1
}
