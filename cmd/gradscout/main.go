package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/cmd/internal/cliutils"
)

var (
	flagWorkspace string
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	globalCfg *agents.GlobalConfig
	logger    = zap.NewNop()
	syncLog   = func() {}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gradscout",
		Short:         "Recommend graduate programs from a student profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace()
			if err != nil {
				return err
			}
			if flagConfig == "" {
				flagConfig = agents.DefaultConfigPath(workspace)
			}
			cfg, err := agents.LoadGlobalConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("load %s: %w", flagConfig, err)
			}
			if flagLogLevel != "" {
				cfg.Logging.Level = flagLogLevel
			}
			if flagLogFormat != "" {
				cfg.Logging.Format = flagLogFormat
			}
			globalCfg = cfg
			log, cleanup, err := cliutils.BuildLogger(cliutils.LoggerOptions{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				File:   cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			logger, syncLog = log, cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			syncLog()
		},
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", cliutils.EnvOrDefault("GRADSCOUT_WORKSPACE", ""), "Workspace directory holding gradscout_cfg/")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config.yaml (default <workspace>/gradscout_cfg/config.yaml)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Override logging.format (console or json)")

	root.AddCommand(
		newRecommendCmd(),
		newAskCmd(),
		newBatchCmd(),
		newServeCmd(),
		newStagesCmd(),
		newConfigCmd(),
	)
	return root
}

// resolveWorkspace defaults the workspace flag to the working directory.
func resolveWorkspace() (string, error) {
	if flagWorkspace != "" {
		return flagWorkspace, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	flagWorkspace = wd
	return wd, nil
}
