// Package cmd defines the CLI commands of the hncrawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/config"
	"github.com/JakeFAU/hn-archive-crawler/internal/logging"
)

// newRootCmd creates the root command. Config and logger are resolved once in
// PersistentPreRunE and shared with subcommands through runEnv.
func newRootCmd() *cobra.Command {
	env := &runEnv{}
	cmd := &cobra.Command{
		Use:   "hncrawler",
		Short: "Archives Hacker News stories and comment trees.",
		Long: `hncrawler walks the front-page archive one day at a time, fetches every
story's discussion page, rebuilds its comment tree and writes stories and
comments as append-only JSONL segments to local disk or GCS.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(env.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			env.cfg = cfg
			env.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if env.logger != nil {
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&env.cfgFile, "config", "", "config file (YAML, TOML or JSON); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newCrawlCmd(env))
	cmd.AddCommand(newSegmentsCmd(env))
	return cmd
}

type runEnv struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
