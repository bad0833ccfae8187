package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/app"
	"github.com/JakeFAU/hn-archive-crawler/internal/config"
	"github.com/JakeFAU/hn-archive-crawler/internal/controller"
)

// crawlRunner is the part of *app.App the crawl command drives.
type crawlRunner interface {
	RunID() string
	Run(ctx context.Context) (controller.Summary, error)
	Close(ctx context.Context)
}

// buildRunner is a variable so tests can swap in a fake pipeline.
var buildRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlRunner, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newCrawlCmd(env *runEnv) *cobra.Command {
	var days int
	var endDate string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one archive crawl",
		Long: `Walks listing pages backward from the end date, fetches each unseen
story concurrently and stops after enough consecutive pages produce nothing
new. SIGINT/SIGTERM stop the walk and flush pending records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := env.cfg
			if cmd.Flags().Changed("days") {
				cfg.Frontier.Days = days
			}
			if cmd.Flags().Changed("end-date") {
				cfg.Frontier.EndDate = endDate
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, env.logger)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "number of days to walk back (overrides frontier.days)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "most recent day to crawl, YYYY-MM-DD (overrides frontier.end_date)")
	return cmd
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := buildRunner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize crawl: %w", err)
	}
	defer runner.Close(ctx)

	logger.Info("crawl starting", zap.String("run_id", runner.RunID()))
	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("crawl command finished",
		zap.String("run_id", runner.RunID()),
		zap.String("reason", string(summary.Reason)),
		zap.Int("records", summary.Records),
	)
	return nil
}
