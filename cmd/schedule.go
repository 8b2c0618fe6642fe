package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/schedule"
)

// newScheduleCmd creates the 'schedule' subcommand, which keeps the process
// alive and runs 'crawl' on a cron expression.
func newScheduleCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run crawls on a cron schedule",
		Long: `Runs a full crawl and upload every time the cron expression fires
(schedule.cron, default @daily). A crawl still running when the next tick
fires causes that tick to be skipped. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			if spec == "" {
				spec = appInstance.Config().Schedule.Cron
			}
			logger := appInstance.Logger()
			scheduler, err := schedule.New(spec, func(ctx context.Context) error {
				summary, err := appInstance.Crawl(ctx)
				if err != nil {
					return err
				}
				logger.Info("Scheduled crawl finished",
					zap.String("run_id", summary.RunID),
					zap.Int64("listings", summary.Listings),
				)
				return nil
			}, logger.Named("schedule"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return scheduler.Run(ctx)
		}),
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression overriding schedule.cron")
	return cmd
}
