package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand: one full crawl followed by the
// upload of the feed file.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl gallito.com.uy and upload the feed",
		Long: `Visits the configured index pages, follows pagination and listing
links, writes every listing to the feed file and uploads it to the configured
blob storage once the crawl is done. Interrupting the crawl skips the upload;
run 'upload' later to ship the partial feed.`,
		Args: cobra.NoArgs,
		RunE: withApp(runCrawlCommand),
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string, appInstance App) error {
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := appInstance.Crawl(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn("Crawl interrupted; feed left on disk", zap.Strings("feeds", summary.Paths()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("Crawl command finished.",
		zap.String("run_id", summary.RunID),
		zap.Int64("listings", summary.Listings),
	)
	return nil
}
