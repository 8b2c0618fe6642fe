// Package cmd defines and implements the CLI commands for the gallito-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/app"
	"github.com/JakeFAU/gallito-crawler/internal/config"
	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/logging"
	"github.com/JakeFAU/gallito-crawler/internal/upload"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Crawl(ctx context.Context) (crawler.Summary, error)
	Upload(ctx context.Context, paths []string) ([]upload.Result, error)
	Close() error
}

// liveApp adds the upload entry point to *app.App.
type liveApp struct {
	*app.App
}

func (a liveApp) Upload(ctx context.Context, paths []string) ([]upload.Result, error) {
	return a.Uploader().Upload(ctx, paths)
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return liveApp{App: app.New(cfg, logger)}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "gallito-crawler",
		Short: "Crawls gallito.com.uy listings into a JSON-lines feed.",
		Long: `gallito-crawler walks the house and apartment index pages of
gallito.com.uy, extracts one record per listing page into a JSON-lines feed
and uploads the feed to blob storage when the crawl finishes.`,
		SilenceUsage: true,

		// Config and services are built before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newScheduleCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for a subcommand and releases it once the command
// returns, including when it fails.
func withApp(run func(cmd *cobra.Command, args []string, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(appInstance)
		return run(cmd, args, appInstance)
	}
}

func closeApp(appInstance App) {
	if err := appInstance.Close(); err != nil {
		appInstance.Logger().Warn("Failed to close services", zap.Error(err))
	}
	_ = appInstance.Logger().Sync()
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
