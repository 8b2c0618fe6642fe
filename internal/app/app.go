// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/gallito-crawler/internal/config"
	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/feed"
	"github.com/JakeFAU/gallito-crawler/internal/id/uuid"
	"github.com/JakeFAU/gallito-crawler/internal/metrics"
	notify "github.com/JakeFAU/gallito-crawler/internal/notify/pubsub"
	"github.com/JakeFAU/gallito-crawler/internal/storage"
	"github.com/JakeFAU/gallito-crawler/internal/storage/azure"
	"github.com/JakeFAU/gallito-crawler/internal/storage/gcs"
	"github.com/JakeFAU/gallito-crawler/internal/storage/local"
	"github.com/JakeFAU/gallito-crawler/internal/storage/memory"
	"github.com/JakeFAU/gallito-crawler/internal/store/postgres"
	"github.com/JakeFAU/gallito-crawler/internal/upload"
)

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// App holds the configuration and the shared services built from it. Cloud
// clients are created on first use and released by Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	ids    IDGenerator

	// Extra client options, mainly for pointing the SDKs at emulators.
	gcsOptions    []option.ClientOption
	pubsubOptions []option.ClientOption

	mu      sync.Mutex
	store   storage.BlobStore
	closers []func() error
}

// Option customizes an App.
type Option func(*App)

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(a *App) { a.ids = ids }
}

// WithGCSOptions passes client options to the GCS client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.gcsOptions = append(a.gcsOptions, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.pubsubOptions = append(a.pubsubOptions, opts...) }
}

// New builds an App. No network connections are made here.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// BlobStore returns the configured storage backend, building it on first
// use. Missing credentials are reported here, wrapping
// storage.ErrMissingConfig.
func (a *App) BlobStore(ctx context.Context) (storage.BlobStore, error) {
	a.mu.Lock()
	cached := a.store
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	store, err := a.newBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		a.store = store
	}
	return a.store, nil
}

func (a *App) newBlobStore(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Provider {
	case "azure":
		a.logger.Info("Using Azure append blob storage", zap.String("container", cfg.Azure.Container))
		return azure.New(azure.Config{
			ConnectionString: cfg.Azure.ConnectionString,
			Container:        cfg.Azure.Container,
		})
	case "gcs":
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("gcs bucket name: %w", storage.ErrMissingConfig)
		}
		a.logger.Info("Using GCS storage", zap.String("bucket", cfg.GCS.Bucket))
		client, err := gcstorage.NewClient(ctx, a.gcsOptions...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(client.Close)
		return gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket}, a.logger.Named("gcs"))
	case "local":
		a.logger.Info("Using local storage", zap.String("base_dir", cfg.Local.BaseDir))
		return local.New(local.Config{BaseDir: cfg.Local.BaseDir})
	case "memory":
		return memory.NewBlobStore(), nil
	case "noop":
		a.logger.Info("Using no-op storage; feeds will not be uploaded anywhere")
		return storage.Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// Uploader returns an uploader resolving the blob store lazily.
func (a *App) Uploader() *upload.Uploader {
	return upload.New(a.BlobStore, a.logger.Named("upload"))
}

// Notifier connects to Pub/Sub when configured and returns the function
// that releases the client. It returns a nil notifier otherwise.
func (a *App) Notifier(ctx context.Context, uploads notify.UploadsFunc) (*notify.Notifier, func() error, error) {
	cfg := a.cfg.PubSub
	if !cfg.Enabled() {
		return nil, func() error { return nil }, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, a.pubsubOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n := notify.New(client.Topic(cfg.Topic), uploads, a.logger.Named("notify"))
	a.logger.Info("Publishing run summaries", zap.String("topic", cfg.Topic))
	return n, func() error {
		n.Stop()
		return client.Close()
	}, nil
}

// Crawl runs one full crawl: feed and optional Postgres sinks, the colly
// engine, then upload and notification hooks.
func (a *App) Crawl(ctx context.Context) (crawler.Summary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.Summary{}, err
	}
	logger := a.logger.With(zap.String("run_id", runID))

	if a.cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(a.cfg.Metrics.Addr, logger.Named("metrics"))
		if err != nil {
			return crawler.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	sinks, err := a.sinks(ctx, runID)
	if err != nil {
		return crawler.Summary{}, err
	}
	engine, err := crawler.NewEngine(a.cfg.Crawler, runID, sinks, logger.Named("crawler"))
	if err != nil {
		closeAll(sinks)
		return crawler.Summary{}, err
	}

	uploader := a.Uploader()
	engine.OnComplete(uploader.Hook())
	n, release, err := a.Notifier(ctx, uploader.Results)
	if err != nil {
		closeAll(sinks)
		return crawler.Summary{}, err
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn("Failed to close pubsub client", zap.Error(err))
		}
	}()
	if n != nil {
		engine.OnComplete(n.Hook())
	}

	return engine.Run(ctx)
}

func (a *App) sinks(ctx context.Context, runID string) ([]crawler.RecordSink, error) {
	writer, err := feed.NewWriter(a.cfg.Feed)
	if err != nil {
		return nil, err
	}
	sinks := []crawler.RecordSink{writer}
	if a.cfg.Database.Enabled() {
		pg, err := postgres.NewListingStore(ctx, a.cfg.Database, runID)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, pg)
	}
	return sinks, nil
}

func closeAll(sinks []crawler.RecordSink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// Close releases every client the App created.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error shutting down services", zap.Error(err))
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
