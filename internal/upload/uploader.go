// Package upload ships finished feed files to blob storage.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/metrics"
	"github.com/JakeFAU/gallito-crawler/internal/storage"
)

// ContentType is sent with every feed upload.
const ContentType = "application/jsonl"

// StoreFactory builds the blob store when the upload runs, so a missing
// credential only fails the upload step.
type StoreFactory func(ctx context.Context) (storage.BlobStore, error)

// Result describes one uploaded file.
type Result struct {
	Path string `json:"path"`
	URI  string `json:"uri"`
}

// Uploader uploads local feed files under their own path names.
type Uploader struct {
	newStore StoreFactory
	logger   *zap.Logger
	mu       sync.Mutex
	last     []Result
}

// New returns an Uploader resolving its blob store through factory.
func New(factory StoreFactory, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{newStore: factory, logger: logger}
}

// Upload sends every file in paths to the blob store once, whole. There is
// no retry; the first failure is returned and local files are left in place.
func (u *Uploader) Upload(ctx context.Context, paths []string) ([]Result, error) {
	feeds := make([]crawler.Feed, 0, len(paths))
	for _, path := range paths {
		feeds = append(feeds, crawler.Feed{Path: path})
	}
	return u.UploadFeeds(ctx, feeds)
}

// UploadFeeds is Upload for the feeds of a run: only the bytes from each
// feed's offset onwards are sent, so records of earlier runs that are still
// in an appended feed file are not stored twice.
func (u *Uploader) UploadFeeds(ctx context.Context, feeds []crawler.Feed) ([]Result, error) {
	metrics.Init()
	store, err := u.newStore(ctx)
	if err != nil {
		metrics.ObserveUpload("error")
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	results := make([]Result, 0, len(feeds))
	for _, feed := range feeds {
		uri, err := u.uploadFile(ctx, store, feed)
		if err != nil {
			metrics.ObserveUpload("error")
			return results, err
		}
		metrics.ObserveUpload("success")
		u.logger.Info("Uploaded feed",
			zap.String("path", feed.Path),
			zap.Int64("offset", feed.Offset),
			zap.String("uri", uri),
		)
		results = append(results, Result{Path: feed.Path, URI: uri})
	}
	u.mu.Lock()
	u.last = results
	u.mu.Unlock()
	return results, nil
}

func (u *Uploader) uploadFile(ctx context.Context, store storage.BlobStore, feed crawler.Feed) (string, error) {
	path := feed.Path
	// #nosec G304 -- feed paths come from configuration.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open feed %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			u.logger.Warn("Failed to close feed", zap.String("path", path), zap.Error(cerr))
		}
	}()
	if feed.Offset > 0 {
		if _, err := f.Seek(feed.Offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek feed %s: %w", path, err)
		}
	}
	uri, err := store.PutObject(ctx, path, ContentType, f)
	if err != nil {
		return "", fmt.Errorf("upload feed %s: %w", path, err)
	}
	return uri, nil
}

// Results returns what the last successful Upload produced.
func (u *Uploader) Results() []Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

// Hook adapts the uploader to a crawl completion hook uploading the feeds
// named in the run summary.
func (u *Uploader) Hook() crawler.CompletionHook {
	return func(ctx context.Context, summary crawler.Summary) error {
		u.logger.Info("Uploading feeds",
			zap.String("run_id", summary.RunID),
			zap.Strings("paths", summary.Paths()),
			zap.Int64("listings", summary.Listings),
		)
		_, err := u.UploadFeeds(ctx, summary.Feeds)
		return err
	}
}
