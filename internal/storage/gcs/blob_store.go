// Package gcs provides a BlobStore backed by Google Cloud Storage.
//
// GCS objects are immutable, so appends are emulated: the new data is
// written to a temporary part object which is then composed onto the end of
// the existing object and deleted.
package gcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	blobstorage "github.com/JakeFAU/gallito-crawler/internal/storage"
)

// Config names the bucket feeds are appended to.
type Config struct {
	Bucket string
}

// BlobStore appends uploads to objects in one bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name: %w", blobstorage.ErrMissingConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// PutObject appends the content of r to the object named path and returns
// its gs:// URI. A missing object is created, even for an empty reader.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)
	bkt := s.client.Bucket(s.bucket)
	target := bkt.Object(path)

	attrs, err := target.Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		if err := s.write(ctx, target.If(storage.Conditions{DoesNotExist: true}), contentType, r); err != nil {
			return "", fmt.Errorf("create %s: %w", uri, err)
		}
		return uri, nil
	case err != nil:
		return "", fmt.Errorf("stat %s: %w", uri, err)
	}

	data := bufio.NewReader(r)
	if _, err := data.Peek(1); errors.Is(err, io.EOF) {
		return uri, nil
	}

	part := bkt.Object(fmt.Sprintf("%s.part-%s", path, uuid.NewString()))
	if err := s.write(ctx, part, contentType, data); err != nil {
		return "", fmt.Errorf("write part for %s: %w", uri, err)
	}
	defer func() {
		// The part is removed even when ctx was canceled.
		if err := part.Delete(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Warn("Failed to delete part object", zap.String("object", part.ObjectName()), zap.Error(err))
		}
	}()

	composer := target.If(storage.Conditions{GenerationMatch: attrs.Generation}).
		ComposerFrom(target.Generation(attrs.Generation), part)
	composer.ContentType = attrs.ContentType
	if contentType != "" {
		composer.ContentType = contentType
	}
	if _, err := composer.Run(ctx); err != nil {
		return "", fmt.Errorf("compose %s: %w", uri, err)
	}
	return uri, nil
}

func (s *BlobStore) write(ctx context.Context, obj *storage.ObjectHandle, contentType string, r io.Reader) error {
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
