// Package storage defines the blob storage abstraction used to publish crawl
// feeds. Implementations live in the azure, gcs, local and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrMissingConfig is wrapped by backends whose required settings are absent.
var ErrMissingConfig = errors.New("storage configuration missing")

// BlobStore uploads the content of r to the object at path and returns a URI
// for the stored object. Backends append to an existing object; Discard keeps
// nothing.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Provider string      `mapstructure:"provider"`
	Azure    AzureConfig `mapstructure:"azure"`
	GCS      GCSConfig   `mapstructure:"gcs"`
	Local    LocalConfig `mapstructure:"local"`
}

// AzureConfig holds the Azure Blob Storage credential and target container.
type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

// GCSConfig names the Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// LocalConfig points at the directory used by the local backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Discard is a BlobStore that drains uploads and keeps nothing.
type Discard struct{}

// PutObject reads r to the end and returns a noop:// URI.
func (Discard) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("drain %s: %w", path, err)
	}
	return "noop://" + path, nil
}
