// Package azure provides a BlobStore backed by Azure append blobs.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/JakeFAU/gallito-crawler/internal/storage"
)

// DefaultBlockSize is the size of each appended block.
const DefaultBlockSize = 4 * 1024 * 1024

// Config captures the parameters required to reach a container.
type Config struct {
	ConnectionString string
	Container        string
	BlockSize        int
}

type appendBlob interface {
	Create(ctx context.Context, o *appendblob.CreateOptions) (appendblob.CreateResponse, error)
	AppendBlock(ctx context.Context, body io.ReadSeekCloser, o *appendblob.AppendBlockOptions) (appendblob.AppendBlockResponse, error)
	URL() string
}

type blobFactory func(name string) appendBlob

// BlobStore appends uploads to append blobs in a single container.
type BlobStore struct {
	container string
	blockSize int
	newBlob   blobFactory
}

// New builds a BlobStore from a storage account connection string.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		return nil, fmt.Errorf("azure connection string: %w", storage.ErrMissingConfig)
	}
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, fmt.Errorf("azure container name: %w", storage.ErrMissingConfig)
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	container := client.ServiceClient().NewContainerClient(cfg.Container)
	return newWithFactory(cfg, func(name string) appendBlob {
		return container.NewAppendBlobClient(name)
	}), nil
}

func newWithFactory(cfg Config, factory blobFactory) *BlobStore {
	size := cfg.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &BlobStore{
		container: cfg.Container,
		blockSize: size,
		newBlob:   factory,
	}
}

// PutObject appends the content of r to the append blob named path,
// creating the blob first when it does not exist yet. An empty reader still
// leaves an (empty) blob behind.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	target := s.newBlob(path)
	created := false
	appended := 0
	buf := make([]byte, s.blockSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := s.appendBlock(ctx, target, buf[:n], contentType, &created); err != nil {
				return "", fmt.Errorf("append to %s/%s: %w", s.container, path, err)
			}
			appended++
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read upload data: %w", readErr)
		}
	}
	if appended == 0 {
		if err := s.ensureExists(ctx, target, contentType); err != nil {
			return "", fmt.Errorf("create %s/%s: %w", s.container, path, err)
		}
	}
	return target.URL(), nil
}

func (s *BlobStore) appendBlock(ctx context.Context, target appendBlob, chunk []byte, contentType string, created *bool) error {
	_, err := target.AppendBlock(ctx, streaming.NopCloser(bytes.NewReader(chunk)), nil)
	if err == nil {
		return nil
	}
	if *created || !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("append block: %w", err)
	}
	if _, err := target.Create(ctx, createOptions(contentType, false)); err != nil {
		return fmt.Errorf("create append blob: %w", err)
	}
	*created = true
	if _, err := target.AppendBlock(ctx, streaming.NopCloser(bytes.NewReader(chunk)), nil); err != nil {
		return fmt.Errorf("append block: %w", err)
	}
	return nil
}

func (s *BlobStore) ensureExists(ctx context.Context, target appendBlob, contentType string) error {
	_, err := target.Create(ctx, createOptions(contentType, true))
	if err == nil || bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return nil
	}
	return fmt.Errorf("create append blob: %w", err)
}

func createOptions(contentType string, onlyIfMissing bool) *appendblob.CreateOptions {
	opts := &appendblob.CreateOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if onlyIfMissing {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	}
	return opts
}
