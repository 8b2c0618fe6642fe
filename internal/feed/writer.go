// Package feed writes listing records to a newline-delimited JSON file.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/gallito-crawler/internal/listing"
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("feed writer closed")

// Config controls where and how the feed file is written.
type Config struct {
	Path      string `mapstructure:"path"`
	Overwrite bool   `mapstructure:"overwrite"`
}

// Writer appends one JSON record per line to a local file.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	path   string
	offset int64
	file   *os.File
	enc    *json.Encoder
	count  int
}

// NewWriter opens (and creates if needed) the feed file. Existing content is
// kept unless cfg.Overwrite is set; Offset reports where the new records
// begin.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("feed path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create feed dir %s: %w", dir, err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.Overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat feed %s: %w", cfg.Path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &Writer{path: cfg.Path, offset: info.Size(), file: f, enc: enc}, nil
}

// Path returns the local path of the feed file.
func (w *Writer) Path() string {
	return w.path
}

// Offset returns the size the file had before this writer wrote to it.
func (w *Writer) Offset() int64 {
	return w.offset
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Write appends rec as a single line.
func (w *Writer) Write(ctx context.Context, rec listing.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	w.count++
	return nil
}

// Close flushes the file to disk and closes it. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync feed %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close feed %s: %w", w.path, err)
	}
	return nil
}
