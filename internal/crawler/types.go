package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/gallito-crawler/internal/listing"
	"github.com/JakeFAU/gallito-crawler/internal/metrics"
)

const (
	pageKindIndex   = metrics.PageKindIndex
	pageKindListing = metrics.PageKindListing
)

// RecordSink receives every extracted listing record.
type RecordSink interface {
	Write(ctx context.Context, rec listing.Record) error
	Close() error
}

// CompletionHook runs once after the crawl finished and the sinks are closed.
type CompletionHook func(ctx context.Context, summary Summary) error

// Summary reports what a run did.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Pages      int64     `json:"pages"`
	Listings   int64     `json:"listings"`
	Skipped    int64     `json:"skipped"`
	Failed     int64     `json:"failed"`
	Feeds      []Feed    `json:"feeds,omitempty"`
}

// Feed is a local file a run wrote records to. Offset is where this run's
// records start; earlier bytes belong to previous runs.
type Feed struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
}

// Paths returns the path of every feed in s.
func (s Summary) Paths() []string {
	paths := make([]string, 0, len(s.Feeds))
	for _, f := range s.Feeds {
		paths = append(paths, f.Path)
	}
	return paths
}

// fileSink is implemented by sinks backed by a local file.
type fileSink interface {
	Path() string
	Offset() int64
}
