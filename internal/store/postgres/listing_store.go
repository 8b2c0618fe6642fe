// Package postgres mirrors extracted listings into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gallito-crawler/internal/listing"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("listing store closed")

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// Enabled reports whether a DSN was configured.
func (c Config) Enabled() bool {
	return c.DSN != ""
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore writes one row per extracted listing, tagged with the run ID.
type ListingStore struct {
	pool   execCloser
	table  string
	runID  string
	closed bool
}

// NewListingStore connects to Postgres using cfg.
func NewListingStore(ctx context.Context, cfg Config, runID string) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &ListingStore{pool: pool, table: table, runID: runID}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewListingStoreWithPool constructs a store from an existing pool.
func NewListingStoreWithPool(pool execCloser, table, runID string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ListingStore{pool: pool, table: name, runID: runID}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the listing table when it does not exist.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	source TEXT NOT NULL,
	property_type TEXT NOT NULL,
	url TEXT NOT NULL,
	link TEXT NOT NULL,
	front_img TEXT NOT NULL,
	image_urls JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Write inserts rec. A listing already stored for this run is left as is.
func (s *ListingStore) Write(ctx context.Context, rec listing.Record) error {
	if s.closed {
		return ErrClosed
	}
	images, err := json.Marshal(rec.ImageURLs)
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, id, source, property_type, url, link, front_img, image_urls)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id, url) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		s.runID,
		rec.ID,
		rec.Source,
		string(rec.PropertyType),
		rec.URL,
		rec.Link,
		rec.FrontImg,
		images,
	); err != nil {
		return fmt.Errorf("insert listing %s: %w", rec.URL, err)
	}
	return nil
}

// Close releases the pool. It is safe to call more than once.
func (s *ListingStore) Close() error {
	if s == nil || s.pool == nil || s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
