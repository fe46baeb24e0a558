// Package postgres persists listings and sources in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	ListingsTable   string
	SourcesTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements crawler.ListingStore and crawler.SourceRegistry.
type Store struct {
	pool     pool
	listings string
	sources  string
}

var (
	_ crawler.ListingStore   = (*Store)(nil)
	_ crawler.SourceRegistry = (*Store)(nil)
)

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	listings, sources, err := tableNames(cfg.ListingsTable, cfg.SourcesTable)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, listings: listings, sources: sources}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, listingsTable, sourcesTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	listings, sources, err := tableNames(listingsTable, sourcesTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, listings: listings, sources: sources}, nil
}

func tableNames(listings, sources string) (string, string, error) {
	if listings == "" {
		listings = "listings"
	}
	if sources == "" {
		sources = "sources"
	}
	for _, name := range []string{listings, sources} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return listings, sources, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[2]s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS %[1]s (
	url TEXT PRIMARY KEY,
	source_id BIGINT REFERENCES %[2]s(id),
	source_name TEXT NOT NULL,
	title TEXT NOT NULL,
	price NUMERIC,
	currency TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	photos JSONB NOT NULL DEFAULT '[]'::jsonb,
	scraped_at TIMESTAMPTZ NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source_name);`, s.listings, s.sources)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// UpsertListing writes listing in one statement keyed by URL.
func (s *Store) UpsertListing(ctx context.Context, listing crawler.Listing) error {
	if listing.URL == "" {
		return fmt.Errorf("listing url is required")
	}
	attrs, photos, err := encodeCollections(listing)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	source_id,
	source_name,
	title,
	price,
	currency,
	location,
	description,
	attributes,
	photos,
	scraped_at
) VALUES (
	$1,NULLIF($2, 0),$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (url) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	source_name = EXCLUDED.source_name,
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	location = EXCLUDED.location,
	description = EXCLUDED.description,
	attributes = EXCLUDED.attributes,
	photos = EXCLUDED.photos,
	scraped_at = EXCLUDED.scraped_at`, s.listings)

	args := []any{
		listing.URL,
		listing.SourceID,
		listing.SourceName,
		listing.Title,
		listing.Price,
		listing.Currency,
		listing.Location,
		listing.Description,
		attrs,
		photos,
		listing.ScrapedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// EnsureSource inserts source or refreshes its descriptive columns, keeping
// the stored activation flag.
func (s *Store) EnsureSource(ctx context.Context, source crawler.Source) (crawler.Source, error) {
	if source.Name == "" {
		return crawler.Source{}, fmt.Errorf("source name is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, display_name, base_url, active)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (name) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	base_url = EXCLUDED.base_url
RETURNING id, active`, s.sources)
	if err := s.pool.QueryRow(ctx, query, source.Name, source.DisplayName, source.BaseURL).
		Scan(&source.ID, &source.Active); err != nil {
		return crawler.Source{}, fmt.Errorf("ensure source %s: %w", source.Name, err)
	}
	return source, nil
}

// SetSourceActive toggles the activation flag.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET active = $2 WHERE name = $1`, s.sources)
	tag, err := s.pool.Exec(ctx, query, name, active)
	if err != nil {
		return fmt.Errorf("set source active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, crawler.ErrSourceNotFound)
	}
	return nil
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]crawler.Source, error) {
	query := fmt.Sprintf(`SELECT id, name, display_name, base_url, active FROM %s ORDER BY id`, s.sources)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []crawler.Source
	for rows.Next() {
		var src crawler.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.DisplayName, &src.BaseURL, &src.Active); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func encodeCollections(listing crawler.Listing) ([]byte, []byte, error) {
	attrs := listing.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	photos := listing.Photos
	if photos == nil {
		photos = []string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal attributes: %w", err)
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal photos: %w", err)
	}
	return attrsJSON, photosJSON, nil
}
