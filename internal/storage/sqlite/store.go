// Package sqlite persists listings and sources in a single SQLite file for
// local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store implements crawler.ListingStore and crawler.SourceRegistry.
type Store struct {
	db *sql.DB
}

var (
	_ crawler.ListingStore   = (*Store)(nil)
	_ crawler.SourceRegistry = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := MemoryDSN
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS listings (
		url TEXT PRIMARY KEY,
		source_id INTEGER,
		source_name TEXT NOT NULL,
		title TEXT NOT NULL,
		price REAL,
		currency TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		attributes TEXT NOT NULL DEFAULT '{}',
		photos TEXT NOT NULL DEFAULT '[]',
		scraped_at DATETIME NOT NULL,
		first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_name);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// UpsertListing writes listing in one statement keyed by URL.
func (s *Store) UpsertListing(ctx context.Context, listing crawler.Listing) error {
	if listing.URL == "" {
		return fmt.Errorf("listing url is required")
	}
	attrs, err := json.Marshal(nonNilMap(listing.Attributes))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	photos, err := json.Marshal(nonNilSlice(listing.Photos))
	if err != nil {
		return fmt.Errorf("marshal photos: %w", err)
	}
	var sourceID any
	if listing.SourceID != 0 {
		sourceID = listing.SourceID
	}
	query := `
	INSERT INTO listings (url, source_id, source_name, title, price, currency, location, description, attributes, photos, scraped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		source_id = excluded.source_id,
		source_name = excluded.source_name,
		title = excluded.title,
		price = excluded.price,
		currency = excluded.currency,
		location = excluded.location,
		description = excluded.description,
		attributes = excluded.attributes,
		photos = excluded.photos,
		scraped_at = excluded.scraped_at
	`
	_, err = s.db.ExecContext(ctx, query,
		listing.URL,
		sourceID,
		listing.SourceName,
		listing.Title,
		listing.Price,
		listing.Currency,
		listing.Location,
		listing.Description,
		string(attrs),
		string(photos),
		listing.ScrapedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// GetListing reads one listing by URL. It returns sql.ErrNoRows (wrapped)
// when absent.
func (s *Store) GetListing(ctx context.Context, url string) (crawler.Listing, error) {
	query := `
	SELECT url, COALESCE(source_id, 0), source_name, title, price, currency, location, description, attributes, photos, scraped_at
	FROM listings WHERE url = ?
	`
	var (
		l      crawler.Listing
		price  sql.NullFloat64
		attrs  string
		photos string
	)
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&l.URL, &l.SourceID, &l.SourceName, &l.Title, &price,
		&l.Currency, &l.Location, &l.Description, &attrs, &photos, &l.ScrapedAt,
	)
	if err != nil {
		return crawler.Listing{}, fmt.Errorf("get listing %s: %w", url, err)
	}
	if price.Valid {
		l.Price = &price.Float64
	}
	if err := json.Unmarshal([]byte(attrs), &l.Attributes); err != nil {
		return crawler.Listing{}, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(photos), &l.Photos); err != nil {
		return crawler.Listing{}, fmt.Errorf("decode photos: %w", err)
	}
	return l, nil
}

// CountListings returns the number of stored listings.
func (s *Store) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// EnsureSource inserts source or refreshes its descriptive columns, keeping
// the stored activation flag.
func (s *Store) EnsureSource(ctx context.Context, source crawler.Source) (crawler.Source, error) {
	if source.Name == "" {
		return crawler.Source{}, fmt.Errorf("source name is required")
	}
	query := `
	INSERT INTO sources (name, display_name, base_url, active)
	VALUES (?, ?, ?, 1)
	ON CONFLICT(name) DO UPDATE SET
		display_name = excluded.display_name,
		base_url = excluded.base_url
	RETURNING id, active
	`
	if err := s.db.QueryRowContext(ctx, query, source.Name, source.DisplayName, source.BaseURL).
		Scan(&source.ID, &source.Active); err != nil {
		return crawler.Source{}, fmt.Errorf("ensure source %s: %w", source.Name, err)
	}
	return source, nil
}

// SetSourceActive toggles the activation flag.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET active = ? WHERE name = ?`, active, name)
	if err != nil {
		return fmt.Errorf("set source active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set source active: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, crawler.ErrSourceNotFound)
	}
	return nil
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]crawler.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, display_name, base_url, active FROM sources ORDER BY id`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
