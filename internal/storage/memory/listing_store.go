// Package memory keeps listings, sources and snapshots in process memory for
// local runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Store implements crawler.ListingStore and crawler.SourceRegistry.
type Store struct {
	mu       sync.RWMutex
	listings map[string]crawler.Listing
	sources  map[string]crawler.Source
	nextID   int64
	upserts  int
}

var (
	_ crawler.ListingStore   = (*Store)(nil)
	_ crawler.SourceRegistry = (*Store)(nil)
)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		listings: make(map[string]crawler.Listing),
		sources:  make(map[string]crawler.Source),
	}
}

// UpsertListing inserts or replaces the listing keyed by URL.
func (s *Store) UpsertListing(ctx context.Context, listing crawler.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if listing.URL == "" {
		return fmt.Errorf("listing url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.URL] = cloneListing(listing)
	s.upserts++
	return nil
}

// Listing returns the stored listing for url.
func (s *Store) Listing(url string) (crawler.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[url]
	return cloneListing(l), ok
}

// Listings returns every stored listing ordered by URL.
func (s *Store) Listings() []crawler.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Listing, 0, len(s.listings))
	for _, url := range slices.Sorted(maps.Keys(s.listings)) {
		out = append(out, cloneListing(s.listings[url]))
	}
	return out
}

// Upserts reports how many upsert calls succeeded, including overwrites.
func (s *Store) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// EnsureSource inserts source when unknown and returns the stored row. An
// existing row keeps its ID and activation flag.
func (s *Store) EnsureSource(ctx context.Context, source crawler.Source) (crawler.Source, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Source{}, err
	}
	if source.Name == "" {
		return crawler.Source{}, fmt.Errorf("source name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sources[source.Name]; ok {
		existing.DisplayName = source.DisplayName
		existing.BaseURL = source.BaseURL
		s.sources[source.Name] = existing
		return existing, nil
	}
	s.nextID++
	source.ID = s.nextID
	source.Active = true
	s.sources[source.Name] = source
	return source, nil
}

// SetSourceActive toggles the activation flag.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, crawler.ErrSourceNotFound)
	}
	src.Active = active
	s.sources[name] = src
	return nil
}

// ListSources returns all sources ordered by ID.
func (s *Store) ListSources(ctx context.Context) ([]crawler.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.sources))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping reports ctx errors only; memory is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cloneListing(l crawler.Listing) crawler.Listing {
	l.Attributes = maps.Clone(l.Attributes)
	l.Photos = slices.Clone(l.Photos)
	if l.Price != nil {
		p := *l.Price
		l.Price = &p
	}
	return l
}
