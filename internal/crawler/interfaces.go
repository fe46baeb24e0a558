package crawler

import (
	"context"
	"io"
	"iter"
	"time"
)

// Adapter is the capability contract every source implements. ListCandidates
// is restartable per cycle; each call yields a fresh lazy sequence of URLs.
type Adapter interface {
	Name() string
	ListCandidates(ctx context.Context) iter.Seq2[string, error]
	FetchRecord(ctx context.Context, page Page, url string) (Listing, error)
	Validate(record Listing) bool
	Normalize(record Listing) Listing
}

// SourceDescriber is implemented by adapters that can seed their Source row.
type SourceDescriber interface {
	Source() Source
}

// AvailabilityChecker is implemented by adapters that can report themselves
// unavailable before listing starts.
type AvailabilityChecker interface {
	Available(ctx context.Context) error
}

// ListingStore is the persistence gateway. UpsertListing must be idempotent
// and keyed by Listing.URL.
type ListingStore interface {
	UpsertListing(ctx context.Context, listing Listing) error
}

// SourceRegistry persists the known sources and their activation flag.
type SourceRegistry interface {
	EnsureSource(ctx context.Context, source Source) (Source, error)
	SetSourceActive(ctx context.Context, name string, active bool) error
	ListSources(ctx context.Context) ([]Source, error)
}

// Notifier delivers best-effort operator notifications. It must never block
// the caller for long or fail the crawl.
type Notifier interface {
	Notify(n Notification)
}

// Page is a single browser tab owned by one fetch attempt.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// Click activates the first element matching selector. It reports false
	// when nothing matched.
	Click(ctx context.Context, selector string) (bool, error)
	Evaluate(ctx context.Context, script string) error
	Close()
}

// Browser hands out pages. Every acquired page must be closed exactly once.
type Browser interface {
	Acquire(ctx context.Context) (Page, error)
}

// Recycler tears down and recreates long-lived browser state.
type Recycler interface {
	Recycle(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes notification payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
