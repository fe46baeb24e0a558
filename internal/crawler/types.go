// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"time"
)

// ErrSourceNotFound is returned when activation targets an unknown source.
var ErrSourceNotFound = errors.New("source not found")

// Source describes one external site the crawler knows about.
type Source struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	BaseURL     string `json:"base_url"`
	Active      bool   `json:"active"`
}

// Listing is the normalized record persisted for each crawled URL. URL is the
// dedupe key used by every ListingStore implementation.
type Listing struct {
	URL         string            `json:"url"`
	SourceID    int64             `json:"source_id"`
	SourceName  string            `json:"source_name"`
	Title       string            `json:"title"`
	Price       *float64          `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Photos      []string          `json:"photos,omitempty"`
	ScrapedAt   time.Time         `json:"scraped_at"`
}

// HasIdentity reports whether the mandatory identity fields are present.
func (l Listing) HasIdentity() bool {
	return l.URL != "" && l.Title != ""
}

// CrawlAttempt tracks the retry state of the adapter currently being crawled.
type CrawlAttempt struct {
	Adapter      string    `json:"adapter"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	NextRetryAt  time.Time `json:"next_retry_at"`
}

// NotificationKind labels operator-facing notifications.
type NotificationKind string

// Notification kinds emitted by the engine, challenge handler and classifier.
const (
	NotifyAdapterStart      NotificationKind = "adapter_start"
	NotifyAdapterSummary    NotificationKind = "adapter_summary"
	NotifyChallengeDetected NotificationKind = "challenge_detected"
	NotifyError             NotificationKind = "error"
	NotifyCritical          NotificationKind = "critical"
)

// Valid reports whether k is a known notification kind.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyAdapterStart, NotifyAdapterSummary, NotifyChallengeDetected, NotifyError, NotifyCritical:
		return true
	default:
		return false
	}
}

// Notification is a single best-effort message for operators.
type Notification struct {
	Kind    NotificationKind
	At      time.Time
	Adapter string
	URL     string
	Message string
	Fields  map[string]any
}
