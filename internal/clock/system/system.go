// Package system provides the wall clock used outside tests.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Clock implements crawler.Clock in UTC.
type Clock struct{}

var _ crawler.Clock = (*Clock)(nil)

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done. Non-positive durations return at
// once.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
