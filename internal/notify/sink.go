package notify

import (
	"context"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Sink consumes batches of notifications. Implementations must honor ctx
// deadlines and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []crawler.Notification) error
	Close(ctx context.Context) error
}
