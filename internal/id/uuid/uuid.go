// Package uuid generates crawl cycle identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Generator issues UUIDv7 strings, so cycle IDs sort by start time.
type Generator struct{}

var _ crawler.IDGenerator = Generator{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a fresh UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate cycle id: %w", err)
	}
	return id.String(), nil
}
