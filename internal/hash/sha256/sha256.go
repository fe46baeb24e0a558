// Package sha256 names challenge snapshots by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher. Identical page snapshots map to the same
// object name, so repeated timeouts on one page do not pile up blobs.
type Hasher struct{}

var _ crawler.Hasher = (*Hasher)(nil)

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
