package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
)

// BlobStore keeps snapshots in memory and returns memory:// URIs.
type BlobStore struct {
	mu     sync.RWMutex
	prefix string
	data   map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{
		prefix: strings.Trim(prefix, "/"),
		data:   make(map[string][]byte),
	}
}

// PutObject stores a copy of r.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	if s.prefix != "" {
		name = path.Join(s.prefix, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = data
	return "memory://" + name, nil
}

// Object returns the stored bytes for name.
func (s *BlobStore) Object(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	return append([]byte(nil), data...), ok
}
