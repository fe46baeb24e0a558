// Package scheduler rotates through registered source adapters.
package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrDuplicateAdapter is returned when two adapters share a name.
var ErrDuplicateAdapter = errors.New("adapter already registered")

// RoundRobin yields registered adapters in a fixed rotation, regardless of
// how previous runs went.
type RoundRobin struct {
	mu       sync.Mutex
	adapters []crawler.Adapter
	names    map[string]struct{}
	cursor   int
}

// New builds a RoundRobin pre-loaded with adapters.
func New(adapters ...crawler.Adapter) (*RoundRobin, error) {
	rr := &RoundRobin{names: make(map[string]struct{})}
	for _, a := range adapters {
		if err := rr.Register(a); err != nil {
			return nil, err
		}
	}
	return rr, nil
}

// Register appends adapter to the rotation.
func (r *RoundRobin) Register(adapter crawler.Adapter) error {
	if adapter == nil {
		return errors.New("adapter is required")
	}
	name := adapter.Name()
	if name == "" {
		return errors.New("adapter name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, name)
	}
	r.names[name] = struct{}{}
	r.adapters = append(r.adapters, adapter)
	return nil
}

// Next returns the adapter under the cursor and advances it. It reports false
// when nothing is registered.
func (r *RoundRobin) Next() (crawler.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.adapters) == 0 {
		return nil, false
	}
	adapter := r.adapters[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.adapters)
	return adapter, true
}

// Len reports how many adapters are registered.
func (r *RoundRobin) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}

// Names lists the registered adapter names in rotation order.
func (r *RoundRobin) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Name())
	}
	return out
}
