// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// ListingStore keeps persisted listings in a map, keyed by listing id.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]scrape.Listing
	order    []string
}

// NewListingStore constructs a ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{
		listings: make(map[string]scrape.Listing),
	}
}

// Store persists one listing and returns its id.
func (s *ListingStore) Store(_ context.Context, listing scrape.Listing) (string, error) {
	if listing.ID == "" {
		return "", errors.New("listing id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.listings[listing.ID]; !exists {
		s.order = append(s.order, listing.ID)
	}
	s.listings[listing.ID] = listing
	return listing.ID, nil
}

// All returns every stored listing in insertion order.
func (s *ListingStore) All() []scrape.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Listing, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listings[id])
	}
	return out
}
