// Package registry holds the immutable per-site scrape configuration.
package registry

import (
	"fmt"
	"sort"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Registry is the read-only collection of configured targets. It is built
// once at startup; changing a target means building a new Registry and
// swapping it at the composition root, never editing in place.
type Registry struct {
	targets map[string]scrape.Target
}

// New validates the target definitions and builds a Registry.
func New(targets []scrape.Target) (*Registry, error) {
	m := make(map[string]scrape.Target, len(targets))
	for _, t := range targets {
		if err := validate(t); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.ID, err)
		}
		if _, exists := m[t.ID]; exists {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		m[t.ID] = t
	}
	return &Registry{targets: m}, nil
}

// Get returns the target and whether it exists.
func (r *Registry) Get(id string) (scrape.Target, bool) {
	t, ok := r.targets[id]
	return t, ok
}

// ListActive returns all active targets sorted by id.
func (r *Registry) ListActive() []scrape.Target {
	out := make([]scrape.Target, 0, len(r.targets))
	for _, t := range r.targets {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAll returns every configured target sorted by id.
func (r *Registry) ListAll() []scrape.Target {
	out := make([]scrape.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validate(t scrape.Target) error {
	if t.ID == "" {
		return fmt.Errorf("id must be set")
	}
	if t.BaseURL == "" {
		return fmt.Errorf("base_url must be set")
	}
	if t.Selectors.Container == "" || t.Selectors.Title == "" {
		return fmt.Errorf("selectors.container and selectors.title must be set")
	}
	if t.Pagination.MaxPages <= 0 {
		return fmt.Errorf("pagination.max_pages must be > 0")
	}
	switch t.Pagination.Mode {
	case scrape.PaginationByPage, scrape.PaginationByOffset, scrape.PaginationByCursor:
	default:
		return fmt.Errorf("unknown pagination mode %q", t.Pagination.Mode)
	}
	if t.Pagination.Mode == scrape.PaginationByOffset && t.Pagination.PageSize <= 0 {
		return fmt.Errorf("pagination.page_size must be > 0 for offset mode")
	}
	if t.Rate.RequestsPerMinute < 0 || t.Rate.DelayBetweenRequests < 0 {
		return fmt.Errorf("rate limits must be >= 0")
	}
	return nil
}
