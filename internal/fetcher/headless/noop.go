package headless

import (
	"context"
	"fmt"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Noop is a stand-in used when headless rendering is disabled. Any attempt to
// fetch through it is an error so misconfiguration surfaces immediately.
type Noop struct{}

// NewNoop returns a disabled headless fetcher.
func NewNoop() *Noop { return &Noop{} }

// Fetch always fails.
func (*Noop) Fetch(_ context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	return scrape.FetchResponse{}, fmt.Errorf("headless fetching disabled, cannot render %s", request.URL)
}

// Close is a no-op.
func (*Noop) Close() {}
