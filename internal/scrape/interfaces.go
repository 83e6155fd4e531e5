package scrape

import (
	"context"
	"time"
)

// Fetcher fetches one result page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ListingStore persists extracted listings.
type ListingStore interface {
	Store(ctx context.Context, listing Listing) (string, error)
}

// BlobStore archives raw page payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Deduper answers whether a listing's source URL has been seen by any job.
type Deduper interface {
	MarkIfNew(ctx context.Context, sourceURL string) (bool, error)
}

// RobotsPolicy answers whether a URL may be fetched under the site's crawl policy.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(rawURL string) time.Duration
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and listing IDs.
type IDGenerator interface {
	NewID() (string, error)
}
