package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/dedupe"
	pubmem "github.com/careerscope/jobharvester/internal/publisher/memory"
	"github.com/careerscope/jobharvester/internal/scrape"
	storemem "github.com/careerscope/jobharvester/internal/storage/memory"
)

type staticTargets map[string]scrape.Target

func (s staticTargets) Get(id string) (scrape.Target, bool) {
	t, ok := s[id]
	return t, ok
}

type scriptedFetcher struct {
	mu      sync.Mutex
	urls    []string
	onFetch func(call int, req scrape.FetchRequest) (scrape.FetchResponse, error)
}

func (f *scriptedFetcher) Fetch(_ context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.mu.Lock()
	call := len(f.urls)
	f.urls = append(f.urls, req.URL)
	fn := f.onFetch
	f.mu.Unlock()
	return fn(call, req)
}

func (f *scriptedFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type scriptedExtractor struct {
	extract func(page []byte, target scrape.Target) ([]scrape.Listing, string, error)
}

func (e *scriptedExtractor) Extract(page []byte, target scrape.Target) ([]scrape.Listing, string, error) {
	return e.extract(page, target)
}

func (e *scriptedExtractor) Skills(description string, _ []string) []string {
	if strings.Contains(strings.ToLower(description), "python") {
		return []string{"python"}
	}
	return nil
}

type openLimiter struct {
	mu       sync.Mutex
	recorded int
}

func (l *openLimiter) CanProceed(string, scrape.RatePolicy) bool { return true }

func (l *openLimiter) RecordRequest(string) {
	l.mu.Lock()
	l.recorded++
	l.mu.Unlock()
}

func (l *openLimiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type closedLimiter struct{ openLimiter }

func (l *closedLimiter) CanProceed(string, scrape.RatePolicy) bool { return false }

type policyStub struct {
	allowed bool
	delay   time.Duration
}

func (p policyStub) Allowed(context.Context, string) bool { return p.allowed }
func (p policyStub) CrawlDelay(string) time.Duration      { return p.delay }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%04d", g.n), nil
}

type capturingStore struct {
	mu      sync.Mutex
	stored  []scrape.Listing
	failURL string
}

func (s *capturingStore) Store(_ context.Context, listing scrape.Listing) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failURL != "" && listing.SourceURL == s.failURL {
		return "", fmt.Errorf("connection reset")
	}
	s.stored = append(s.stored, listing)
	return listing.ID, nil
}

func (s *capturingStore) all() []scrape.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.Listing(nil), s.stored...)
}

func testTarget() scrape.Target {
	return scrape.Target{
		ID:         "tech-board",
		Name:       "Tech Board",
		BaseURL:    "https://jobs.example.com",
		SearchPath: "/search",
		Headers:    map[string]string{"Accept-Language": "en-US"},
		Selectors:  scrape.Selectors{Container: ".job", Title: ".title"},
		Rate:       scrape.RatePolicy{RequestsPerMinute: 0, DelayBetweenRequests: 0},
		Pagination: scrape.Pagination{Mode: scrape.PaginationByPage, Param: "page", MaxPages: 3},
		IsActive:   true,
	}
}

func makeListings(page, count int) []scrape.Listing {
	out := make([]scrape.Listing, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, scrape.Listing{
			ID:          fmt.Sprintf("l-%d-%d", page, i),
			Title:       fmt.Sprintf("Engineer %d-%d", page, i),
			Description: "python required",
			SourceURL:   fmt.Sprintf("https://jobs.example.com/jobs/%d-%d", page, i),
			SourceName:  "Tech Board",
		})
	}
	return out
}

func okPage(call int, _ scrape.FetchRequest) (scrape.FetchResponse, error) {
	body := fmt.Sprintf("<html><body>page %d</body></html>", call)
	return scrape.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}, nil
}

type fixture struct {
	orch      *Orchestrator
	fetcher   *scriptedFetcher
	store     *capturingStore
	publisher *pubmem.Publisher
	blobs     *storemem.BlobStore
	limiter   *openLimiter
}

func newFixture(t *testing.T, cfg Config, mutate func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		fetcher:   &scriptedFetcher{onFetch: okPage},
		store:     &capturingStore{},
		publisher: pubmem.New(),
		blobs:     storemem.NewBlobStore(),
		limiter:   &openLimiter{},
	}
	perPage := 3
	deps := Deps{
		Targets: staticTargets{"tech-board": testTarget()},
		Fetcher: f.fetcher,
		Policy:  policyStub{allowed: true},
		Limiter: f.limiter,
		Extractor: &scriptedExtractor{
			extract: func(page []byte, _ scrape.Target) ([]scrape.Listing, string, error) {
				var n int
				fmt.Sscanf(string(page), "<html><body>page %d</body></html>", &n)
				return makeListings(n, perPage), "", nil
			},
		},
		Store:     f.store,
		Blobs:     f.blobs,
		Publisher: f.publisher,
		Deduper:   dedupe.NewMemory(),
		Clock:     fixedClock{t: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)},
		IDs:       &seqIDs{},
		Logger:    zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
		if sf, ok := deps.Fetcher.(*scriptedFetcher); ok {
			f.fetcher = sf
		}
	}

	orch, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	f.orch = orch
	return f
}

func waitForStatus(t *testing.T, orch *Orchestrator, jobID string, want scrape.JobStatus) scrape.Job {
	t.Helper()
	var job scrape.Job
	require.Eventually(t, func() bool {
		j, err := orch.Get(jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 5*time.Second, 2*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func TestStartUnknownOrInactiveTarget(t *testing.T) {
	t.Parallel()

	inactive := testTarget()
	inactive.ID = "dormant"
	inactive.IsActive = false
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": testTarget(), "dormant": inactive}
	})

	_, err := f.orch.Start("nope", nil, "", scrape.JobSettings{})
	require.ErrorIs(t, err, scrape.ErrTargetUnavailable)

	_, err = f.orch.Start("dormant", nil, "", scrape.JobSettings{})
	require.ErrorIs(t, err, scrape.ErrTargetUnavailable)
}

func TestJobRunsToCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{EventTopic: "jobs.events", ArchivePages: true}, nil)

	id, err := f.orch.Start("tech-board", []string{"golang", "backend"}, "Berlin", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 3, job.Progress.PagesScraped)
	require.Equal(t, 3, job.Progress.TotalPages)
	require.Equal(t, 9, job.Progress.ListingsFound)
	require.Equal(t, 9, job.Progress.ListingsProcessed)
	require.Empty(t, job.Errors)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	urls := f.fetcher.fetched()
	require.Len(t, urls, 3)
	require.Contains(t, urls[0], "page=1")
	require.Contains(t, urls[0], "q=golang+backend")
	require.Contains(t, urls[0], "location=Berlin")
	require.Contains(t, urls[2], "page=3")

	require.Len(t, f.store.all(), 9)
	for _, l := range f.store.all() {
		require.Equal(t, []string{"python"}, l.Skills)
	}

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(JobEvent)
	require.True(t, ok)
	require.Equal(t, "completed", event.Status)
	require.Equal(t, 9, event.ListingsProcessed)

	_, archived := f.blobs.Object(fmt.Sprintf("jobs/%s/pages/000.html", id))
	require.True(t, archived)
}

func TestPagesNeverExceedMaxPages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.LessOrEqual(t, job.Progress.PagesScraped, job.Progress.TotalPages)
	require.Len(t, f.fetcher.fetched(), 3)
}

func TestMaxListingsStopsEarly(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination.MaxPages = 10
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Extractor = &scriptedExtractor{
			extract: func(page []byte, _ scrape.Target) ([]scrape.Listing, string, error) {
				var n int
				fmt.Sscanf(string(page), "<html><body>page %d</body></html>", &n)
				return makeListings(n, 10), "", nil
			},
		}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{MaxListings: 5})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 1, job.Progress.PagesScraped)
	require.Equal(t, 10, job.Progress.ListingsFound)
	require.Len(t, f.fetcher.fetched(), 1)
}

func TestPolicyDisallowedFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, func(d *Deps) {
		d.Policy = policyStub{allowed: false}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{RespectPolicy: true})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusFailed)
	require.Contains(t, job.Errors, scrape.ErrPolicyDisallowed.Error())
	require.Empty(t, f.fetcher.fetched())
}

func TestTooManyPageFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, func(d *Deps) {
		d.Fetcher = &scriptedFetcher{onFetch: func(int, scrape.FetchRequest) (scrape.FetchResponse, error) {
			return scrape.FetchResponse{}, fmt.Errorf("connection refused")
		}}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{RetryAttempts: 2})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusFailed)
	require.Len(t, job.Errors, 4)
	require.Equal(t, "too many page failures", job.Errors[len(job.Errors)-1])
	require.Zero(t, job.Progress.PagesScraped)
}

func TestRateLimitNeverClearsFailsPage(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Rate.DelayBetweenRequests = time.Millisecond
	f := newFixture(t, Config{MaxRateWaits: 2}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Limiter = &closedLimiter{}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{RetryAttempts: 1})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusFailed)
	require.Equal(t, "too many page failures", job.Errors[len(job.Errors)-1])
	require.Empty(t, f.fetcher.fetched())
}

func TestPersistenceFailureIsContained(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination.MaxPages = 1
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Extractor = &scriptedExtractor{
			extract: func([]byte, scrape.Target) ([]scrape.Listing, string, error) {
				return makeListings(0, 10), "", nil
			},
		}
	})
	f.store.failURL = "https://jobs.example.com/jobs/0-4"

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Len(t, job.Errors, 1)
	require.Contains(t, job.Errors[0], "persist https://jobs.example.com/jobs/0-4")
	require.Equal(t, 9, job.Progress.ListingsProcessed)
	require.Len(t, f.store.all(), 9)
}

func TestDuplicateListingsSkipped(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination.MaxPages = 1
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Extractor = &scriptedExtractor{
			extract: func([]byte, scrape.Target) ([]scrape.Listing, string, error) {
				listings := makeListings(0, 2)
				listings[1].SourceURL = listings[0].SourceURL
				return listings, "", nil
			},
		}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 1, job.Progress.ListingsProcessed)
	require.Equal(t, 1, job.Progress.DuplicatesSkipped)
	require.Len(t, f.store.all(), 1)
}

func TestCancelStopsRunningJob(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Fetcher = &scriptedFetcher{onFetch: func(call int, req scrape.FetchRequest) (scrape.FetchResponse, error) {
			once.Do(func() { close(started) })
			<-release
			return okPage(call, req)
		}}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	<-started
	require.NoError(t, f.orch.Cancel(id))
	close(release)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusFailed)
	require.Contains(t, job.Errors, "cancelled by user")

	// The page that was in flight finishes, but nothing further is fetched.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, f.fetcher.fetched(), 1)

	require.ErrorIs(t, f.orch.Cancel(id), scrape.ErrInvalidTransition)
}

func TestPauseResumeContinuity(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination.MaxPages = 6

	var holder struct {
		mu   sync.Mutex
		orch *Orchestrator
		id   string
	}
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Fetcher = &scriptedFetcher{onFetch: func(call int, req scrape.FetchRequest) (scrape.FetchResponse, error) {
			if call == 3 {
				holder.mu.Lock()
				orch, id := holder.orch, holder.id
				holder.mu.Unlock()
				require.NoError(t, orch.Pause(id))
			}
			return okPage(call, req)
		}}
	})

	holder.mu.Lock()
	holder.orch = f.orch
	holder.mu.Unlock()

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)
	holder.mu.Lock()
	holder.id = id
	holder.mu.Unlock()

	job := waitForStatus(t, f.orch, id, scrape.JobStatusPaused)
	require.Equal(t, 4, job.Progress.PagesScraped)
	require.Len(t, f.fetcher.fetched(), 4)

	require.NoError(t, f.orch.Resume(id))
	job = waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 6, job.Progress.PagesScraped)

	urls := f.fetcher.fetched()
	require.Len(t, urls, 6)
	require.Contains(t, urls[4], "page=5")
	require.Contains(t, urls[5], "page=6")
}

func TestInvalidTransitionsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)
	waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)

	require.ErrorIs(t, f.orch.Pause(id), scrape.ErrInvalidTransition)
	require.ErrorIs(t, f.orch.Resume(id), scrape.ErrInvalidTransition)
	require.ErrorIs(t, f.orch.Cancel(id), scrape.ErrInvalidTransition)

	require.ErrorIs(t, f.orch.Pause("missing"), scrape.ErrJobNotFound)
	_, err = f.orch.Get("missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestHeadlessPromotion(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination.MaxPages = 1
	rendered := &scriptedFetcher{onFetch: func(call int, req scrape.FetchRequest) (scrape.FetchResponse, error) {
		resp, err := okPage(call, req)
		resp.UsedHeadless = true
		return resp, err
	}}
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Headless = rendered
		d.Detector = promoteAlways{}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 1, job.Progress.HeadlessPromotions)
	require.Len(t, rendered.fetched(), 1)
}

type promoteAlways struct{}

func (promoteAlways) ShouldPromote(scrape.FetchResponse) bool { return true }

func TestListViews(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	first, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)
	waitForStatus(t, f.orch, first, scrape.JobStatusCompleted)

	second, err := f.orch.Start("tech-board", []string{"rust"}, "", scrape.JobSettings{})
	require.NoError(t, err)
	waitForStatus(t, f.orch, second, scrape.JobStatusCompleted)

	all := f.orch.ListAll()
	require.Len(t, all, 2)
	require.Equal(t, first, all[0].ID)
	require.Equal(t, second, all[1].ID)

	require.Empty(t, f.orch.ListActive())

	listings, err := f.orch.Listings(first)
	require.NoError(t, err)
	require.Len(t, listings, 9)
}

func TestBuildSearchURL(t *testing.T) {
	t.Parallel()

	target := testTarget()

	url, err := buildSearchURL(target, []string{"go", "backend"}, "Remote", 0, "")
	require.NoError(t, err)
	require.Contains(t, url, "https://jobs.example.com/search?")
	require.Contains(t, url, "page=1")

	target.Pagination = scrape.Pagination{Mode: scrape.PaginationByOffset, Param: "offset", PageSize: 25, MaxPages: 4}
	url, err = buildSearchURL(target, nil, "", 2, "")
	require.NoError(t, err)
	require.Contains(t, url, "offset=50")

	target.Pagination = scrape.Pagination{Mode: scrape.PaginationByCursor, Param: "after", MaxPages: 4}
	url, err = buildSearchURL(target, nil, "", 1, "abc123")
	require.NoError(t, err)
	require.Contains(t, url, "after=abc123")

	url, err = buildSearchURL(target, nil, "", 0, "")
	require.NoError(t, err)
	require.NotContains(t, url, "after=")

	target.Pagination.Mode = "spiral"
	_, err = buildSearchURL(target, nil, "", 0, "")
	require.Error(t, err)
}

func TestCursorPaginationStopsWhenExhausted(t *testing.T) {
	t.Parallel()

	target := testTarget()
	target.Pagination = scrape.Pagination{Mode: scrape.PaginationByCursor, Param: "after", MaxPages: 10}
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Targets = staticTargets{"tech-board": target}
		d.Extractor = &scriptedExtractor{
			extract: func(page []byte, _ scrape.Target) ([]scrape.Listing, string, error) {
				var n int
				fmt.Sscanf(string(page), "<html><body>page %d</body></html>", &n)
				cursor := ""
				if n == 0 {
					cursor = "next-1"
				}
				return makeListings(n, 2), cursor, nil
			},
		}
	})

	id, err := f.orch.Start("tech-board", []string{"go"}, "", scrape.JobSettings{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, id, scrape.JobStatusCompleted)
	require.Equal(t, 2, job.Progress.PagesScraped)

	urls := f.fetcher.fetched()
	require.Len(t, urls, 2)
	require.NotContains(t, urls[0], "after=")
	require.Contains(t, urls[1], "after=next-1")
}
