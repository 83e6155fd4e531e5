// Package orchestrator owns the scrape job lifecycle. It validates targets,
// launches one background task per job, and drives pagination through the
// fetcher, extractor, rate limiter and storage collaborators.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/metrics"
	"github.com/careerscope/jobharvester/internal/scrape"
)

// TargetSource resolves target IDs to their registered configuration.
type TargetSource interface {
	Get(id string) (scrape.Target, bool)
}

// RateLimiter gates page fetches per target.
type RateLimiter interface {
	CanProceed(targetID string, policy scrape.RatePolicy) bool
	RecordRequest(targetID string)
	Wait(ctx context.Context, d time.Duration) error
}

// PageExtractor turns one raw result page into listings plus an optional
// next-page cursor.
type PageExtractor interface {
	Extract(page []byte, target scrape.Target) ([]scrape.Listing, string, error)
	Skills(description string, requirements []string) []string
}

// Config holds orchestrator tunables.
type Config struct {
	// UserAgent identifies the bot on outgoing requests when a target does
	// not configure its own.
	UserAgent string

	// EventTopic is where job completion events are published. Empty
	// disables publishing even when a Publisher is wired.
	EventTopic string

	// PageTimeout bounds a single page fetch, headless or not.
	PageTimeout time.Duration

	// MaxRateWaits bounds how many consecutive rate-limit denials a job
	// tolerates for one page before counting it as a page failure.
	MaxRateWaits int

	// ArchivePages stores each raw page body through the blob store.
	ArchivePages bool
}

// Deps are the collaborators a running job calls out to. Targets, Fetcher,
// Extractor, Limiter, Policy, Store, Deduper, Clock, IDs and Logger are
// required; the rest are optional.
type Deps struct {
	Targets   TargetSource
	Fetcher   scrape.Fetcher
	Headless  scrape.Fetcher
	Detector  scrape.HeadlessDetector
	Policy    scrape.RobotsPolicy
	Limiter   RateLimiter
	Extractor PageExtractor
	Store     scrape.ListingStore
	Blobs     scrape.BlobStore
	Publisher scrape.Publisher
	Deduper   scrape.Deduper
	Clock     scrape.Clock
	IDs       scrape.IDGenerator
	Logger    *zap.Logger
}

// jobState is the orchestrator-private record for one job. All fields are
// guarded by the orchestrator mutex; the page loop copies what it needs
// before fetching.
type jobState struct {
	job           scrape.Job
	target        scrape.Target
	listings      []scrape.Listing
	cursor        string
	policyChecked bool

	// runToken identifies the goroutine currently allowed to drive this
	// job. Resume bumps it so a goroutine parked at a page boundary from a
	// previous run cannot race the new one.
	runToken uint64
}

// Orchestrator manages all scrape jobs for the process lifetime.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu   sync.Mutex
	jobs map[string]*jobState

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New validates the wiring and returns a ready orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Targets == nil:
		return nil, fmt.Errorf("orchestrator: target source is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("orchestrator: fetcher is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("orchestrator: robots policy is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("orchestrator: rate limiter is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("orchestrator: extractor is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: listing store is required")
	case deps.Deduper == nil:
		return nil, fmt.Errorf("orchestrator: deduper is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("orchestrator: clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("orchestrator: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.MaxRateWaits <= 0 {
		cfg.MaxRateWaits = 90
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		jobs:    make(map[string]*jobState),
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

// Close stops all running jobs. In-flight page loops observe the canceled
// context at their next suspension point and fail their jobs.
func (o *Orchestrator) Close() {
	o.cancel()
}

// Start registers a new job against targetID and launches its run in the
// background. The returned job ID is usable immediately for polling.
func (o *Orchestrator) Start(targetID string, keywords []string, location string, settings scrape.JobSettings) (string, error) {
	target, ok := o.deps.Targets.Get(targetID)
	if !ok || !target.IsActive {
		return "", fmt.Errorf("%w: %s", scrape.ErrTargetUnavailable, targetID)
	}

	if settings.RetryAttempts <= 0 {
		settings.RetryAttempts = 3
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	js := &jobState{
		job: scrape.Job{
			ID:        id,
			TargetID:  target.ID,
			Keywords:  append([]string(nil), keywords...),
			Location:  location,
			Status:    scrape.JobStatusPending,
			Submitted: o.deps.Clock.Now(),
			Progress:  scrape.Progress{TotalPages: target.Pagination.MaxPages},
			Settings:  settings,
		},
		target: target,
	}

	o.mu.Lock()
	o.jobs[id] = js
	js.runToken++
	token := js.runToken
	o.mu.Unlock()

	o.deps.Logger.Info("job accepted",
		zap.String("job_id", id),
		zap.String("target_id", target.ID),
		zap.Strings("keywords", keywords))

	go o.run(id, token)
	return id, nil
}

// Pause requests a running job stop at its next page boundary.
func (o *Orchestrator) Pause(jobID string) error {
	return o.requestTransition(jobID, scrape.JobStatusPaused, "")
}

// Resume restarts a paused job from the page it stopped at.
func (o *Orchestrator) Resume(jobID string) error {
	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if !scrape.TransitionAllowed(js.job.Status, scrape.JobStatusRunning) {
		status := js.job.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", scrape.ErrInvalidTransition, status, scrape.JobStatusRunning)
	}
	js.job.Status = scrape.JobStatusRunning
	js.runToken++
	token := js.runToken
	pages := js.job.Progress.PagesScraped
	o.mu.Unlock()

	o.deps.Logger.Info("job resumed",
		zap.String("job_id", jobID),
		zap.Int("pages_scraped", pages))

	go o.run(jobID, token)
	return nil
}

// Cancel marks a pending, running or paused job failed with a user
// cancellation error. A running page loop exits at its next boundary check.
func (o *Orchestrator) Cancel(jobID string) error {
	return o.requestTransition(jobID, scrape.JobStatusFailed, "cancelled by user")
}

func (o *Orchestrator) requestTransition(jobID string, to scrape.JobStatus, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	js, ok := o.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if !scrape.TransitionAllowed(js.job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", scrape.ErrInvalidTransition, js.job.Status, to)
	}
	js.job.Status = to
	if reason != "" {
		js.job.Errors = append(js.job.Errors, reason)
	}
	if to.Terminal() {
		now := o.deps.Clock.Now()
		js.job.Finished = &now
		metrics.ObserveJobFinished(string(to))
	}
	metrics.SetActiveJobs(o.activeLocked())
	return nil
}

// Get returns a snapshot of one job.
func (o *Orchestrator) Get(jobID string) (scrape.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	js, ok := o.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return copyJob(js.job), nil
}

// Listings returns the listings accumulated so far for one job.
func (o *Orchestrator) Listings(jobID string) ([]scrape.Listing, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	js, ok := o.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	out := make([]scrape.Listing, len(js.listings))
	copy(out, js.listings)
	return out, nil
}

// ListAll returns snapshots of every job ordered by submission time.
func (o *Orchestrator) ListAll() []scrape.Job {
	return o.list(func(scrape.JobStatus) bool { return true })
}

// ListActive returns jobs still pending or running.
func (o *Orchestrator) ListActive() []scrape.Job {
	return o.list(func(s scrape.JobStatus) bool {
		return s == scrape.JobStatusPending || s == scrape.JobStatusRunning
	})
}

func (o *Orchestrator) list(keep func(scrape.JobStatus) bool) []scrape.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]scrape.Job, 0, len(o.jobs))
	for _, js := range o.jobs {
		if keep(js.job.Status) {
			out = append(out, copyJob(js.job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID < out[j].ID
		}
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out
}

func (o *Orchestrator) activeLocked() int {
	n := 0
	for _, js := range o.jobs {
		if js.job.Status == scrape.JobStatusPending || js.job.Status == scrape.JobStatusRunning {
			n++
		}
	}
	return n
}

func copyJob(j scrape.Job) scrape.Job {
	out := j
	out.Keywords = append([]string(nil), j.Keywords...)
	out.Errors = append([]string(nil), j.Errors...)
	if j.Started != nil {
		started := *j.Started
		out.Started = &started
	}
	if j.Finished != nil {
		finished := *j.Finished
		out.Finished = &finished
	}
	return out
}
