package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/metrics"
	"github.com/careerscope/jobharvester/internal/scrape"
)

// JobEvent is the payload published when a job reaches a terminal state.
type JobEvent struct {
	JobID             string    `json:"job_id"`
	TargetID          string    `json:"target_id"`
	Status            string    `json:"status"`
	PagesScraped      int       `json:"pages_scraped"`
	ListingsFound     int       `json:"listings_found"`
	ListingsProcessed int       `json:"listings_processed"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	ErrorCount        int       `json:"error_count"`
	FinishedAt        time.Time `json:"finished_at"`
}

// run drives one job to a terminal state. It is the only goroutine mutating
// the job while the token is current; control operations only flip the status
// field, which run observes at page boundaries.
func (o *Orchestrator) run(jobID string, token uint64) {
	logger := o.deps.Logger.With(zap.String("job_id", jobID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
			o.failJob(jobID, token, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok || js.runToken != token {
		o.mu.Unlock()
		return
	}
	if js.job.Status == scrape.JobStatusPending {
		js.job.Status = scrape.JobStatusRunning
		now := o.deps.Clock.Now()
		js.job.Started = &now
	}
	if js.job.Status != scrape.JobStatusRunning {
		// Cancelled before the goroutine got scheduled.
		o.mu.Unlock()
		return
	}
	target := js.target
	settings := js.job.Settings
	checkPolicy := settings.RespectPolicy && !js.policyChecked
	metrics.SetActiveJobs(o.activeLocked())
	o.mu.Unlock()

	if checkPolicy {
		if !o.deps.Policy.Allowed(o.baseCtx, target.BaseURL) {
			logger.Warn("target disallowed by crawl policy", zap.String("base_url", target.BaseURL))
			o.failJob(jobID, token, scrape.ErrPolicyDisallowed.Error())
			return
		}
		o.mu.Lock()
		js.policyChecked = true
		o.mu.Unlock()
	}

	if done := o.pageLoop(js, jobID, token, target, settings, logger); !done {
		// Paused, cancelled externally, or already failed.
		return
	}

	o.finalize(js, jobID, token, target, logger)
}

// pageLoop walks result pages until the bound, maxListings, an external
// status change, or a failure budget overrun. It returns true when the loop
// ran to natural completion and the job should finalize.
func (o *Orchestrator) pageLoop(js *jobState, jobID string, token uint64, target scrape.Target, settings scrape.JobSettings, logger *zap.Logger) bool {
	for {
		o.mu.Lock()
		if js.runToken != token || js.job.Status != scrape.JobStatusRunning {
			o.mu.Unlock()
			return false
		}
		page := js.job.Progress.PagesScraped
		cursor := js.cursor
		gathered := len(js.listings)
		o.mu.Unlock()

		if page >= target.Pagination.MaxPages {
			return true
		}
		if settings.MaxListings > 0 && gathered >= settings.MaxListings {
			logger.Info("listing cap reached", zap.Int("listings", gathered))
			return true
		}
		if target.Pagination.Mode == scrape.PaginationByCursor && page > 0 && cursor == "" {
			// The site reported no further pages.
			return true
		}

		pageURL, err := buildSearchURL(target, js.job.Keywords, js.job.Location, page, cursor)
		if err != nil {
			o.failJob(jobID, token, fmt.Sprintf("build page url: %v", err))
			return false
		}

		if ok, err := o.awaitRateLimit(target, logger); err != nil {
			o.failJob(jobID, token, fmt.Sprintf("rate limit wait: %v", err))
			return false
		} else if !ok {
			if o.recordPageFailure(js, jobID, token, settings.RetryAttempts,
				fmt.Sprintf("page %d: rate limit not cleared after %d waits", page, o.cfg.MaxRateWaits)) {
				return false
			}
			continue
		}

		resp, fetchErr := o.fetchPage(js.job, target, settings, pageURL)
		o.deps.Limiter.RecordRequest(target.ID)

		if fetchErr == nil {
			var listings []scrape.Listing
			var nextCursor string
			listings, nextCursor, fetchErr = o.deps.Extractor.Extract(resp.Body, target)
			if fetchErr == nil {
				o.archivePage(jobID, page, resp, logger)
				o.mu.Lock()
				if js.runToken != token || js.job.Status != scrape.JobStatusRunning {
					o.mu.Unlock()
					return false
				}
				js.listings = append(js.listings, listings...)
				js.cursor = nextCursor
				js.job.Progress.PagesScraped = page + 1
				js.job.Progress.ListingsFound = len(js.listings)
				if resp.UsedHeadless {
					js.job.Progress.HeadlessPromotions++
				}
				o.mu.Unlock()
				metrics.ObservePage(target.ID, "ok")
				logger.Debug("page scraped",
					zap.Int("page", page),
					zap.Int("listings", len(listings)),
					zap.Bool("headless", resp.UsedHeadless))
			}
		}

		if fetchErr != nil {
			metrics.ObservePage(target.ID, "error")
			logger.Warn("page failed", zap.Int("page", page), zap.Error(fetchErr))
			if o.recordPageFailure(js, jobID, token, settings.RetryAttempts,
				fmt.Sprintf("page %d: %v", page, fetchErr)) {
				return false
			}
		}

		if err := o.pace(target, logger); err != nil {
			o.failJob(jobID, token, fmt.Sprintf("pacing wait: %v", err))
			return false
		}
	}
}

// awaitRateLimit blocks until the target's limiter admits a request, up to
// MaxRateWaits delays. The returned bool is false when the budget ran out.
func (o *Orchestrator) awaitRateLimit(target scrape.Target, logger *zap.Logger) (bool, error) {
	delay := target.Rate.DelayBetweenRequests
	if delay <= 0 {
		delay = time.Second
	}
	for waits := 0; !o.deps.Limiter.CanProceed(target.ID, target.Rate); waits++ {
		if waits >= o.cfg.MaxRateWaits {
			return false, nil
		}
		metrics.ObserveRateLimitDelay(target.ID, delay)
		logger.Debug("rate limited, waiting",
			zap.String("target_id", target.ID),
			zap.Duration("delay", delay))
		if err := o.deps.Limiter.Wait(o.baseCtx, delay); err != nil {
			return false, err
		}
	}
	return true, nil
}

// pace applies the inter-page delay. The configured delay and the site's
// crawl-delay directive both apply; the larger one wins.
func (o *Orchestrator) pace(target scrape.Target, logger *zap.Logger) error {
	delay := target.Rate.DelayBetweenRequests
	if crawlDelay := o.deps.Policy.CrawlDelay(target.BaseURL); crawlDelay > delay {
		delay = crawlDelay
	}
	if delay <= 0 {
		return nil
	}
	logger.Debug("pacing between pages", zap.Duration("delay", delay))
	return o.deps.Limiter.Wait(o.baseCtx, delay)
}

// recordPageFailure appends an error and fails the job when the retry budget
// is exhausted. It returns true when the job was failed.
func (o *Orchestrator) recordPageFailure(js *jobState, jobID string, token uint64, retryAttempts int, message string) bool {
	o.mu.Lock()
	if js.runToken != token || js.job.Status != scrape.JobStatusRunning {
		o.mu.Unlock()
		return true
	}
	js.job.Errors = append(js.job.Errors, message)
	exhausted := len(js.job.Errors) > retryAttempts
	o.mu.Unlock()

	if exhausted {
		o.failJob(jobID, token, "too many page failures")
		return true
	}
	return false
}

// fetchPage fetches one page, promoting to the headless fetcher when the
// detector flags the plain response as a client-rendered shell.
func (o *Orchestrator) fetchPage(job scrape.Job, target scrape.Target, settings scrape.JobSettings, pageURL string) (scrape.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.PageTimeout)
	defer cancel()

	request := scrape.FetchRequest{
		JobID:     job.ID,
		URL:       pageURL,
		Headers:   headerFromMap(target.Headers),
		UserAgent: o.cfg.UserAgent,
		UseProxy:  settings.UseProxy,
	}

	resp, err := o.deps.Fetcher.Fetch(ctx, request)
	if err != nil {
		return scrape.FetchResponse{}, err
	}

	if o.deps.Detector != nil && o.deps.Headless != nil && o.deps.Detector.ShouldPromote(resp) {
		request.UseHeadless = true
		rendered, err := o.deps.Headless.Fetch(ctx, request)
		if err != nil {
			// The plain response is still usable; promotion is best effort.
			o.deps.Logger.Warn("headless promotion failed",
				zap.String("job_id", job.ID),
				zap.String("url", pageURL),
				zap.Error(err))
			return resp, nil
		}
		return rendered, nil
	}
	return resp, nil
}

// archivePage stores the raw page body when archiving is enabled.
func (o *Orchestrator) archivePage(jobID string, page int, resp scrape.FetchResponse, logger *zap.Logger) {
	if !o.cfg.ArchivePages || o.deps.Blobs == nil {
		return
	}
	path := fmt.Sprintf("jobs/%s/pages/%03d.html", jobID, page)
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := o.deps.Blobs.PutObject(o.baseCtx, path, contentType, resp.Body)
	if err != nil {
		logger.Warn("page archive failed", zap.Int("page", page), zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.Int("page", page), zap.String("uri", uri))
}

// finalize augments skills, deduplicates, and persists every accumulated
// listing, then marks the job completed. Persistence failures stay listing
// local.
func (o *Orchestrator) finalize(js *jobState, jobID string, token uint64, target scrape.Target, logger *zap.Logger) {
	o.mu.Lock()
	if js.runToken != token || js.job.Status != scrape.JobStatusRunning {
		o.mu.Unlock()
		return
	}
	listings := make([]scrape.Listing, len(js.listings))
	copy(listings, js.listings)
	o.mu.Unlock()

	processed := 0
	duplicates := 0
	var persistErrors []string

	for i := range listings {
		listing := listings[i]
		if len(listing.Skills) == 0 {
			listing.Skills = o.deps.Extractor.Skills(listing.Description, listing.Requirements)
		}

		fresh := true
		if listing.SourceURL != "" {
			var err error
			fresh, err = o.deps.Deduper.MarkIfNew(o.baseCtx, listing.SourceURL)
			if err != nil {
				// Dedupe is advisory; treat failures as "new" rather than
				// dropping a listing.
				logger.Warn("dedupe check failed", zap.String("url", listing.SourceURL), zap.Error(err))
				fresh = true
			}
		}
		if !fresh {
			duplicates++
			metrics.ObserveDuplicateSkipped(target.ID)
			continue
		}

		if _, err := o.deps.Store.Store(o.baseCtx, listing); err != nil {
			logger.Warn("listing persist failed", zap.String("url", listing.SourceURL), zap.Error(err))
			persistErrors = append(persistErrors, fmt.Sprintf("persist %s: %v", listing.SourceURL, err))
			continue
		}
		processed++
		metrics.ObserveListingPersisted(target.ID)
	}

	o.mu.Lock()
	if js.runToken != token || js.job.Status != scrape.JobStatusRunning {
		o.mu.Unlock()
		return
	}
	js.job.Errors = append(js.job.Errors, persistErrors...)
	js.job.Progress.ListingsProcessed = processed
	js.job.Progress.DuplicatesSkipped = duplicates
	js.job.Status = scrape.JobStatusCompleted
	now := o.deps.Clock.Now()
	js.job.Finished = &now
	event := o.eventLocked(js)
	metrics.ObserveJobFinished(string(scrape.JobStatusCompleted))
	metrics.SetActiveJobs(o.activeLocked())
	o.mu.Unlock()

	logger.Info("job completed",
		zap.Int("pages", event.PagesScraped),
		zap.Int("listings_processed", processed),
		zap.Int("duplicates_skipped", duplicates),
		zap.Int("errors", event.ErrorCount))

	o.publishEvent(event, logger)
}

// failJob moves a job to failed with the given message. Safe to call from
// any point in the run; invalid transitions (already terminal) are ignored.
func (o *Orchestrator) failJob(jobID string, token uint64, message string) {
	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok || js.runToken != token || !scrape.TransitionAllowed(js.job.Status, scrape.JobStatusFailed) {
		o.mu.Unlock()
		return
	}
	js.job.Status = scrape.JobStatusFailed
	js.job.Errors = append(js.job.Errors, message)
	now := o.deps.Clock.Now()
	js.job.Finished = &now
	event := o.eventLocked(js)
	metrics.ObserveJobFinished(string(scrape.JobStatusFailed))
	metrics.SetActiveJobs(o.activeLocked())
	o.mu.Unlock()

	o.deps.Logger.Warn("job failed",
		zap.String("job_id", jobID),
		zap.String("reason", message))

	o.publishEvent(event, o.deps.Logger)
}

func (o *Orchestrator) eventLocked(js *jobState) JobEvent {
	finished := time.Time{}
	if js.job.Finished != nil {
		finished = *js.job.Finished
	}
	return JobEvent{
		JobID:             js.job.ID,
		TargetID:          js.job.TargetID,
		Status:            string(js.job.Status),
		PagesScraped:      js.job.Progress.PagesScraped,
		ListingsFound:     js.job.Progress.ListingsFound,
		ListingsProcessed: js.job.Progress.ListingsProcessed,
		DuplicatesSkipped: js.job.Progress.DuplicatesSkipped,
		ErrorCount:        len(js.job.Errors),
		FinishedAt:        finished,
	}
}

func (o *Orchestrator) publishEvent(event JobEvent, logger *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.EventTopic == "" {
		return
	}
	if _, err := o.deps.Publisher.Publish(o.baseCtx, o.cfg.EventTopic, event); err != nil {
		logger.Warn("event publish failed", zap.String("job_id", event.JobID), zap.Error(err))
	}
}

// buildSearchURL assembles the URL for one result page according to the
// target's pagination mode. Page indexes are zero based internally; page
// mode sends them one based on the wire.
func buildSearchURL(target scrape.Target, keywords []string, location string, page int, cursor string) (string, error) {
	base := strings.TrimRight(target.BaseURL, "/") + target.SearchPath
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse target url %q: %w", base, err)
	}

	query := parsed.Query()
	if len(keywords) > 0 {
		query.Set("q", strings.Join(keywords, " "))
	}
	if location != "" {
		query.Set("location", location)
	}

	param := target.Pagination.Param
	switch target.Pagination.Mode {
	case scrape.PaginationByPage:
		query.Set(param, strconv.Itoa(page+1))
	case scrape.PaginationByOffset:
		query.Set(param, strconv.Itoa(page*target.Pagination.PageSize))
	case scrape.PaginationByCursor:
		if cursor != "" {
			query.Set(param, cursor)
		}
	default:
		return "", fmt.Errorf("unknown pagination mode %q", target.Pagination.Mode)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func headerFromMap(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
