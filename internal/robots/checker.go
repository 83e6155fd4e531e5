// Package robots enforces robots.txt crawl policy per origin.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/scrape"
)

const (
	defaultTTL     = 24 * time.Hour
	maxPolicyBytes = 1 << 20
)

// Checker fetches, caches, and evaluates robots.txt policies per origin.
//
// Match semantics are deliberately the simplified allow-override rule: a path
// blocked by any Disallow prefix is still permitted when any Allow prefix
// also matches. This is looser than the longest-match-wins standard and is
// kept that way on purpose.
type Checker struct {
	client    *http.Client
	cache     sync.Map // origin -> *cacheEntry
	ttl       time.Duration
	userAgent string
	clock     scrape.Clock
	logger    *zap.Logger
}

type cacheEntry struct {
	rules     *ruleSet
	fetchedAt time.Time
}

// NewChecker builds a RobotsPolicy respecting the config toggle.
func NewChecker(respect bool, userAgent string, clock scrape.Clock, logger *zap.Logger) scrape.RobotsPolicy {
	if !respect {
		return &allowAllPolicy{}
	}
	return &Checker{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		ttl:       defaultTTL,
		userAgent: userAgent,
		clock:     clock,
		logger:    logger,
	}
}

// Allowed implements scrape.RobotsPolicy.
//
// A missing robots.txt (404 or any non-2xx) is permissive; a network or
// parse failure fails closed, the conservative choice on ambiguous errors.
func (c *Checker) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	rules, err := c.load(ctx, parsed)
	if err != nil {
		c.logger.Warn("robots fetch failed; denying access",
			zap.String("host", parsed.Host), zap.Error(err))
		return false
	}
	if rules == nil {
		return true
	}
	g := rules.groupFor(c.userAgent)
	if g == nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return g.allows(path)
}

// CrawlDelay returns the cached Crawl-delay for the URL's origin, or zero
// when the policy is unknown or sets none. It never triggers a fetch.
func (c *Checker) CrawlDelay(rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	value, ok := c.cache.Load(originKey(parsed))
	if !ok {
		return 0
	}
	entry, ok := value.(*cacheEntry)
	if !ok || entry.rules == nil {
		return 0
	}
	g := entry.rules.groupFor(c.userAgent)
	if g == nil {
		return 0
	}
	return g.crawlDelay
}

// load returns the origin's rule set, fetching unless a non-expired cache
// entry exists. A nil rule set with nil error means "no policy, permissive".
func (c *Checker) load(ctx context.Context, parsed *url.URL) (*ruleSet, error) {
	key := originKey(parsed)
	if value, ok := c.cache.Load(key); ok {
		entry, assertOK := value.(*cacheEntry)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", value)
		}
		if c.clock.Now().Sub(entry.fetchedAt) < c.ttl {
			return entry.rules, nil
		}
	}

	robotsURL := url.URL{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   "/robots.txt",
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()

	var rules *ruleSet
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPolicyBytes))
		if err != nil {
			return nil, fmt.Errorf("read robots body: %w", err)
		}
		rules = parse(string(body))
	}
	c.cache.Store(key, &cacheEntry{rules: rules, fetchedAt: c.clock.Now()})
	return rules, nil
}

func originKey(parsed *url.URL) string {
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

type allowAllPolicy struct{}

func (a *allowAllPolicy) Allowed(context.Context, string) bool { return true }
func (a *allowAllPolicy) CrawlDelay(string) time.Duration      { return 0 }
