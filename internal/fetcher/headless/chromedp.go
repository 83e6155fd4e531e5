// Package headless renders pages in a browser before extraction. Job boards
// built as single-page apps serve an empty shell over plain HTTP; the
// listings only exist in the DOM after scripts run.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Config controls browser behavior for rendered fetches.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after body-ready before snapshotting
	// the DOM, giving lazy-loaded listing cards time to appear.
	SettleDelay time.Duration
}

// Fetcher renders one page per Fetch call in a tab of a shared headless
// Chrome allocator. Tab count is capped by MaxParallel.
type Fetcher struct {
	cfg     Config
	slots   chan struct{}
	alloc   context.Context
	release context.CancelFunc
}

// New starts the exec allocator. Call Close when done.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 750 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	alloc, release := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, alloc: alloc, release: release}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close tears down the browser allocator.
func (f *Fetcher) Close() {
	f.release()
}

// Fetch navigates, lets the page settle, scrolls once to trigger lazy
// listing loaders, and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	if f.slots != nil {
		select {
		case f.slots <- struct{}{}:
			defer func() { <-f.slots }()
		case <-ctx.Done():
			return scrape.FetchResponse{}, fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
		}
	}

	tabCtx, closeTab := chromedp.NewContext(f.alloc)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	var meta docMeta
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			meta.record(resp)
		}
	})

	start := time.Now()
	var (
		html   string
		landed string
	)
	err := chromedp.Run(tabCtx,
		f.prepareNetwork(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&landed),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, finalURL := meta.document()
	if finalURL == "" {
		finalURL = landed
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	if status == 0 {
		status = http.StatusOK
	}

	return scrape.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepareNetwork enables the network domain and applies the user agent and
// extra headers before navigation.
func (f *Fetcher) prepareNetwork(request scrape.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		agent := request.UserAgent
		if agent == "" {
			agent = f.cfg.UserAgent
		}
		if agent != "" {
			if err := emulation.SetUserAgentOverride(agent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(request.Headers) == 0 {
			return nil
		}
		extra := make(network.Headers, len(request.Headers))
		for key, values := range request.Headers {
			if len(values) == 1 {
				extra[key] = values[0]
			} else if len(values) > 1 {
				extra[key] = append([]string(nil), values...)
			}
		}
		if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// docMeta captures the status, headers and URL of the top-level document
// response. Subresource responses are ignored.
type docMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *docMeta) record(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := make(http.Header, len(event.Response.Headers))
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *docMeta) document() (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return m.status, http.Header{}, m.url
	}
	return m.status, m.headers.Clone(), m.url
}
