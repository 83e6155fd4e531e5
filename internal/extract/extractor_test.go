package extract

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/scrape"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("listing-%d", g.n), nil
}

func testTarget() scrape.Target {
	return scrape.Target{
		ID:      "boardx",
		Name:    "BoardX",
		BaseURL: "https://boardx.example",
		Selectors: scrape.Selectors{
			Container:   ".job-card",
			Title:       ".title",
			Company:     ".company",
			Location:    ".location",
			Description: ".desc",
			Salary:      ".salary",
			URL:         "a.apply",
			PostedAt:    ".posted",
			NextCursor:  ".pager .next",
		},
	}
}

const samplePage = `<html><body>
<div class="job-card">
  <h2 class="title">Senior Go Engineer</h2>
  <span class="company">Acme</span>
  <span class="location">Remote - NYC</span>
  <p class="desc">Build services with Golang and PostgreSQL. 5+ years of experience required.</p>
  <span class="salary">$140,000 - $180,000</span>
  <a class="apply" href="/jobs/123">Apply</a>
  <span class="posted">2026-08-01</span>
</div>
<div class="job-card">
  <h2 class="title">Data Analyst Intern</h2>
  <span class="company"></span>
  <p class="desc">SQL and Excel reporting.</p>
</div>
<div class="job-card">
  <h2 class="title"></h2>
  <p class="desc">container without a title is skipped</p>
</div>
<div class="pager"><a class="next" data-cursor="abc123">more</a></div>
</body></html>`

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()

	e := New(&fakeClock{now: time.Unix(5000, 0)}, &seqIDGen{}, zap.NewNop())
	listings, cursor, err := e.Extract([]byte(samplePage), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("len(listings) = %d, want 2 (titleless container skipped)", len(listings))
	}
	if cursor != "abc123" {
		t.Fatalf("cursor = %q, want abc123", cursor)
	}

	first := listings[0]
	if first.Title != "Senior Go Engineer" || first.Company != "Acme" {
		t.Fatalf("unexpected listing: %+v", first)
	}
	if !first.Remote {
		t.Fatal("location mentioning remote should set Remote")
	}
	if first.ExperienceLevel != "senior" {
		t.Fatalf("experience = %q, want senior", first.ExperienceLevel)
	}
	if first.Salary == nil || first.Salary.Min != 140000 || first.Salary.Max != 180000 {
		t.Fatalf("salary = %+v", first.Salary)
	}
	if first.SourceURL != "https://boardx.example/jobs/123" {
		t.Fatalf("source url = %q", first.SourceURL)
	}
	if first.PostedAt == nil || first.PostedAt.Format("2006-01-02") != "2026-08-01" {
		t.Fatalf("posted at = %v", first.PostedAt)
	}
	found := map[string]bool{}
	for _, s := range first.Skills {
		found[s] = true
	}
	if !found["golang"] || !found["postgresql"] {
		t.Fatalf("skills = %v", first.Skills)
	}
	if len(first.Requirements) == 0 {
		t.Fatalf("expected requirement sentences, got none")
	}

	second := listings[1]
	if second.EmploymentType != "internship" {
		t.Fatalf("employment = %q, want internship", second.EmploymentType)
	}
	if second.SourceURL != "https://boardx.example" {
		t.Fatalf("missing link should fall back to base URL, got %q", second.SourceURL)
	}
}

func TestExtractor_ConfidenceBounds(t *testing.T) {
	t.Parallel()

	e := New(&fakeClock{now: time.Unix(5000, 0)}, &seqIDGen{}, zap.NewNop())
	listings, _, err := e.Extract([]byte(samplePage), testTarget())
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range listings {
		if l.Confidence < 0 || l.Confidence > 1 {
			t.Fatalf("confidence %f out of [0,1]", l.Confidence)
		}
	}
	if listings[0].Confidence <= listings[1].Confidence {
		t.Fatalf("richer listing should score higher: %f vs %f",
			listings[0].Confidence, listings[1].Confidence)
	}
}

func TestExtractor_NoContainers(t *testing.T) {
	t.Parallel()

	e := New(&fakeClock{now: time.Unix(5000, 0)}, &seqIDGen{}, zap.NewNop())
	listings, cursor, err := e.Extract([]byte("<html><body><p>no jobs here</p></body></html>"), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 || cursor != "" {
		t.Fatalf("expected empty result, got %d listings cursor=%q", len(listings), cursor)
	}
}
