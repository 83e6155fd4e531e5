// Package extract turns raw result pages into normalized job listings.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Extractor evaluates a target's selector map against fetched pages.
type Extractor struct {
	clock  scrape.Clock
	idGen  scrape.IDGenerator
	logger *zap.Logger
}

// New creates an Extractor.
func New(clock scrape.Clock, idGen scrape.IDGenerator, logger *zap.Logger) *Extractor {
	return &Extractor{
		clock:  clock,
		idGen:  idGen,
		logger: logger,
	}
}

// Extract produces one listing per container match on the page, plus the
// next-cursor token for cursor-paginated targets (empty when absent). A page
// that fails to parse yields no listings and a logged warning; it is never
// fatal to the caller.
func (e *Extractor) Extract(page []byte, target scrape.Target) ([]scrape.Listing, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		e.logger.Warn("page parse failed",
			zap.String("target", target.ID), zap.Error(err))
		return nil, "", fmt.Errorf("parse page: %w", err)
	}

	sel := target.Selectors
	var listings []scrape.Listing
	doc.Find(sel.Container).Each(func(_ int, container *goquery.Selection) {
		listing, ok := e.extractOne(container, target)
		if !ok {
			return
		}
		listings = append(listings, listing)
	})

	cursor := ""
	if sel.NextCursor != "" {
		if node := doc.Find(sel.NextCursor).First(); node.Length() > 0 {
			cursor = strings.TrimSpace(node.AttrOr("data-cursor", node.Text()))
		}
	}
	return listings, cursor, nil
}

func (e *Extractor) extractOne(container *goquery.Selection, target scrape.Target) (scrape.Listing, bool) {
	sel := target.Selectors
	title := cleanText(container.Find(sel.Title).First().Text())
	if title == "" {
		return scrape.Listing{}, false
	}

	id, err := e.idGen.NewID()
	if err != nil {
		e.logger.Warn("listing id generation failed", zap.Error(err))
		return scrape.Listing{}, false
	}

	description := cleanText(container.Find(sel.Description).First().Text())
	location := cleanText(container.Find(sel.Location).First().Text())
	salaryText := cleanText(container.Find(sel.Salary).First().Text())
	requirements := splitRequirements(description)

	listing := scrape.Listing{
		ID:              id,
		Title:           title,
		Company:         cleanText(container.Find(sel.Company).First().Text()),
		Location:        location,
		Description:     description,
		Requirements:    requirements,
		Salary:          NormalizeSalary(salaryText),
		EmploymentType:  employmentType(title + " " + description),
		Remote:          isRemote(location + " " + description),
		ExperienceLevel: experienceLevel(title + " " + description),
		Skills:          Skills(description, requirements),
		SourceURL:       e.sourceURL(container, target),
		SourceName:      target.Name,
		ScrapedAt:       e.clock.Now(),
	}
	if sel.PostedAt != "" {
		raw := cleanText(container.Find(sel.PostedAt).First().Text())
		if ts, err := parsePostedAt(raw); err == nil {
			listing.PostedAt = &ts
		}
	}
	listing.Confidence = confidence(listing)
	return listing, true
}

func (e *Extractor) sourceURL(container *goquery.Selection, target scrape.Target) string {
	href := ""
	if target.Selectors.URL != "" {
		node := container.Find(target.Selectors.URL).First()
		href = node.AttrOr("href", "")
		if href == "" {
			href = cleanText(node.Text())
		}
	}
	if href == "" {
		return target.BaseURL
	}
	return absoluteURL(target.BaseURL, href)
}

// confidence scores the listing by how many optional fields were populated.
// The exact formula is a heuristic, kept inside [0, 1].
func confidence(l scrape.Listing) float64 {
	populated := 0
	optional := []bool{
		l.Company != "",
		l.Location != "",
		l.Description != "",
		l.Salary != nil,
		l.PostedAt != nil,
		len(l.Skills) > 0,
	}
	for _, ok := range optional {
		if ok {
			populated++
		}
	}
	score := 0.4 + 0.1*float64(populated)
	if score > 1 {
		score = 1
	}
	return score
}

func cleanText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func parsePostedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty posted date")
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02",
		"Jan 2, 2006",
		"January 2, 2006",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported posted date format: %s", value)
}

var requirementMarkers = []string{"experience", "degree", "years", "proficien", "familiar"}

// splitRequirements pulls requirement-like sentences out of the description.
func splitRequirements(description string) []string {
	var out []string
	for _, sentence := range strings.FieldsFunc(description, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, marker := range requirementMarkers {
			if strings.Contains(lower, marker) {
				out = append(out, sentence)
				break
			}
		}
	}
	return out
}

func employmentType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "intern"):
		return "internship"
	case strings.Contains(lower, "part-time") || strings.Contains(lower, "part time"):
		return "part-time"
	case strings.Contains(lower, "contract"):
		return "contract"
	default:
		return "full-time"
	}
}

func isRemote(text string) bool {
	return strings.Contains(strings.ToLower(text), "remote")
}

func experienceLevel(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "senior") || strings.Contains(lower, "staff") ||
		strings.Contains(lower, "principal") || strings.Contains(lower, "lead"):
		return "senior"
	case strings.Contains(lower, "junior") || strings.Contains(lower, "entry") ||
		strings.Contains(lower, "graduate"):
		return "entry"
	default:
		return "mid"
	}
}
