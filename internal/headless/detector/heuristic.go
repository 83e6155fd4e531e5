// Package detector decides when to promote fetches to a headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Heuristic implements a handful of rule-based promotions. Job boards are
// frequently client-rendered SPAs, so a thin or script-heavy probe body is a
// strong signal the listings never made it into the HTML.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless re-fetch is required.
func (h *Heuristic) ShouldPromote(resp scrape.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements account for at least a
// quarter of the document bytes. Unterminated scripts swallow the remainder
// of the chunk they start in.
func scriptDensityHigh(body []byte) bool {
	doc := strings.ToLower(string(body))
	if len(doc) == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)

	chunks := strings.Split(doc, openTag)
	covered := 0
	for _, chunk := range chunks[1:] {
		end := strings.Index(chunk, closeTag)
		if end == -1 {
			covered += len(openTag) + len(chunk)
			continue
		}
		covered += len(openTag) + end + len(closeTag)
	}

	return covered > 0 && covered*100/len(doc) >= 25
}
