package robots

import (
	"strconv"
	"strings"
	"time"
)

// ruleSet holds directive groups keyed by lowercased user-agent token.
type ruleSet struct {
	groups map[string]*group
}

type group struct {
	allow      []string
	disallow   []string
	crawlDelay time.Duration
}

// groupFor picks the group for the agent, falling back to "*". Agent tokens
// are matched by containment against the full user-agent string, the common
// loose interpretation.
func (r *ruleSet) groupFor(userAgent string) *group {
	ua := strings.ToLower(userAgent)
	for token, g := range r.groups {
		if token == "*" {
			continue
		}
		if strings.Contains(ua, token) {
			return g
		}
	}
	return r.groups["*"]
}

// allows applies the simplified allow-override match: blocked when any
// Disallow prefix matches, unless any Allow prefix also matches.
func (g *group) allows(path string) bool {
	for _, prefix := range g.disallow {
		if strings.HasPrefix(path, prefix) {
			for _, allowPrefix := range g.allow {
				if strings.HasPrefix(path, allowPrefix) {
					return true
				}
			}
			return false
		}
	}
	return true
}

// parse reads robots.txt line by line into a ruleSet. Unknown directives and
// malformed lines are skipped; consecutive User-agent lines share the
// directives that follow them.
func parse(body string) *ruleSet {
	rules := &ruleSet{groups: make(map[string]*group)}
	var current []*group
	lastWasAgent := false

	for _, line := range strings.Split(body, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			token := strings.ToLower(value)
			if token == "" {
				continue
			}
			g, exists := rules.groups[token]
			if !exists {
				g = &group{}
				rules.groups[token] = g
			}
			if lastWasAgent {
				current = append(current, g)
			} else {
				current = []*group{g}
			}
			lastWasAgent = true
		case "disallow":
			lastWasAgent = false
			if value == "" {
				continue
			}
			for _, g := range current {
				g.disallow = append(g.disallow, value)
			}
		case "allow":
			lastWasAgent = false
			if value == "" {
				continue
			}
			for _, g := range current {
				g.allow = append(g.allow, value)
			}
		case "crawl-delay":
			lastWasAgent = false
			seconds, err := strconv.ParseFloat(value, 64)
			if err != nil || seconds < 0 {
				continue
			}
			delay := time.Duration(seconds * float64(time.Second))
			for _, g := range current {
				g.crawlDelay = delay
			}
		default:
			lastWasAgent = false
		}
	}
	return rules
}
