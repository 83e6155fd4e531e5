package extract

import (
	"sort"
	"strings"
)

// skillVocabulary is the fixed set of skill keywords matched by containment
// against listing text. Multi-word entries match as written.
var skillVocabulary = []string{
	"agile",
	"angular",
	"aws",
	"azure",
	"c++",
	"c#",
	"ci/cd",
	"css",
	"django",
	"docker",
	"elasticsearch",
	"excel",
	"figma",
	"gcp",
	"git",
	"golang",
	"graphql",
	"html",
	"java",
	"javascript",
	"kafka",
	"kubernetes",
	"linux",
	"machine learning",
	"mongodb",
	"mysql",
	"node.js",
	"php",
	"postgresql",
	"python",
	"rails",
	"react",
	"redis",
	"rest",
	"ruby",
	"rust",
	"scala",
	"spring",
	"sql",
	"swift",
	"terraform",
	"typescript",
	"vue",
}

// Skills returns the deduplicated, sorted subset of the vocabulary found in
// the combined description and requirements text.
func Skills(description string, requirements []string) []string {
	haystack := strings.ToLower(description + " " + strings.Join(requirements, " "))
	seen := make(map[string]struct{})
	for _, skill := range skillVocabulary {
		if strings.Contains(haystack, skill) {
			seen[skill] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for skill := range seen {
		out = append(out, skill)
	}
	sort.Strings(out)
	return out
}

// Skills exposes the vocabulary lookup as a method so callers holding an
// Extractor can re-augment listings without importing the package function.
func (e *Extractor) Skills(description string, requirements []string) []string {
	return Skills(description, requirements)
}
