package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/careerscope/jobharvester/internal/scrape"
)

var salaryPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*)(?:\s*[kK])?(?:\s*-\s*\$\s*([0-9][0-9,]*)(?:\s*[kK])?)?`)

// NormalizeSalary parses free-form salary text into a normalized range.
// Returns nil when no dollar amount is present. The period is hourly when
// the text mentions hours, yearly otherwise; currency is always USD.
func NormalizeSalary(text string) *scrape.SalaryRange {
	match := salaryPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	scale := 1
	if kSuffixPattern.MatchString(text) {
		// "$80k - $120k" style postings.
		scale = 1000
	}

	lower := strings.ToLower(text)
	min := parseAmount(match[1]) * scale
	out := &scrape.SalaryRange{
		Min:      min,
		Currency: "USD",
		Period:   "yearly",
	}
	if match[2] != "" {
		out.Max = parseAmount(match[2]) * scale
	}
	if strings.Contains(lower, "hour") {
		out.Period = "hourly"
	}
	return out
}

func parseAmount(raw string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

var kSuffixPattern = regexp.MustCompile(`\$\s*[0-9][0-9,]*\s*[kK]`)
