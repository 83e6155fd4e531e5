// Package scrape defines core types shared across subsystems.
package scrape

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values held by the orchestrator and surfaced via the API.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// PaginationMode selects how page N of a target's search results is addressed.
type PaginationMode string

// Pagination modes supported by target configuration.
const (
	PaginationByPage   PaginationMode = "page"
	PaginationByOffset PaginationMode = "offset"
	PaginationByCursor PaginationMode = "cursor"
)

// RatePolicy is a target's politeness contract.
type RatePolicy struct {
	RequestsPerMinute    int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	DelayBetweenRequests time.Duration `json:"delay_between_requests" mapstructure:"delay_between_requests"`
}

// Pagination describes how to walk a target's result pages.
type Pagination struct {
	Mode     PaginationMode `json:"mode" mapstructure:"mode"`
	Param    string         `json:"param" mapstructure:"param"`
	PageSize int            `json:"page_size" mapstructure:"page_size"`
	MaxPages int            `json:"max_pages" mapstructure:"max_pages"`
}

// Selectors maps listing fields to CSS selectors on a target's result pages.
// Container scopes one listing; the rest are evaluated inside it.
type Selectors struct {
	Container   string `json:"container" mapstructure:"container"`
	Title       string `json:"title" mapstructure:"title"`
	Company     string `json:"company" mapstructure:"company"`
	Location    string `json:"location" mapstructure:"location"`
	Description string `json:"description" mapstructure:"description"`
	Salary      string `json:"salary" mapstructure:"salary"`
	URL         string `json:"url" mapstructure:"url"`
	PostedAt    string `json:"posted_at" mapstructure:"posted_at"`
	NextCursor  string `json:"next_cursor" mapstructure:"next_cursor"`
}

// Target is the immutable per-site configuration read by the orchestrator.
type Target struct {
	ID         string            `json:"id" mapstructure:"id"`
	Name       string            `json:"name" mapstructure:"name"`
	BaseURL    string            `json:"base_url" mapstructure:"base_url"`
	SearchPath string            `json:"search_path" mapstructure:"search_path"`
	Headers    map[string]string `json:"headers" mapstructure:"headers"`
	Selectors  Selectors         `json:"selectors" mapstructure:"selectors"`
	Rate       RatePolicy        `json:"rate" mapstructure:"rate"`
	Pagination Pagination        `json:"pagination" mapstructure:"pagination"`
	IsActive   bool              `json:"is_active" mapstructure:"is_active"`
}

// JobSettings captures per-job knobs requested by the client.
type JobSettings struct {
	MaxListings   int  `json:"max_listings" mapstructure:"max_listings"`
	RespectPolicy bool `json:"respect_policy" mapstructure:"respect_policy"`
	UseProxy      bool `json:"use_proxy" mapstructure:"use_proxy"`
	RetryAttempts int  `json:"retry_attempts" mapstructure:"retry_attempts"`
}

// Progress tracks how far a job's page loop has advanced.
type Progress struct {
	PagesScraped       int `json:"pages_scraped"`
	TotalPages         int `json:"total_pages"`
	ListingsFound      int `json:"listings_found"`
	ListingsProcessed  int `json:"listings_processed"`
	DuplicatesSkipped  int `json:"duplicates_skipped,omitempty"`
	HeadlessPromotions int `json:"headless_promotions,omitempty"`
}

// Job represents one orchestration run against a target.
type Job struct {
	ID        string      `json:"id"`
	TargetID  string      `json:"target_id"`
	Keywords  []string    `json:"keywords"`
	Location  string      `json:"location,omitempty"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	Progress  Progress    `json:"progress"`
	Errors    []string    `json:"errors,omitempty"`
	Settings  JobSettings `json:"settings"`
}

// SalaryRange is a normalized compensation band.
type SalaryRange struct {
	Min      int    `json:"min,omitempty"`
	Max      int    `json:"max,omitempty"`
	Currency string `json:"currency"`
	Period   string `json:"period"`
}

// Listing is one scraped posting, immutable after extraction.
type Listing struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Company         string       `json:"company"`
	Location        string       `json:"location"`
	Description     string       `json:"description"`
	Requirements    []string     `json:"requirements,omitempty"`
	Salary          *SalaryRange `json:"salary,omitempty"`
	Benefits        []string     `json:"benefits,omitempty"`
	EmploymentType  string       `json:"employment_type,omitempty"`
	Remote          bool         `json:"remote"`
	ExperienceLevel string       `json:"experience_level,omitempty"`
	Skills          []string     `json:"skills,omitempty"`
	PostedAt        *time.Time   `json:"posted_at,omitempty"`
	Deadline        *time.Time   `json:"application_deadline,omitempty"`
	SourceURL       string       `json:"source_url"`
	SourceName      string       `json:"source_name"`
	ScrapedAt       time.Time    `json:"scraped_at"`
	Confidence      float64      `json:"confidence"`
}

// FetchRequest captures everything needed to fetch one result page.
type FetchRequest struct {
	JobID       string
	URL         string
	Headers     http.Header
	UserAgent   string
	UseHeadless bool
	UseProxy    bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
