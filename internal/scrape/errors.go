package scrape

import "errors"

// Sentinel errors surfaced by the orchestrator and registry.
var (
	// ErrTargetUnavailable means the requested target is missing or inactive.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrPolicyDisallowed means the site's crawl policy forbids the target's base URL.
	ErrPolicyDisallowed = errors.New("crawl policy disallows target")

	// ErrJobNotFound means no job with the given ID is registered.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition means the requested status change is not on the
	// job lifecycle graph.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
