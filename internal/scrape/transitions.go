package scrape

// Valid status graph:
//
//	pending ──► running ──► completed
//	    │         │  ▲  │
//	    │         │  │  └──► paused ──► failed
//	    │         │  └────────┘
//	    └─────────┴──────────────────► failed
//
// completed and failed are terminal states.

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusPaused, JobStatusCompleted, JobStatusFailed},
	JobStatusPaused:  {JobStatusRunning, JobStatusFailed},
	// completed and failed are terminal, no outgoing transitions
}

// TransitionAllowed returns true when moving from → to is permitted by the
// job lifecycle state machine.
func TransitionAllowed(from, to JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
