// Package ratelimit implements the per-target sliding-window request limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// window is the fixed accounting period for RequestsPerMinute.
const window = time.Minute

// State is a snapshot of one target's tracker, mainly for introspection.
type State struct {
	RequestCount int
	WindowStart  time.Time
	LastRequest  time.Time
	Blocked      bool
	BlockUntil   time.Time
}

type tracker struct {
	requestCount int
	windowStart  time.Time
	lastRequest  time.Time
	blocked      bool
	blockUntil   time.Time
}

// Limiter tracks request counts per target in sliding one-minute windows.
// One tracker per target id; trackers are shared by every job hitting the
// same target, so all accounting happens under the limiter's mutex.
type Limiter struct {
	mu       sync.Mutex
	trackers map[string]*tracker
	clock    scrape.Clock
}

// New creates a Limiter.
func New(clock scrape.Clock) *Limiter {
	return &Limiter{
		trackers: make(map[string]*tracker),
		clock:    clock,
	}
}

// CanProceed reports whether a request to the target is currently permitted
// under the policy. It does not consume budget; callers must invoke
// RecordRequest after actually making the request.
func (l *Limiter) CanProceed(targetID string, policy scrape.RatePolicy) bool {
	if policy.RequestsPerMinute <= 0 {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trackers[targetID]
	if !ok {
		t = &tracker{windowStart: now}
		l.trackers[targetID] = t
	}

	if now.Sub(t.windowStart) > window {
		t.requestCount = 0
		t.windowStart = now
		t.blocked = false
		t.blockUntil = time.Time{}
	}

	if t.blocked && t.blockUntil.After(now) {
		return false
	}

	if t.requestCount >= policy.RequestsPerMinute {
		t.blocked = true
		t.blockUntil = t.windowStart.Add(window)
		return false
	}
	return true
}

// RecordRequest increments the target's counter after a request was made.
func (l *Limiter) RecordRequest(targetID string) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trackers[targetID]
	if !ok {
		t = &tracker{windowStart: now}
		l.trackers[targetID] = t
	}
	t.requestCount++
	t.lastRequest = now
}

// Snapshot returns a copy of the target's tracker state.
func (l *Limiter) Snapshot(targetID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trackers[targetID]
	if !ok {
		return State{}, false
	}
	return State{
		RequestCount: t.requestCount,
		WindowStart:  t.windowStart,
		LastRequest:  t.lastRequest,
		Blocked:      t.blocked,
		BlockUntil:   t.blockUntil,
	}, true
}

// Wait suspends for the given duration or until the context finishes. It is
// cooperative pacing only; it does not enforce the limit.
func (l *Limiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
