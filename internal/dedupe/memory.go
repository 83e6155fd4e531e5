// Package dedupe tracks listing source URLs across jobs so the same posting
// is persisted once.
package dedupe

import (
	"context"
	"sync"
)

// Memory is a process-local deduper backed by a sync.Map.
type Memory struct {
	seen sync.Map
}

// NewMemory creates a Memory deduper.
func NewMemory() *Memory {
	return &Memory{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (m *Memory) MarkIfNew(_ context.Context, sourceURL string) (bool, error) {
	if sourceURL == "" {
		return false, nil
	}
	_, loaded := m.seen.LoadOrStore(sourceURL, struct{}{})
	return !loaded, nil
}
