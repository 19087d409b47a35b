// Package cache owns the authoritative coverage snapshot and keeps it
// synchronized with report files on disk and the set of visible views.
package cache

import (
	"sync"

	"github.com/coverlay/coverlay/pkg/diag"
)

// Status describes the cache's current phase.
type Status int

const (
	// StatusInitializing is the state before the first reload.
	StatusInitializing Status = iota
	// StatusReady means the snapshot is current and no work is in flight.
	StatusReady
	// StatusLoading means a reload cycle is rebuilding the snapshot.
	StatusLoading
	// StatusRendering means a completed snapshot is being painted.
	StatusRendering
	// StatusError means the last cycle failed; the prior snapshot is kept.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusLoading:
		return "loading"
	case StatusRendering:
		return "rendering"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusTracker records phase transitions for diagnostics. It observes
// overlap, it does not enforce exclusion; serialization is the engine's job.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
	log    diag.Sink
}

// NewStatusTracker creates a tracker in the initializing phase.
func NewStatusTracker(sink diag.Sink) *StatusTracker {
	if sink == nil {
		sink = diag.Discard{}
	}
	return &StatusTracker{status: StatusInitializing, log: sink}
}

// Status returns the current phase.
func (t *StatusTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Set transitions to the next phase and logs the transition.
func (t *StatusTracker) Set(next Status) {
	t.mu.Lock()
	prev := t.status
	t.status = next
	t.mu.Unlock()

	if prev != next {
		t.log.Logf("status", "%s -> %s", prev, next)
	}
}
