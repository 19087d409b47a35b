package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDuration is how long a burst of events must go quiet before
// the callback fires. Build pipelines rewrite reports in several writes; one
// notification per rewrite is enough.
const DefaultDebounceDuration = 200 * time.Millisecond

// Debouncer coalesces a burst of triggers into a single trailing callback.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet window. A zero or
// negative duration falls back to DefaultDebounceDuration.
func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounceDuration
	}
	return &Debouncer{duration: d}
}

// Trigger schedules fn after the quiet window, resetting any pending timer.
// Only the last fn of a burst runs.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel drops any pending callback.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Duration returns the configured quiet window.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}
