package cache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coverlay/coverlay/pkg/coverage"
	"github.com/coverlay/coverlay/pkg/diag"
	"github.com/coverlay/coverlay/pkg/telemetry"
	"github.com/coverlay/coverlay/pkg/watcher"
)

// DefaultReloadTimeout bounds a single reload cycle so hung I/O surfaces as
// an error instead of wedging the engine in the loading phase.
const DefaultReloadTimeout = 30 * time.Second

// CycleError wraps a cycle failure with phase context.
type CycleError struct {
	Phase string // "reload" or "render"
	Cause error
	Time  time.Time
}

func (e CycleError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Cause)
}

func (e CycleError) Unwrap() error {
	return e.Cause
}

// RenderTarget paints coverage overlays into the given views. Render must be
// idempotent and must clear all overlays when given an empty snapshot.
type RenderTarget interface {
	Render(snap *coverage.Snapshot, views []string) error
}

// Subscription is a disposable handle to an event registration.
type Subscription interface {
	Dispose()
}

// FileChangeSource delivers report file change notifications.
type FileChangeSource interface {
	SubscribeFileChanges(fn func(watcher.Event)) Subscription
}

// VisibleViewSource delivers changes to the set of visible views.
type VisibleViewSource interface {
	SubscribeVisibleViews(fn func(views []string)) Subscription
}

// EngineConfig configures a SyncEngine. Cache and Renderer are required;
// Files and Views are optional event sources (the engine can also be driven
// directly through its methods).
type EngineConfig struct {
	Cache    *CoverageCache
	Renderer RenderTarget
	Files    FileChangeSource
	Views    VisibleViewSource

	Diag      diag.Sink
	Telemetry telemetry.Sink
	// Notify surfaces a non-blocking user-facing warning on cycle failure.
	Notify func(message string)

	ReloadTimeout time.Duration
}

// SyncEngine translates change notifications into reload and render cycles.
// Cycles are serialized: at most one reload is in flight, and overlapping
// triggers collapse into a single pending follow-up cycle.
type SyncEngine struct {
	cache         *CoverageCache
	renderer      RenderTarget
	status        *StatusTracker
	log           diag.Sink
	telemetry     telemetry.Sink
	notify        func(string)
	reloadTimeout time.Duration

	// renderMu serializes renderer invocations so a render-only operation
	// cannot interleave with a cycle's render and leave a stale snapshot
	// applied last.
	renderMu sync.Mutex

	mu          sync.Mutex
	views       []string
	inFlight    bool
	pending     bool
	disposed    bool
	lastError   *CycleError
	generation  uint64
	cycleCancel context.CancelFunc
	subs        []Subscription
}

// NewEngine creates an engine and acquires subscriptions on the configured
// event sources. All acquired subscriptions are released on disposal.
func NewEngine(cfg EngineConfig) (*SyncEngine, error) {
	if cfg.Cache == nil {
		return nil, errors.New("engine requires a cache")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("engine requires a render target")
	}
	if cfg.Diag == nil {
		cfg.Diag = diag.Discard{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Discard{}
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string) {}
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}

	e := &SyncEngine{
		cache:         cfg.Cache,
		renderer:      cfg.Renderer,
		status:        NewStatusTracker(cfg.Diag),
		log:           cfg.Diag,
		telemetry:     cfg.Telemetry,
		notify:        cfg.Notify,
		reloadTimeout: cfg.ReloadTimeout,
	}

	if cfg.Files != nil {
		e.subs = append(e.subs, cfg.Files.SubscribeFileChanges(e.FileChanged))
	}
	if cfg.Views != nil {
		e.subs = append(e.subs, cfg.Views.SubscribeVisibleViews(e.ViewsChanged))
	}

	return e, nil
}

// Status returns the engine's current phase.
func (e *SyncEngine) Status() Status {
	return e.status.Status()
}

// LastError returns the most recent cycle failure, or nil if the last cycle
// succeeded.
func (e *SyncEngine) LastError() *CycleError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// Views returns the current visible view set.
func (e *SyncEngine) Views() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.views...)
}

// FileChanged handles a report file notification. Create, change, and delete
// all trigger the same full reload: any single change can affect the unified
// mapping in non-local ways, so the snapshot is rebuilt from scratch.
func (e *SyncEngine) FileChanged(ev watcher.Event) {
	e.log.Logf("engine", "file %s: %s", ev.Kind, ev.Path)
	e.requestCycle()
}

// Show triggers a reload and render for the current views. Used for first
// activation and manual refresh.
func (e *SyncEngine) Show() {
	e.requestCycle()
}

// ViewsChanged updates the visible view set and re-renders the existing
// snapshot against it. It never triggers a reload.
func (e *SyncEngine) ViewsChanged(views []string) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.views = append([]string(nil), views...)
	current := e.views
	e.mu.Unlock()

	if err := e.renderSnapshot(current); err != nil {
		e.fail("render", err)
	}
}

// Clear renders an empty mapping against the current views without touching
// the cached snapshot.
func (e *SyncEngine) Clear() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	views := append([]string(nil), e.views...)
	e.mu.Unlock()

	e.render(coverage.EmptySnapshot(), views)
}

// Dispose releases all subscriptions, resets the snapshot, and renders an
// empty mapping exactly once so no orphaned overlays remain. Idempotent; no
// further cycles run after disposal.
func (e *SyncEngine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.pending = false
	// Invalidate any in-flight cycle so its result is discarded.
	e.generation++
	cycleCancel := e.cycleCancel
	views := append([]string(nil), e.views...)
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	if cycleCancel != nil {
		cycleCancel()
	}

	for _, sub := range subs {
		sub.Dispose()
	}

	e.cache.Reset()
	e.render(coverage.EmptySnapshot(), views)
	e.log.Logf("engine", "disposed")
}

// requestCycle starts a reload cycle, or marks one pending if a cycle is
// already in flight. Any number of interim requests collapse into one
// follow-up cycle.
func (e *SyncEngine) requestCycle() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if e.inFlight {
		e.pending = true
		e.mu.Unlock()
		e.log.Logf("engine", "reload coalesced")
		return
	}
	e.inFlight = true
	gen := e.generation
	e.mu.Unlock()

	go e.runCycle(gen)
}

// runCycle executes one reload-then-render cycle. The generation captured at
// start detects disposal while the cycle was in flight; a stale cycle's
// result is discarded rather than applied.
func (e *SyncEngine) runCycle(gen uint64) {
	e.status.Set(StatusLoading)

	ctx, cancel := context.WithTimeout(context.Background(), e.reloadTimeout)
	e.mu.Lock()
	if e.disposed || e.generation != gen {
		e.inFlight = false
		e.pending = false
		e.mu.Unlock()
		cancel()
		return
	}
	e.cycleCancel = cancel
	e.mu.Unlock()

	count, err := e.awaitReload(ctx)
	cancel()

	e.mu.Lock()
	e.cycleCancel = nil
	if e.disposed || e.generation != gen {
		e.inFlight = false
		e.pending = false
		e.mu.Unlock()
		return
	}
	views := append([]string(nil), e.views...)
	e.mu.Unlock()

	if err != nil {
		e.fail("reload", err)
	} else {
		e.log.Logf("engine", "reload complete: %d covered files", count)
		e.status.Set(StatusRendering)
		if renderErr := e.renderSnapshot(views); renderErr != nil {
			e.fail("render", renderErr)
		} else {
			e.mu.Lock()
			e.lastError = nil
			e.mu.Unlock()
			e.status.Set(StatusReady)
		}
	}

	e.mu.Lock()
	e.inFlight = false
	again := e.pending && !e.disposed
	e.pending = false
	if again {
		e.inFlight = true
		gen = e.generation
	}
	e.mu.Unlock()

	if again {
		go e.runCycle(gen)
	}
}

// fail handles a cycle-level failure: the prior snapshot stays in place, the
// phase moves to error, and the message is logged, sent to telemetry, and
// surfaced to the user.
func (e *SyncEngine) fail(phase string, err error) {
	cerr := CycleError{Phase: phase, Cause: err, Time: time.Now()}
	e.mu.Lock()
	e.lastError = &cerr
	e.mu.Unlock()

	e.status.Set(StatusError)
	e.log.Logf("engine", "cycle failed: %v", cerr)
	e.telemetry.Emit(telemetry.EventError, map[string]string{
		"message": cerr.Error(),
		"stack":   string(debug.Stack()),
	})
	e.notify(fmt.Sprintf("coverage reload failed: %v", cerr))
}

// awaitReload runs the reload on its own goroutine and waits for either its
// result or the context deadline. A reload stuck in blocking I/O past the
// deadline is abandoned rather than waited on: its context is already
// cancelled, so a late result cannot swap the snapshot, and the cycle takes
// the error path and frees the queue instead of wedging in loading.
func (e *SyncEngine) awaitReload(ctx context.Context) (int, error) {
	type reloadResult struct {
		count int
		err   error
	}
	done := make(chan reloadResult, 1)
	go func() {
		count, err := e.safeReload(ctx)
		done <- reloadResult{count: count, err: err}
	}()

	select {
	case res := <-done:
		return res.count, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("reload timed out after %s", e.reloadTimeout)
		}
		return 0, ctx.Err()
	}
}

// safeReload runs a reload with panic recovery so an unexpected failure
// aborts only the current cycle.
func (e *SyncEngine) safeReload(ctx context.Context) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.cache.Reload(ctx)
}

// safeRender invokes the render target with panic recovery.
func (e *SyncEngine) safeRender(snap *coverage.Snapshot, views []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.renderer.Render(snap, views)
}

// renderSnapshot reads the snapshot and invokes the renderer under the
// render lock. Reading inside the lock means a render that waited on an
// in-flight cycle's render picks up that cycle's result instead of applying
// a stale mapping over it.
func (e *SyncEngine) renderSnapshot(views []string) error {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	return e.safeRender(e.cache.Snapshot(), views)
}

// render paints a fixed mapping, used for the clear paths where the cached
// snapshot must not be consulted. Failures here follow the same error path
// as cycle failures but do not change the snapshot.
func (e *SyncEngine) render(snap *coverage.Snapshot, views []string) {
	e.renderMu.Lock()
	err := e.safeRender(snap, views)
	e.renderMu.Unlock()
	if err != nil {
		e.fail("render", err)
	}
}
