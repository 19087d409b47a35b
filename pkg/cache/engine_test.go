package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coverlay/coverlay/pkg/coverage"
	"github.com/coverlay/coverlay/pkg/diag"
	"github.com/coverlay/coverlay/pkg/report"
	"github.com/coverlay/coverlay/pkg/telemetry"
	"github.com/coverlay/coverlay/pkg/watcher"
)

type renderCall struct {
	sections map[string]coverage.Section
	views    []string
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []renderCall
	err   error
}

func (r *fakeRenderer) Render(snap *coverage.Snapshot, views []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, renderCall{
		sections: snap.Sections(),
		views:    append([]string(nil), views...),
	})
	return nil
}

func (r *fakeRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRenderer) lastCall() (renderCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return renderCall{}, false
	}
	return r.calls[len(r.calls)-1], true
}

func (r *fakeRenderer) emptyRenders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if len(call.sections) == 0 {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestEngine(t *testing.T, cache *CoverageCache, renderer RenderTarget) *SyncEngine {
	t.Helper()
	e, err := NewEngine(EngineConfig{Cache: cache, Renderer: renderer})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Dispose)
	return e
}

func TestEngine_EndToEnd_PartialParse(t *testing.T) {
	tmpDir := t.TempDir()
	good := "SF:src/foo.ts\nDA:1,1\nDA:2,0\nend_of_record\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "a.cov"), []byte(good), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "b.cov"), []byte("not a coverage report"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCache(CacheConfig{Roots: []string{tmpDir}, Patterns: []string{"*.cov"}})
	renderer := &fakeRenderer{}
	e := newTestEngine(t, c, renderer)

	e.ViewsChanged([]string{"src/foo.ts"})
	waitFor(t, time.Second, func() bool { return renderer.callCount() >= 1 })

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady && renderer.callCount() >= 2 })

	call, _ := renderer.lastCall()
	if len(call.sections) != 1 {
		t.Fatalf("expected exactly 1 section, got %d", len(call.sections))
	}
	sec, ok := call.sections["src/foo.ts"]
	if !ok {
		t.Fatal("expected section for src/foo.ts")
	}
	if hits, _ := sec.Hits(1); hits != 1 {
		t.Errorf("line 1 hits = %d, expected 1", hits)
	}
	if hits, covered := sec.Hits(2); !covered || hits != 0 {
		t.Errorf("line 2 hits = %d (covered=%v), expected 0 hits recorded", hits, covered)
	}
	if len(call.views) != 1 || call.views[0] != "src/foo.ts" {
		t.Errorf("expected views [src/foo.ts], got %v", call.views)
	}
}

func TestEngine_EndToEnd_DeletionYieldsEmptySnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	reportPath := filepath.Join(tmpDir, "a.cov")
	if err := os.WriteFile(reportPath, []byte("SF:src/foo.ts\nDA:1,1\nend_of_record\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCache(CacheConfig{Roots: []string{tmpDir}, Patterns: []string{"*.cov"}})
	renderer := &fakeRenderer{}
	e := newTestEngine(t, c, renderer)

	e.Show()
	waitFor(t, time.Second, func() bool { return c.Snapshot().Len() == 1 })

	if err := os.Remove(reportPath); err != nil {
		t.Fatal(err)
	}
	e.FileChanged(watcher.Event{Path: reportPath, Kind: watcher.Deleted})

	waitFor(t, time.Second, func() bool { return c.Snapshot().IsEmpty() && e.Status() == StatusReady })

	call, ok := renderer.lastCall()
	if !ok || len(call.sections) != 0 {
		t.Errorf("expected final render with empty mapping, got %+v", call)
	}
}

func TestEngine_VisibilityChangeDoesNotReload(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
	}}
	c := p.cache()
	renderer := &fakeRenderer{}
	e := newTestEngine(t, c, renderer)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
	discovers := p.discovers

	e.ViewsChanged([]string{"src/foo.ts"})
	e.ViewsChanged([]string{"src/foo.ts", "src/bar.ts"})
	e.ViewsChanged(nil)

	if p.discovers != discovers {
		t.Errorf("visibility changes triggered %d reloads", p.discovers-discovers)
	}
	if renderer.callCount() < 4 {
		t.Errorf("expected a render per visibility change, got %d calls", renderer.callCount())
	}
	call, _ := renderer.lastCall()
	if len(call.sections) != 1 {
		t.Error("visibility-change render must use the existing snapshot")
	}
}

func TestEngine_ClearIsIdempotent(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
	}}
	c := p.cache()
	renderer := &fakeRenderer{}
	e := newTestEngine(t, c, renderer)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })

	e.Clear()
	e.Clear()

	if got := renderer.emptyRenders(); got != 2 {
		t.Errorf("expected 2 empty renders, got %d", got)
	}
	// Clearing must not discard cached data.
	if c.Snapshot().IsEmpty() {
		t.Error("clear must leave the cached snapshot untouched")
	}
}

func TestEngine_FailedCycleIsNonDestructive(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
	}}
	c := p.cache()
	renderer := &fakeRenderer{}
	tel := telemetry.NewMemorySink()

	var notifyMu sync.Mutex
	var warnings []string

	e, err := NewEngine(EngineConfig{
		Cache:     c,
		Renderer:  renderer,
		Telemetry: tel,
		Notify: func(msg string) {
			notifyMu.Lock()
			warnings = append(warnings, msg)
			notifyMu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Dispose)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
	before := c.Snapshot()

	p.discoverErr = errors.New("disk on fire")
	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusError })

	if c.Snapshot() != before {
		t.Error("failed cycle must preserve the prior snapshot")
	}

	last := e.LastError()
	if last == nil {
		t.Fatal("expected LastError after a failed cycle")
	}
	if last.Phase != "reload" || !errors.Is(last, p.discoverErr) {
		t.Errorf("unexpected cycle error: %+v", last)
	}

	events := tel.Events()
	if len(events) != 1 || events[0].Name != telemetry.EventError {
		t.Fatalf("expected one error telemetry event, got %v", events)
	}
	if events[0].Fields["message"] == "" {
		t.Error("telemetry error event must carry the message")
	}

	notifyMu.Lock()
	defer notifyMu.Unlock()
	if len(warnings) != 1 {
		t.Errorf("expected one user-facing warning, got %v", warnings)
	}

	// A subsequent successful cycle returns to ready.
	p.discoverErr = nil
	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
}

func TestCycleError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := CycleError{Phase: "reload", Cause: cause, Time: time.Now()}

	if got := err.Error(); got != "reload failed: no such file" {
		t.Errorf("unexpected error string: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestEngine_CoalescesOverlappingTriggers(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	reloads := 0

	c := NewCache(CacheConfig{
		Discover: func(report.DiscoveryOptions) ([]string, error) {
			mu.Lock()
			reloads++
			first := reloads == 1
			mu.Unlock()
			if first {
				<-release
			}
			return nil, nil
		},
		Load: func(_ context.Context, paths []string) map[string][]byte {
			return map[string][]byte{}
		},
		Parse: func(map[string][]byte, report.ParseOptions) map[string]coverage.Section {
			return map[string]coverage.Section{}
		},
	})
	renderer := &fakeRenderer{}
	e := newTestEngine(t, c, renderer)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusLoading })

	// Pile up triggers while the first cycle is blocked.
	for i := 0; i < 5; i++ {
		e.Show()
		e.FileChanged(watcher.Event{Path: "x.cov", Kind: watcher.Changed})
	}

	close(release)
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
	// Let any follow-up cycle settle.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	total := reloads
	mu.Unlock()
	if total != 2 {
		t.Errorf("expected 10 overlapping triggers to collapse into 1 follow-up cycle, got %d reloads", total)
	}
}

func TestEngine_DisposeRendersEmptyExactlyOnce(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
	}}
	c := p.cache()
	renderer := &fakeRenderer{}

	e, err := NewEngine(EngineConfig{Cache: c, Renderer: renderer})
	if err != nil {
		t.Fatal(err)
	}

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
	e.ViewsChanged([]string{"src/foo.ts"})
	discovers := p.discovers

	e.Dispose()
	e.Dispose()

	if got := renderer.emptyRenders(); got != 1 {
		t.Errorf("expected exactly 1 empty render on disposal, got %d", got)
	}
	if !c.Snapshot().IsEmpty() {
		t.Error("disposal must reset the snapshot")
	}

	// No further cycles or renders after disposal.
	calls := renderer.callCount()
	e.Show()
	e.ViewsChanged([]string{"src/bar.ts"})
	e.Clear()
	time.Sleep(50 * time.Millisecond)

	if p.discovers != discovers {
		t.Error("reload ran after disposal")
	}
	if renderer.callCount() != calls {
		t.Error("render ran after disposal")
	}
}

func TestEngine_DisposeDiscardsInFlightCycle(t *testing.T) {
	release := make(chan struct{})
	c := NewCache(CacheConfig{
		Discover: func(report.DiscoveryOptions) ([]string, error) {
			<-release
			return []string{"r"}, nil
		},
		Load: func(_ context.Context, paths []string) map[string][]byte {
			return map[string][]byte{"r": nil}
		},
		Parse: func(map[string][]byte, report.ParseOptions) map[string]coverage.Section {
			return map[string]coverage.Section{
				"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
			}
		},
	})
	renderer := &fakeRenderer{}

	e, err := NewEngine(EngineConfig{Cache: c, Renderer: renderer})
	if err != nil {
		t.Fatal(err)
	}

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusLoading })

	e.Dispose()
	close(release)
	time.Sleep(100 * time.Millisecond)

	if got := renderer.emptyRenders(); got != 1 {
		t.Errorf("expected exactly 1 empty render, got %d", got)
	}
	call, _ := renderer.lastCall()
	if len(call.sections) != 0 {
		t.Error("stale in-flight cycle must not render after disposal")
	}
}

func TestEngine_ReloadTimeoutForcesErrorState(t *testing.T) {
	c := NewCache(CacheConfig{
		Discover: func(report.DiscoveryOptions) ([]string, error) {
			return []string{"r"}, nil
		},
		Load: func(ctx context.Context, paths []string) map[string][]byte {
			<-ctx.Done()
			return nil
		},
		Parse: func(map[string][]byte, report.ParseOptions) map[string]coverage.Section {
			return nil
		},
	})
	renderer := &fakeRenderer{}

	e, err := NewEngine(EngineConfig{
		Cache:         c,
		Renderer:      renderer,
		ReloadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Dispose)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusError })
}

func TestEngine_BlockingLoadCannotWedgeQueue(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	loads := 0

	c := NewCache(CacheConfig{
		Discover: func(report.DiscoveryOptions) ([]string, error) {
			return []string{"r"}, nil
		},
		// The first load ignores its context entirely, like a read stuck in
		// the kernel on a dead network mount.
		Load: func(_ context.Context, paths []string) map[string][]byte {
			mu.Lock()
			loads++
			first := loads == 1
			mu.Unlock()
			if first {
				<-release
			}
			return map[string][]byte{"r": nil}
		},
		Parse: func(map[string][]byte, report.ParseOptions) map[string]coverage.Section {
			return map[string]coverage.Section{
				"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
			}
		},
	})
	renderer := &fakeRenderer{}

	e, err := NewEngine(EngineConfig{
		Cache:         c,
		Renderer:      renderer,
		ReloadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Dispose)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusError })

	// The queue must drain: a later trigger runs a fresh cycle instead of
	// coalescing into a slot that never runs.
	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })
	if c.Snapshot().Len() != 1 {
		t.Fatalf("expected follow-up reload to land, got %d sections", c.Snapshot().Len())
	}

	// The abandoned reload's context is cancelled, so its late result must
	// not replace the snapshot.
	before := c.Snapshot()
	close(release)
	time.Sleep(50 * time.Millisecond)
	if c.Snapshot() != before {
		t.Error("abandoned reload must not swap the snapshot")
	}
}

// gatedRenderer blocks one render on a gate, signalling entry, then passes
// everything through to a fakeRenderer.
type gatedRenderer struct {
	fakeRenderer
	gateMu  sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (r *gatedRenderer) Render(snap *coverage.Snapshot, views []string) error {
	r.gateMu.Lock()
	gate, entered := r.gate, r.entered
	r.gate, r.entered = nil, nil
	r.gateMu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return r.fakeRenderer.Render(snap, views)
}

func (r *gatedRenderer) arm() (gate, entered chan struct{}) {
	gate = make(chan struct{})
	entered = make(chan struct{})
	r.gateMu.Lock()
	r.gate = gate
	r.entered = entered
	r.gateMu.Unlock()
	return gate, entered
}

func TestEngine_SlowVisibilityRenderCannotMaskReload(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
	}}
	c := p.cache()
	renderer := &gatedRenderer{}
	e := newTestEngine(t, c, renderer)

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })

	// Hold the next render open, then change visibility while a reload to a
	// larger snapshot completes underneath it.
	gate, entered := renderer.arm()

	go e.ViewsChanged([]string{"src/foo.ts"})
	<-entered

	p.sections = map[string]coverage.Section{
		"src/foo.ts": coverage.NewSection("src/foo.ts", map[int]int{1: 1}, nil),
		"src/bar.ts": coverage.NewSection("src/bar.ts", map[int]int{1: 2}, nil),
	}
	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusRendering })

	close(gate)
	waitFor(t, time.Second, func() bool { return e.Status() == StatusReady })

	call, ok := renderer.lastCall()
	if !ok {
		t.Fatal("expected renders")
	}
	if len(call.sections) != 2 {
		t.Fatalf("rendered state must reflect the completed reload, got %d sections", len(call.sections))
	}
}

func TestEngine_RenderPanicIsContained(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{}}
	c := p.cache()

	panicky := renderFunc(func(*coverage.Snapshot, []string) error {
		panic("renderer exploded")
	})

	e, err := NewEngine(EngineConfig{Cache: c, Renderer: panicky})
	if err != nil {
		t.Fatal(err)
	}

	e.Show()
	waitFor(t, time.Second, func() bool { return e.Status() == StatusError })
}

type renderFunc func(*coverage.Snapshot, []string) error

func (f renderFunc) Render(snap *coverage.Snapshot, views []string) error {
	return f(snap, views)
}

func TestEngine_SubscribesAndUnsubscribes(t *testing.T) {
	p := &stubPipeline{sections: map[string]coverage.Section{}}
	c := p.cache()
	renderer := &fakeRenderer{}
	views := NewViewBroadcaster()

	e, err := NewEngine(EngineConfig{
		Cache:    c,
		Renderer: renderer,
		Views:    views,
	})
	if err != nil {
		t.Fatal(err)
	}

	views.Publish([]string{"src/foo.ts"})
	waitFor(t, time.Second, func() bool {
		got := e.Views()
		return len(got) == 1 && got[0] == "src/foo.ts"
	})

	e.Dispose()

	views.Publish([]string{"src/bar.ts"})
	time.Sleep(20 * time.Millisecond)
	if got := e.Views(); len(got) != 1 || got[0] != "src/foo.ts" {
		t.Errorf("published views after disposal must be ignored, got %v", got)
	}
}

func TestEngine_WatcherSourceDeliversEvents(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := watcher.New([]string{tmpDir}, []string{"*.cov"},
		watcher.WithDebounceDuration(20*time.Millisecond),
		watcher.WithPollInterval(30*time.Millisecond),
		watcher.WithForcePoll(true),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)

	c := NewCache(CacheConfig{Roots: []string{tmpDir}, Patterns: []string{"*.cov"}})
	renderer := &fakeRenderer{}

	e, err := NewEngine(EngineConfig{
		Cache:    c,
		Renderer: renderer,
		Files:    NewWatcherSource(w),
		Diag:     diag.Discard{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Dispose)

	lcov := "SF:src/foo.ts\nDA:1,1\nend_of_record\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "a.cov"), []byte(lcov), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return c.Snapshot().Len() == 1 })
}

func TestStatusTracker_Transitions(t *testing.T) {
	sink := diag.NewMemorySink()
	tr := NewStatusTracker(sink)

	if tr.Status() != StatusInitializing {
		t.Fatalf("expected initializing, got %v", tr.Status())
	}

	tr.Set(StatusLoading)
	tr.Set(StatusRendering)
	tr.Set(StatusReady)
	tr.Set(StatusReady) // no-op transition is not logged

	if tr.Status() != StatusReady {
		t.Errorf("expected ready, got %v", tr.Status())
	}
	if lines := sink.Lines(); len(lines) != 3 {
		t.Errorf("expected 3 logged transitions, got %d: %v", len(lines), lines)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusInitializing, "initializing"},
		{StatusReady, "ready"},
		{StatusLoading, "loading"},
		{StatusRendering, "rendering"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.status.String(); got != tc.expected {
			t.Errorf("Status(%d).String() = %q, expected %q", tc.status, got, tc.expected)
		}
	}
}
