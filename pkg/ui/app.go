package ui

import (
	"fmt"

	"github.com/coverlay/coverlay/pkg/cache"
	"github.com/coverlay/coverlay/pkg/config"
	"github.com/coverlay/coverlay/pkg/coverage"
	"github.com/coverlay/coverlay/pkg/diag"
	"github.com/coverlay/coverlay/pkg/overlay"
	"github.com/coverlay/coverlay/pkg/telemetry"
	"github.com/coverlay/coverlay/pkg/watcher"
)

// notifyingRenderer wraps a render target and signals a channel after every
// render so the UI can refresh without polling.
type notifyingRenderer struct {
	inner cache.RenderTarget
	ch    chan struct{}
}

func (r *notifyingRenderer) Render(snap *coverage.Snapshot, views []string) error {
	err := r.inner.Render(snap, views)
	select {
	case r.ch <- struct{}{}:
	default:
	}
	return err
}

// App wires the cache, watcher, engine, and renderer behind the TUI.
type App struct {
	cfg      config.Config
	cov      *cache.CoverageCache
	engine   *cache.SyncEngine
	watcher  *watcher.Watcher
	renderer *overlay.PaneRenderer
	views    *cache.ViewBroadcaster
	logSink  diag.Sink
	fileSink *diag.FileSink
	model    Model
}

// NewApp builds the full pipeline from configuration. Call Start before
// running the model and Stop on the way out.
func NewApp(cfg config.Config) (*App, error) {
	var logSink diag.Sink = diag.Discard{}
	var fileSink *diag.FileSink
	if cfg.LogFile != "" {
		fileSink = diag.NewFileSink(cfg.LogFile)
		logSink = fileSink
	}

	theme := overlay.DefaultTheme()
	if cfg.UI.Theme == "plain" {
		theme = overlay.PlainTheme()
	}
	renderer := overlay.NewPaneRenderer(overlay.FileProvider{}, theme)

	renderCh := make(chan struct{}, 1)
	warningCh := make(chan string, 4)

	cov := cache.NewCache(cache.CacheConfig{
		Roots:    cfg.Reports.Roots,
		Patterns: cfg.Reports.Patterns,
		Diag:     logSink,
	})

	w, err := watcher.New(cfg.Reports.Roots, cfg.Reports.Patterns,
		watcher.WithDebounceDuration(cfg.DebounceDuration()),
		watcher.WithPollInterval(cfg.PollIntervalDuration()),
		watcher.WithForcePoll(cfg.Watch.ForcePoll),
	)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	views := cache.NewViewBroadcaster()

	engine, err := cache.NewEngine(cache.EngineConfig{
		Cache:     cov,
		Renderer:  &notifyingRenderer{inner: renderer, ch: renderCh},
		Files:     cache.NewWatcherSource(w),
		Views:     views,
		Diag:      logSink,
		Telemetry: telemetry.NewDiagSink(logSink),
		Notify: func(msg string) {
			select {
			case warningCh <- msg:
			default:
			}
		},
		ReloadTimeout: cfg.ReloadTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	app := &App{
		cfg:      cfg,
		cov:      cov,
		engine:   engine,
		watcher:  w,
		renderer: renderer,
		views:    views,
		logSink:  logSink,
		fileSink: fileSink,
	}
	app.model = NewModel(engine, cov, renderer, views, renderCh, warningCh).WithUI(cfg.UI)
	return app, nil
}

// Model returns the root TUI model.
func (a *App) Model() Model {
	return a.model
}

// Engine returns the sync engine, used by headless (robot) mode.
func (a *App) Engine() *cache.SyncEngine {
	return a.engine
}

// Cache returns the coverage cache.
func (a *App) Cache() *cache.CoverageCache {
	return a.cov
}

// Start begins filesystem watching.
func (a *App) Start() error {
	return a.watcher.Start()
}

// Stop tears down the engine and watcher. The engine renders a final empty
// mapping so no overlays outlive the session.
func (a *App) Stop() {
	a.engine.Dispose()
	a.watcher.Stop()
	if a.fileSink != nil {
		_ = a.fileSink.Close()
	}
}
