package cache

import (
	"context"
	"sync"
	"time"

	"github.com/coverlay/coverlay/pkg/coverage"
	"github.com/coverlay/coverlay/pkg/debug"
	"github.com/coverlay/coverlay/pkg/diag"
	"github.com/coverlay/coverlay/pkg/report"
)

// CacheConfig configures a CoverageCache. The Discover/Load/Parse fields are
// seams for tests; nil values use the report package implementations.
type CacheConfig struct {
	Roots    []string
	Patterns []string
	Diag     diag.Sink

	Discover func(report.DiscoveryOptions) ([]string, error)
	Load     func(context.Context, []string) map[string][]byte
	Parse    func(map[string][]byte, report.ParseOptions) map[string]coverage.Section
}

// CoverageCache owns the authoritative coverage snapshot. The snapshot is
// replaced wholesale on every successful reload, never edited in place, so
// readers always observe a complete mapping.
type CoverageCache struct {
	roots    []string
	patterns []string
	log      diag.Sink

	discover func(report.DiscoveryOptions) ([]string, error)
	load     func(context.Context, []string) map[string][]byte
	parse    func(map[string][]byte, report.ParseOptions) map[string]coverage.Section

	mu       sync.RWMutex
	snapshot *coverage.Snapshot
}

// NewCache creates a cache with an empty snapshot.
func NewCache(cfg CacheConfig) *CoverageCache {
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{"."}
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = report.DefaultPatterns
	}
	if cfg.Diag == nil {
		cfg.Diag = diag.Discard{}
	}
	if cfg.Discover == nil {
		cfg.Discover = report.Discover
	}
	if cfg.Load == nil {
		cfg.Load = report.Load
	}
	if cfg.Parse == nil {
		cfg.Parse = report.ParseAll
	}

	return &CoverageCache{
		roots:    append([]string(nil), cfg.Roots...),
		patterns: append([]string(nil), cfg.Patterns...),
		log:      cfg.Diag,
		discover: cfg.Discover,
		load:     cfg.Load,
		parse:    cfg.Parse,
		snapshot: coverage.EmptySnapshot(),
	}
}

// Snapshot returns the current snapshot. Callers must not retain the result
// across reloads; read it fresh immediately before each use.
func (c *CoverageCache) Snapshot() *coverage.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Patterns returns the configured report filename patterns.
func (c *CoverageCache) Patterns() []string {
	return append([]string(nil), c.patterns...)
}

// Roots returns the configured discovery roots.
func (c *CoverageCache) Roots() []string {
	return append([]string(nil), c.roots...)
}

// Reload rebuilds the snapshot from current disk state and swaps it in
// atomically. Zero discovered files is not an error; the result is an empty
// snapshot. Unreadable files and unparseable payloads are dropped without
// failing the cycle. On error the prior snapshot is left untouched.
// Returns the number of covered files in the new snapshot.
func (c *CoverageCache) Reload(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { debug.LogTiming("cache.reload", time.Since(start)) }()

	paths, err := c.discover(report.DiscoveryOptions{
		Roots:    c.roots,
		Patterns: c.patterns,
	})
	if err != nil {
		return 0, err
	}
	c.log.Logf("cache", "discovered %d report files", len(paths))

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	payloads := c.load(ctx, paths)
	c.log.Logf("cache", "loaded %d of %d payloads", len(payloads), len(paths))

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sections := c.parse(payloads, report.ParseOptions{
		WarningHandler: func(msg string) {
			c.log.Logf("cache", "parse warning: %s", msg)
		},
	})

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	snap := coverage.NewSnapshot(sections)

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.log.Logf("cache", "snapshot swapped hash=%s files=%d", snap.Hash, snap.Len())
	return snap.Len(), nil
}

// Reset replaces the snapshot with an empty one, used at teardown so a final
// render can clear every overlay.
func (c *CoverageCache) Reset() {
	empty := coverage.EmptySnapshot()

	c.mu.Lock()
	c.snapshot = empty
	c.mu.Unlock()

	c.log.Logf("cache", "snapshot reset")
}
