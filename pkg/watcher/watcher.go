// Package watcher monitors coverage report files for changes using fsnotify
// with a polling fallback for filesystems where inotify is unreliable.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/coverlay/coverlay/pkg/debug"
	"github.com/coverlay/coverlay/pkg/report"
)

// DefaultPollInterval is the default polling interval for fallback mode.
const DefaultPollInterval = 2 * time.Second

// Common errors.
var (
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// EventKind classifies what happened to a report file.
type EventKind int

const (
	// Created means a file matching the patterns appeared.
	Created EventKind = iota
	// Changed means an existing report file was rewritten.
	Changed
	// Deleted means a report file was removed or renamed away.
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one classified filesystem notification for a report file.
type Event struct {
	Path string
	Kind EventKind
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDuration sets the debounce duration.
func WithDebounceDuration(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceDuration = d
	}
}

// WithPollInterval sets the polling interval for fallback mode.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithOnEvent sets the callback invoked for each debounced report event.
func WithOnEvent(fn func(Event)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// WithOnError sets the callback invoked on errors.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithForcePoll forces polling mode even if fsnotify is available.
func WithForcePoll(force bool) Option {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher monitors the configured roots for report files matching the
// configured patterns and reports created/changed/deleted events.
type Watcher struct {
	roots            []string
	patterns         []string
	debounceDuration time.Duration
	pollInterval     time.Duration
	onEvent          func(Event)
	onError          func(error)
	forcePoll        bool
	forcePollEnv     bool
	fsType           FilesystemType

	fsWatcher   *fsnotify.Watcher
	useFallback bool

	mu         sync.RWMutex
	started    bool
	known      map[string]fileState
	debouncers map[string]*Debouncer
	pending    map[string]EventKind

	ctx     context.Context
	cancel  context.CancelFunc
	eventCh chan Event
}

// New creates a watcher for report files matching patterns under roots.
func New(roots, patterns []string, opts ...Option) (*Watcher, error) {
	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		absRoots = append(absRoots, abs)
	}

	w := &Watcher{
		roots:            absRoots,
		patterns:         append([]string(nil), patterns...),
		debounceDuration: DefaultDebounceDuration,
		pollInterval:     DefaultPollInterval,
		onEvent:          func(Event) {},
		onError:          func(error) {},
		known:            make(map[string]fileState),
		debouncers:       make(map[string]*Debouncer),
		pending:          make(map[string]EventKind),
		eventCh:          make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching for report changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.useFallback = false
	w.forcePollEnv = envBool("COVERLAY_FORCE_POLLING") || envBool("COVERLAY_FORCE_POLL")
	w.fsType = FSTypeUnknown

	if len(w.roots) > 0 {
		w.fsType = DetectFilesystemType(w.roots[0])
		if isRemoteFilesystem(w.fsType) {
			w.useFallback = true
		}
	}

	if w.forcePoll || w.forcePollEnv {
		w.useFallback = true
	}

	// Seed the known set so the first poll tick diffs against current disk
	// state instead of reporting every existing report as new.
	w.known = w.snapshotDiskState()

	if !w.useFallback {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.useFallback = true
		} else if err := w.addWatchTree(fsw); err != nil {
			fsw.Close()
			w.useFallback = true
		} else {
			w.fsWatcher = fsw
			go w.watchFsnotify()
		}
	}

	if w.useFallback {
		debug.Log("watcher: polling fallback fstype=%s interval=%s", w.fsType, w.pollInterval)
		go w.watchPolling()
	}

	w.started = true
	return nil
}

// Stop stops watching. The event channel is left open; closing it would race
// with in-flight debouncer callbacks.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}

	if w.cancel != nil {
		w.cancel()
	}
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	for _, d := range w.debouncers {
		d.Cancel()
	}
	w.started = false
}

// IsPolling returns true if the watcher is using polling mode.
func (w *Watcher) IsPolling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.useFallback
}

// IsStarted returns true if the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started
}

// Events returns a channel receiving debounced report events. This is an
// alternative to the OnEvent callback.
func (w *Watcher) Events() <-chan Event {
	return w.eventCh
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// FilesystemType returns the best-effort filesystem classification.
func (w *Watcher) FilesystemType() FilesystemType {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fsType
}

// PollInterval returns the polling interval used in fallback mode.
func (w *Watcher) PollInterval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pollInterval
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// addWatchTree registers every directory under the roots, since fsnotify
// watches are not recursive.
func (w *Watcher) addWatchTree(fsw *fsnotify.Watcher) error {
	for _, root := range w.roots {
		if err := fsw.Add(root); err != nil {
			return err
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || path == root {
				return nil
			}
			// Unwatchable subdirectories are skipped, not fatal.
			_ = fsw.Add(path)
			return nil
		})
	}
	return nil
}

// snapshotDiskState stats every currently discoverable report file.
func (w *Watcher) snapshotDiskState() map[string]fileState {
	state := make(map[string]fileState)
	paths, err := report.Discover(report.DiscoveryOptions{Roots: w.roots, Patterns: w.patterns})
	if err != nil {
		return state
	}
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			state[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		}
	}
	return state
}

// watchFsnotify monitors using fsnotify events.
func (w *Watcher) watchFsnotify() {
	w.mu.RLock()
	fsw := w.fsWatcher
	w.mu.RUnlock()
	if fsw == nil {
		return
	}

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleFsnotifyEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	// A new directory needs its own watch for nested reports.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.RLock()
			fsw := w.fsWatcher
			w.mu.RUnlock()
			if fsw != nil {
				_ = fsw.Add(event.Name)
			}
			return
		}
	}

	if !report.MatchesAny(w.roots, w.patterns, event.Name) {
		return
	}

	var kind EventKind
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Deleted
	case event.Op&fsnotify.Create != 0:
		kind = Created
	case event.Op&fsnotify.Write != 0:
		kind = Changed
	default:
		return
	}

	path := event.Name
	w.mu.Lock()
	// Writes that follow a create inside the same quiet window still count
	// as a create; a delete always supersedes.
	prev, havePrev := w.pending[path]
	if kind == Changed && havePrev && prev == Created {
		kind = Created
	}
	w.pending[path] = kind
	d := w.debouncers[path]
	if d == nil {
		d = NewDebouncer(w.debounceDuration)
		w.debouncers[path] = d
	}
	w.mu.Unlock()

	d.Trigger(func() { w.flushPending(path) })
}

// flushPending emits the coalesced event for a path after its quiet window.
func (w *Watcher) flushPending(path string) {
	w.mu.Lock()
	kind, ok := w.pending[path]
	delete(w.pending, path)
	if ok {
		if kind == Deleted {
			delete(w.known, path)
		} else if info, err := os.Stat(path); err == nil {
			w.known[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		}
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	w.notify(Event{Path: path, Kind: kind})
}

// watchPolling monitors by periodically re-discovering and diffing mtimes.
func (w *Watcher) watchPolling() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			current := w.snapshotDiskState()

			w.mu.Lock()
			prev := w.known
			w.known = current
			w.mu.Unlock()

			for path, state := range current {
				old, existed := prev[path]
				switch {
				case !existed:
					w.notify(Event{Path: path, Kind: Created})
				case state.modTime.After(old.modTime) || state.size != old.size:
					w.notify(Event{Path: path, Kind: Changed})
				}
			}
			for path := range prev {
				if _, still := current[path]; !still {
					w.notify(Event{Path: path, Kind: Deleted})
				}
			}
		}
	}
}

// notify invokes the event callback and signals the event channel.
func (w *Watcher) notify(ev Event) {
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()

	// Best-effort suppression after Stop. A small race window remains but
	// downstream handlers tolerate late events.
	if !started {
		return
	}

	w.onEvent(ev)

	select {
	case w.eventCh <- ev:
	default:
	}
}
