package cache

import (
	"sync"

	"github.com/coverlay/coverlay/pkg/watcher"
)

// WatcherSource adapts a report watcher into a FileChangeSource. Each
// subscription drains the watcher's event channel until disposed.
type WatcherSource struct {
	w *watcher.Watcher
}

// NewWatcherSource wraps a watcher. The caller remains responsible for
// starting and stopping the watcher itself.
func NewWatcherSource(w *watcher.Watcher) *WatcherSource {
	return &WatcherSource{w: w}
}

// SubscribeFileChanges forwards watcher events to fn until the returned
// subscription is disposed.
func (s *WatcherSource) SubscribeFileChanges(fn func(watcher.Event)) Subscription {
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-s.w.Events():
				fn(ev)
			}
		}
	}()

	return &channelSubscription{stop: stop}
}

type channelSubscription struct {
	once sync.Once
	stop chan struct{}
}

func (s *channelSubscription) Dispose() {
	s.once.Do(func() { close(s.stop) })
}

// ViewBroadcaster is a VisibleViewSource fed by explicit Publish calls, used
// by UIs that own the visible view set.
type ViewBroadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func([]string)
	current []string
}

// NewViewBroadcaster creates an empty broadcaster.
func NewViewBroadcaster() *ViewBroadcaster {
	return &ViewBroadcaster{subs: make(map[int]func([]string))}
}

// Publish records the new visible view set and notifies all subscribers.
func (b *ViewBroadcaster) Publish(views []string) {
	b.mu.Lock()
	b.current = append([]string(nil), views...)
	fns := make([]func([]string), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	snapshot := append([]string(nil), b.current...)
	b.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Current returns the last published view set.
func (b *ViewBroadcaster) Current() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.current...)
}

// SubscribeVisibleViews registers fn for future Publish calls.
func (b *ViewBroadcaster) SubscribeVisibleViews(fn func([]string)) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return &broadcastSubscription{b: b, id: id}
}

type broadcastSubscription struct {
	once sync.Once
	b    *ViewBroadcaster
	id   int
}

func (s *broadcastSubscription) Dispose() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s.id)
		s.b.mu.Unlock()
	})
}
