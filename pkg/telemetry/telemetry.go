// Package telemetry defines the event sink the engine reports errors to.
// Transport is out of scope here; implementations either buffer in memory or
// forward to the diagnostic log.
package telemetry

import (
	"sync"

	"github.com/coverlay/coverlay/pkg/diag"
)

// EventError is the event name emitted for cycle-level failures.
const EventError = "error"

// Event is one telemetry record.
type Event struct {
	Name   string
	Fields map[string]string
}

// Sink receives telemetry events.
type Sink interface {
	Emit(name string, fields map[string]string)
}

// MemorySink buffers events for inspection, used in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty buffering sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(name string, fields map[string]string) {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Name: name, Fields: copied})
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// DiagSink forwards events to a diagnostic sink under a "telemetry" tag.
type DiagSink struct {
	sink diag.Sink
}

// NewDiagSink wraps a diagnostic sink.
func NewDiagSink(sink diag.Sink) *DiagSink {
	return &DiagSink{sink: sink}
}

// Emit implements Sink.
func (s *DiagSink) Emit(name string, fields map[string]string) {
	if s.sink == nil {
		return
	}
	msg := name
	if m, ok := fields["message"]; ok {
		msg = name + ": " + m
	}
	s.sink.Logf("telemetry", "%s", msg)
}

// Discard drops every event.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(string, map[string]string) {}
