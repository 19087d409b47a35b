// Package diag provides the diagnostic sink the engine writes to: timestamped,
// tagged, append-only log lines of the form
//
//	[<timestamp>][<tag>]: <message>
//
// Sinks are injected at construction; there are no package-level singletons.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Sink receives diagnostic lines.
type Sink interface {
	// Logf appends one tagged line. The tag identifies the subsystem
	// ("cache", "engine", "watcher").
	Logf(tag, format string, args ...any)
}

// timestampLayout matches the wall-clock precision the log lines carry.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// formatLine renders the canonical diagnostic line shape.
func formatLine(now time.Time, tag, msg string) string {
	return fmt.Sprintf("[%s][%s]: %s", now.Format(timestampLayout), tag, msg)
}

// WriterSink appends formatted lines to an io.Writer. Safe for concurrent use.
type WriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewWriterSink wraps a writer as a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, now: time.Now}
}

// Logf implements Sink.
func (s *WriterSink) Logf(tag, format string, args ...any) {
	line := formatLine(s.now(), tag, fmt.Sprintf(format, args...))
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// FileSink appends lines to a log file, creating it on first write.
type FileSink struct {
	once sync.Once
	err  error
	f    *os.File
	ws   *WriterSink
	path string
}

// NewFileSink creates a sink appending to path. The file is opened lazily so
// constructing a sink for a path that is never written stays side-effect free.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Logf implements Sink. Open failures degrade to dropping lines; diagnostics
// must never take the engine down.
func (s *FileSink) Logf(tag, format string, args ...any) {
	s.once.Do(func() {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			s.err = err
			return
		}
		s.f = f
		s.ws = NewWriterSink(f)
	})
	if s.err != nil {
		return
	}
	s.ws.Logf(tag, format, args...)
}

// Close releases the underlying file, if one was opened.
func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// ConsoleSink routes diagnostic lines through a charmbracelet logger, used for
// the CLI's human-facing output.
type ConsoleSink struct {
	logger *charmlog.Logger
}

// NewConsoleSink builds a sink over an existing logger. A nil logger gets a
// stderr default.
func NewConsoleSink(logger *charmlog.Logger) *ConsoleSink {
	if logger == nil {
		logger = charmlog.New(os.Stderr)
	}
	return &ConsoleSink{logger: logger}
}

// Logf implements Sink.
func (s *ConsoleSink) Logf(tag, format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...), "tag", tag)
}

// MemorySink records lines for assertions in tests.
type MemorySink struct {
	mu    sync.Mutex
	lines []string
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Logf implements Sink.
func (s *MemorySink) Logf(tag, format string, args ...any) {
	line := formatLine(time.Now(), tag, fmt.Sprintf(format, args...))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

// Lines returns a copy of everything logged so far.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Discard drops every line.
type Discard struct{}

// Logf implements Sink.
func (Discard) Logf(string, string, ...any) {}

// Tee fans one line out to several sinks.
type Tee []Sink

// Logf implements Sink.
func (t Tee) Logf(tag, format string, args ...any) {
	for _, s := range t {
		if s != nil {
			s.Logf(tag, format, args...)
		}
	}
}
