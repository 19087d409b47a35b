// Package overlay paints per-line coverage markers into visible source views.
package overlay

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/coverlay/coverlay/pkg/coverage"
	"github.com/coverlay/coverlay/pkg/report"
)

// Gutter marker glyphs.
const (
	MarkCovered   = "✓" // line executed
	MarkUncovered = "✗" // line instrumented, never hit
	MarkPartial   = "◐" // some branches on the line not taken
	MarkNeutral   = " "      // line not instrumented
)

// Theme styles the coverage gutter.
type Theme struct {
	Covered   lipgloss.Style
	Uncovered lipgloss.Style
	Partial   lipgloss.Style
	Neutral   lipgloss.Style
}

// DefaultTheme returns the standard green/red/yellow gutter theme.
func DefaultTheme() Theme {
	return Theme{
		Covered:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Uncovered: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Partial:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		Neutral:   lipgloss.NewStyle().Faint(true),
	}
}

// PlainTheme returns an unstyled theme, used for tests and robot output.
func PlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{Covered: plain, Uncovered: plain, Partial: plain, Neutral: plain}
}

// LineMark classifies one source line against a section.
func LineMark(sec coverage.Section, line int) string {
	hits, covered := sec.Hits(line)
	if !covered {
		return MarkNeutral
	}
	if hits == 0 {
		return MarkUncovered
	}
	for _, b := range sec.Branches {
		if b.Line == line && b.Taken == 0 {
			return MarkPartial
		}
	}
	return MarkCovered
}

// ContentProvider supplies source lines for a view identity.
type ContentProvider interface {
	Lines(view string) ([]string, bool)
}

// FileProvider reads view content from disk, treating the view identity as a
// file path.
type FileProvider struct{}

// Lines reads and splits the file behind a view.
func (FileProvider) Lines(view string) ([]string, bool) {
	data, err := os.ReadFile(view)
	if err != nil {
		return nil, false
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{}, true
	}
	return strings.Split(text, "\n"), true
}

// MapProvider is a fixed in-memory ContentProvider.
type MapProvider map[string][]string

func (p MapProvider) Lines(view string) ([]string, bool) {
	lines, ok := p[view]
	return lines, ok
}

// PaneRenderer paints coverage gutters into panes keyed by view identity.
// It implements the engine's render target: rendering is idempotent, and an
// empty snapshot clears every overlay.
type PaneRenderer struct {
	provider ContentProvider
	theme    Theme

	mu    sync.Mutex
	panes map[string][]string
}

// NewPaneRenderer creates a renderer over the given content provider.
func NewPaneRenderer(provider ContentProvider, theme Theme) *PaneRenderer {
	return &PaneRenderer{
		provider: provider,
		theme:    theme,
		panes:    make(map[string][]string),
	}
}

// Render repaints every visible view against the snapshot and drops panes
// that are no longer visible.
func (r *PaneRenderer) Render(snap *coverage.Snapshot, views []string) error {
	next := make(map[string][]string, len(views))

	for _, view := range views {
		lines, ok := r.provider.Lines(view)
		if !ok {
			continue
		}

		sec, found := report.FindSection(snap, view)
		if !found {
			next[view] = annotate(r.theme, lines, coverage.Section{})
			continue
		}
		next[view] = annotate(r.theme, lines, sec)
	}

	r.mu.Lock()
	r.panes = next
	r.mu.Unlock()
	return nil
}

// Pane returns the annotated lines for a view, if it was rendered.
func (r *PaneRenderer) Pane(view string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, ok := r.panes[view]
	if !ok {
		return nil, false
	}
	return append([]string(nil), lines...), true
}

// Views returns the identities of currently rendered panes.
func (r *PaneRenderer) Views() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]string, 0, len(r.panes))
	for view := range r.panes {
		views = append(views, view)
	}
	return views
}

// annotate prefixes each source line with a styled gutter cell.
func annotate(theme Theme, lines []string, sec coverage.Section) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		mark := LineMark(sec, i+1)
		var style lipgloss.Style
		switch mark {
		case MarkCovered:
			style = theme.Covered
		case MarkUncovered:
			style = theme.Uncovered
		case MarkPartial:
			style = theme.Partial
		default:
			style = theme.Neutral
		}
		gutter := style.Render(runewidth.FillRight(mark, 2))
		out[i] = gutter + line
	}
	return out
}

// Summary reports how many instrumented lines in a section are covered.
func Summary(sec coverage.Section) string {
	total := len(sec.Lines)
	if total == 0 {
		return "no coverage data"
	}
	covered := 0
	for _, hits := range sec.Lines {
		if hits > 0 {
			covered++
		}
	}
	pct := float64(covered) / float64(total) * 100
	return fmt.Sprintf("%d/%d lines (%.1f%%)", covered, total, pct)
}
