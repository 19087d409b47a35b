// Package ui provides the terminal user interface for coverlay.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coverlay/coverlay/pkg/cache"
	"github.com/coverlay/coverlay/pkg/config"
	"github.com/coverlay/coverlay/pkg/debug"
	"github.com/coverlay/coverlay/pkg/overlay"
	"github.com/coverlay/coverlay/pkg/report"
)

const statusTickInterval = 500 * time.Millisecond

// renderedMsg signals that the engine completed a render pass.
type renderedMsg struct{}

// warningMsg carries a user-facing warning from the engine's error path.
type warningMsg string

// statusTickMsg drives periodic status refresh.
type statusTickMsg time.Time

// Model is the root Bubble Tea model for the coverage viewer.
type Model struct {
	keys     keyMap
	engine   *cache.SyncEngine
	cov      *cache.CoverageCache
	renderer *overlay.PaneRenderer
	views    *cache.ViewBroadcaster

	renderCh  <-chan struct{}
	warningCh <-chan string

	files    []string
	cursor   int
	openView string
	viewport viewport.Model

	status   cache.Status
	warning  string
	showHelp bool
	helpView string

	splitRatio float64

	width  int
	height int
	ready  bool
}

// NewModel wires a model over the engine and its collaborators.
func NewModel(engine *cache.SyncEngine, cov *cache.CoverageCache, renderer *overlay.PaneRenderer, views *cache.ViewBroadcaster, renderCh <-chan struct{}, warningCh <-chan string) Model {
	return Model{
		keys:       defaultKeyMap(),
		engine:     engine,
		cov:        cov,
		renderer:   renderer,
		views:      views,
		renderCh:   renderCh,
		warningCh:  warningCh,
		status:     cache.StatusInitializing,
		viewport:   viewport.New(0, 0),
		splitRatio: 0.35,
	}
}

// WithUI applies UI preferences from configuration. Ratios outside the
// usable range are clamped so a bad config cannot collapse either panel.
func (m Model) WithUI(cfg config.UIConfig) Model {
	if cfg.SplitRatio > 0 {
		ratio := cfg.SplitRatio
		if ratio < 0.2 {
			ratio = 0.2
		}
		if ratio > 0.8 {
			ratio = 0.8
		}
		m.splitRatio = ratio
	}
	m.showHelp = cfg.ShowHelp
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitRendered(),
		m.waitWarning(),
		statusTick(),
		func() tea.Msg {
			m.engine.Show()
			return nil
		},
	)
}

func (m Model) waitRendered() tea.Cmd {
	ch := m.renderCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return renderedMsg{}
	}
}

func (m Model) waitWarning() tea.Cmd {
	ch := m.warningCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return warningMsg(<-ch)
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(statusTickInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.helpView = renderHelp(min(m.width-4, 78))
		m.viewport.Width = m.paneWidth() - 2
		m.viewport.Height = m.bodyHeight() - 2
		m.refreshPane()
		return m, nil

	case renderedMsg:
		snap := m.cov.Snapshot()
		debug.Log("ui: refresh files=%d hash=%s", snap.Len(), snap.Hash)
		m.files = snap.Keys()
		if m.cursor >= len(m.files) {
			m.cursor = max(len(m.files)-1, 0)
		}
		m.refreshPane()
		return m, m.waitRendered()

	case warningMsg:
		m.warning = string(msg)
		return m, m.waitWarning()

	case statusTickMsg:
		m.status = m.engine.Status()
		if m.status == cache.StatusReady {
			m.warning = ""
		}
		return m, statusTick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.openView != "" {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.files)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Open):
		if len(m.files) == 0 {
			return m, nil
		}
		m.openView = m.files[m.cursor]
		m.views.Publish([]string{m.openView})
		return m, nil

	case key.Matches(msg, m.keys.Close):
		if m.openView != "" {
			m.openView = ""
			m.views.Publish(nil)
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.engine.Show()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.engine.Clear()
		return m, nil

	case key.Matches(msg, m.keys.Yank):
		return m.yankSummary()
	}

	if m.openView != "" {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) yankSummary() (tea.Model, tea.Cmd) {
	if len(m.files) == 0 {
		return m, nil
	}
	file := m.files[m.cursor]
	sec, ok := report.FindSection(m.cov.Snapshot(), file)
	if !ok {
		return m, nil
	}
	text := fmt.Sprintf("%s: %s", file, overlay.Summary(sec))
	if err := clipboard.WriteAll(text); err != nil {
		m.warning = fmt.Sprintf("clipboard: %v", err)
		return m, nil
	}
	m.warning = "summary copied"
	return m, nil
}

// refreshPane pushes the rendered pane for the open view into the viewport.
func (m *Model) refreshPane() {
	if m.openView == "" {
		m.viewport.SetContent("")
		return
	}
	lines, ok := m.renderer.Pane(m.openView)
	if !ok {
		m.viewport.SetContent("(source unavailable)")
		return
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	title := titleStyle.Render("coverlay") +
		listCoverageStyle.Render(fmt.Sprintf("  %d covered files", len(m.files)))

	var body string
	if m.showHelp {
		body = lipgloss.NewStyle().Height(m.bodyHeight()).Render(m.helpView)
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.listView(), m.paneView())
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, body, m.statusBar())
}

func (m Model) listWidth() int {
	w := int(float64(m.width) * m.splitRatio)
	if w < 24 {
		w = min(24, m.width)
	}
	return w
}

func (m Model) paneWidth() int {
	return m.width - m.listWidth()
}

func (m Model) bodyHeight() int {
	// Title and status bar take one line each.
	h := m.height - 2
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) listView() string {
	height := m.bodyHeight()
	width := m.listWidth()

	var b strings.Builder
	if len(m.files) == 0 {
		b.WriteString(listCoverageStyle.Render(" no covered files yet"))
	}

	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	snap := m.cov.Snapshot()
	for i := start; i < len(m.files) && i-start < height; i++ {
		file := m.files[i]
		label := truncate(file, width-4)
		if sec, ok := snap.Section(file); ok {
			label = fmt.Sprintf("%s %s", label, listCoverageStyle.Render(shortSummary(sec.Lines)))
		}
		if i == m.cursor {
			b.WriteString(listSelectedStyle.Render("> " + label))
		} else {
			b.WriteString(listItemStyle.Render(label))
		}
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().Width(width).Height(height).Render(b.String())
}

func (m Model) paneView() string {
	if m.openView == "" {
		hint := listCoverageStyle.Render("press enter to open a file")
		return paneBorderStyle.
			Width(m.paneWidth() - 2).
			Height(m.bodyHeight() - 2).
			Render(hint)
	}
	return paneBorderStyle.
		Width(m.paneWidth() - 2).
		Height(m.bodyHeight() - 2).
		Render(m.viewport.View())
}

func (m Model) statusBar() string {
	var phase string
	switch m.status {
	case cache.StatusReady:
		phase = statusReadyStyle.Render(m.status.String())
	case cache.StatusError:
		phase = statusErrorStyle.Render(m.status.String())
	default:
		phase = statusLoadingStyle.Render(m.status.String())
	}

	left := fmt.Sprintf("%s  hash:%s", phase, m.cov.Snapshot().Hash)
	if m.warning != "" {
		left += "  " + warningStyle.Render(m.warning)
	}
	right := "? help  q quit"

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// shortSummary renders covered/total for the list column.
func shortSummary(lines map[int]int) string {
	total := len(lines)
	if total == 0 {
		return ""
	}
	covered := 0
	for _, hits := range lines {
		if hits > 0 {
			covered++
		}
	}
	return fmt.Sprintf("%d/%d", covered, total)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return "…" + s[len(s)-max+1:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
