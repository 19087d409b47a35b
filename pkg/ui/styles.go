package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Adaptive colors for light and dark terminals.
var (
	colorText    = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F8F8F2"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#6272A4"}
	colorPrimary = lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"}
	colorDanger  = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	listItemStyle = lipgloss.NewStyle().
			Foreground(colorText).
			PaddingLeft(1)

	listSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPrimary)

	listCoverageStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	paneBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(lipgloss.AdaptiveColor{Light: "#E8E8E8", Dark: "#363949"}).
			Padding(0, 1)

	statusReadyStyle   = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	statusLoadingStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	statusErrorStyle   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)

	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
)
