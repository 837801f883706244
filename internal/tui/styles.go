// Package tui provides a live terminal dashboard for exiftool-batch.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It shows file progress, throughput, command latency and process
// health while a run is in progress.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

// Dashboard palette: purple accents on a dark terminal.
var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorSuccess   = lipgloss.Color("#10B981")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorError     = lipgloss.Color("#EF4444")
	colorInfo      = lipgloss.Color("#3B82F6")
	colorText      = lipgloss.Color("#E5E7EB")
	colorTextMuted = lipgloss.Color("#9CA3AF")
	colorTextDim   = lipgloss.Color("#6B7280")
	colorBorder    = lipgloss.Color("#374151")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func bold(c lipgloss.Color) lipgloss.Style { return fg(c).Bold(true) }

// Text and status line styles.
var (
	mutedStyle = fg(colorTextMuted)
	dimStyle   = fg(colorTextDim)

	statusOK      = bold(colorSuccess)
	statusWarning = bold(colorWarning)
	statusInfo    = bold(colorInfo)
)

// Panels.
var (
	boxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).Padding(0, 1)

	headerStyle = bold(colorText).Background(colorPrimary).Padding(0, 1).MarginBottom(1)

	// Section titles are underlined with a thin border.
	sectionHeaderStyle = bold(colorSecondary).BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).BorderForeground(colorBorder)

	footerStyle      = mutedStyle.MarginTop(1)
	tableHeaderStyle = bold(colorSecondary)
)

// Numbers, labels and the progress bar.
var (
	valueStyle     = bold(colorText)
	valueGoodStyle = bold(colorSuccess)
	valueBadStyle  = bold(colorError)
	valueWarnStyle = bold(colorWarning)

	labelStyle = mutedStyle.Width(20)

	progressBarStyle      = fg(colorPrimary)
	progressBarEmptyStyle = fg(colorBorder)
	progressPercentStyle  = bold(colorText)
)

// =============================================================================
// Status Indicators
// =============================================================================

// GetErrorRateStyle returns a style based on error rate.
func GetErrorRateStyle(errorRate float64) lipgloss.Style {
	switch {
	case errorRate == 0:
		return valueGoodStyle
	case errorRate < 0.01: // <1%
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// GetCountStyle returns the good style for zero and the given style otherwise.
func GetCountStyle(n int64, nonZero lipgloss.Style) lipgloss.Style {
	if n == 0 {
		return valueGoodStyle
	}
	return nonZero
}

// GetOutcomeStyle returns the style for a command outcome.
func GetOutcomeStyle(o exiftool.Outcome) lipgloss.Style {
	switch o {
	case exiftool.OutcomeOK:
		return valueGoodStyle
	case exiftool.OutcomeTerminated, exiftool.OutcomeCancelled:
		return valueBadStyle
	default:
		return valueWarnStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		value,
	)
}

// RenderProgressBar renders a progress bar. progress is clamped to [0, 1].
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	filled = max(0, min(filled, width))

	bar := progressBarStyle.Render(strings.Repeat("█", filled)) +
		progressBarEmptyStyle.Render(strings.Repeat("░", width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}
