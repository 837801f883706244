package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
	}

	if m.stats != nil {
		sections = append(sections,
			lipgloss.JoinHorizontal(lipgloss.Top,
				m.renderCommandStats(),
				"  ",
				m.renderLatencyStats(),
			),
			m.renderProcessStats(),
		)
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the per-instance table.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderInstanceTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	version := "ExifTool"
	if m.version != "" {
		version += " " + m.version
	}
	header := fmt.Sprintf(
		" exiftool-batch │ %s │ Instances: %d/%d │ Elapsed: %s ",
		version,
		m.ActiveInstances(),
		m.targetInstances,
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := max(m.width-30, 20)

	done := m.FilesDone()
	var status string
	switch {
	case m.totalFiles > 0 && done >= int64(m.totalFiles):
		status = statusOK.Render(fmt.Sprintf("✓ All %d files done", m.totalFiles))
	case m.filesFailed > 0:
		status = statusWarning.Render(fmt.Sprintf("%d/%d files, %d failed", done, m.totalFiles, m.filesFailed))
	default:
		status = statusInfo.Render(fmt.Sprintf("%d/%d files", done, m.totalFiles))
	}

	eta := "--:--:--"
	if d, ok := m.rateStats.ETA(int64(m.totalFiles)); ok {
		eta = stats.FormatDuration(d)
	}
	rates := mutedStyle.Render(fmt.Sprintf("%s (10s)  %s (60s)  %s overall  ETA %s",
		stats.FormatRate(m.rateStats.Rate10s),
		stats.FormatRate(m.rateStats.Rate60s),
		stats.FormatRate(m.rateStats.RateOverall),
		eta,
	))

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Files"),
		RenderProgressBar(m.Progress(), barWidth),
		status,
		rates,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Commands and Latency
// =============================================================================

func (m Model) renderCommandStats() string {
	s := m.stats
	rows := []string{
		sectionHeaderStyle.Render("Commands"),
		RenderKeyValue("Total", valueStyle.Render(stats.FormatNumber(s.TotalCommands))),
		RenderKeyValue("Rate", valueStyle.Render(stats.FormatRate(s.CommandRate))),
		RenderKeyValue("Error rate", GetErrorRateStyle(s.ErrorRate()).Render(fmt.Sprintf("%.2f%%", s.ErrorRate()*100))),
	}

	outcomes := make([]exiftool.Outcome, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		outcomes = append(outcomes, o)
	}
	slices.Sort(outcomes)
	for _, o := range outcomes {
		rows = append(rows, RenderKeyValue("  "+string(o), GetOutcomeStyle(o).Render(stats.FormatNumber(s.Outcomes[o]))))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderLatencyStats() string {
	s := m.stats
	rows := []string{
		sectionHeaderStyle.Render("Latency"),
		RenderKeyValue("p50", valueStyle.Render(stats.FormatMs(s.LatencyP50))),
		RenderKeyValue("p95", valueStyle.Render(stats.FormatMs(s.LatencyP95))),
		RenderKeyValue("p99", valueStyle.Render(stats.FormatMs(s.LatencyP99))),
		RenderKeyValue("max", valueStyle.Render(stats.FormatMs(s.LatencyMax))),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Processes
// =============================================================================

func (m Model) renderProcessStats() string {
	s := m.stats
	rows := []string{
		sectionHeaderStyle.Render("Processes"),
		RenderKeyValue("Starts", valueStyle.Render(stats.FormatNumber(s.TotalStarts))),
		RenderKeyValue("Restarts", GetCountStyle(s.TotalRestarts, valueBadStyle).Render(stats.FormatNumber(s.TotalRestarts))),
	}
	if s.DecodeFallbacks > 0 {
		rows = append(rows, RenderKeyValue("Decode fallbacks", valueWarnStyle.Render(stats.FormatNumber(s.DecodeFallbacks))))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Per-instance Table
// =============================================================================

func (m Model) renderInstanceTable() string {
	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-4s %-8s %10s %9s %9s %10s %10s %10s",
		"ID", "State", "Uptime", "Commands", "Failures", "Restarts", "p50", "p95")))

	// Leave room for the header, footer and box borders.
	maxRows := max(m.height-10, 1)
	list := m.stats.PerInstance
	hidden := 0
	if len(list) > maxRows {
		hidden = len(list) - maxRows
		list = list[:maxRows]
	}

	for _, s := range list {
		state := statusOK.Render(fmt.Sprintf("%-8s", "running"))
		if !s.Running {
			state = dimStyle.Render(fmt.Sprintf("%-8s", "stopped"))
		}
		fmt.Fprintf(&b, "\n%-4d %s %10s %9d %9d %10d %10s %10s",
			s.InstanceID, state, stats.FormatDuration(s.Uptime),
			s.Commands, s.Failures, s.Restarts,
			stats.FormatMs(s.LatencyP50), stats.FormatMs(s.LatencyP95))
	}
	if hidden > 0 {
		b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("... %d more", hidden)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Instances"),
		b.String(),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	view := "d: per-instance"
	if m.detailedView {
		view = "d: summary"
	}
	parts := []string{"q: quit", view, "r: refresh"}
	if m.metricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(strings.Join(parts, " • "))
}
