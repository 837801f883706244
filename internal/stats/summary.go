package stats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#9CA3AF") // Medium gray
	colorBorder  = lipgloss.Color("#374151") // Border gray

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(24)

	okStyle   = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errStyle  = lipgloss.NewStyle().Foreground(colorError)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2)
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Instances is the number of instances that were requested
	Instances int

	// Duration is the total run duration
	Duration time.Duration

	// Version is the ExifTool version, if known
	Version string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ShowPerInstance adds a per-instance table
	ShowPerInstance bool

	FilesOK     int64
	FilesFailed int64

	// StderrCounts maps ExifTool message patterns to occurrences
	StderrCounts map[string]int
}

// FormatExitSummary renders the summary printed to stderr at exit.
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	sections := []string{titleStyle.Render("exiftool-batch exit summary")}

	run := []string{
		row("Run duration", FormatDuration(cfg.Duration)),
		row("Instances", fmt.Sprintf("%d", cfg.Instances)),
	}
	if cfg.Version != "" {
		run = append(run, row("ExifTool version", cfg.Version))
	}
	run = append(run,
		row("Files ok", okStyle.Render(FormatNumber(cfg.FilesOK))),
		row("Files failed", failStyle(cfg.FilesFailed).Render(FormatNumber(cfg.FilesFailed))),
	)
	sections = append(sections, lipgloss.JoinVertical(lipgloss.Left, run...))

	if stats != nil {
		sections = append(sections, formatCommands(stats), formatProcesses(stats))
		if cfg.ShowPerInstance && len(stats.PerInstance) > 0 {
			sections = append(sections, formatPerInstance(stats.PerInstance))
		}
	}

	if len(cfg.StderrCounts) > 0 {
		sections = append(sections, formatStderr(cfg.StderrCounts))
	}

	if cfg.MetricsAddr != "" {
		sections = append(sections, sectionStyle.Render("Metrics"),
			row("Endpoint", "http://"+cfg.MetricsAddr+"/metrics"))
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...)) + "\n"
}

func formatCommands(stats *AggregatedStats) string {
	rows := []string{
		sectionStyle.Render("Commands"),
		row("Total", FormatNumber(stats.TotalCommands)),
		row("Rate", FormatRate(stats.CommandRate)),
		row("Error rate", failStyle(stats.TotalFailures).Render(fmt.Sprintf("%.2f%%", stats.ErrorRate()*100))),
		row("Latency p50", FormatMs(stats.LatencyP50)),
		row("Latency p95", FormatMs(stats.LatencyP95)),
		row("Latency p99", FormatMs(stats.LatencyP99)),
		row("Latency max", FormatMs(stats.LatencyMax)),
	}

	outcomes := make([]string, 0, len(stats.Outcomes))
	for o := range stats.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	slices.Sort(outcomes)
	for _, o := range outcomes {
		n := stats.Outcomes[exiftool.Outcome(o)]
		style := okStyle
		if o != string(exiftool.OutcomeOK) {
			style = warnStyle
		}
		rows = append(rows, row("  "+o, style.Render(FormatNumber(n))))
	}

	if stats.DecodeFallbacks > 0 {
		rows = append(rows, row("Decode fallbacks", warnStyle.Render(FormatNumber(stats.DecodeFallbacks))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func formatProcesses(stats *AggregatedStats) string {
	rows := []string{
		sectionStyle.Render("Processes"),
		row("Starts", FormatNumber(stats.TotalStarts)),
		row("Restarts", failStyle(stats.TotalRestarts).Render(FormatNumber(stats.TotalRestarts))),
	}

	codes := make([]int, 0, len(stats.ExitCodes))
	for code := range stats.ExitCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		label := strings.TrimSpace(fmt.Sprintf("exit %d %s", code, exitCodeLabel(code)))
		rows = append(rows, row("  "+label, FormatNumber(stats.ExitCodes[code])))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func formatPerInstance(list []Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %10s %10s %9s %10s %10s", "ID", "Commands", "Failures", "Restarts", "p50", "p95")
	for _, s := range list {
		fmt.Fprintf(&b, "\n%-8d %10d %10d %9d %10s %10s",
			s.InstanceID, s.Commands, s.Failures, s.Restarts,
			FormatMs(s.LatencyP50), FormatMs(s.LatencyP95))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sectionStyle.Render("Per instance"), b.String())
}

func formatStderr(counts map[string]int) string {
	patterns := make([]string, 0, len(counts))
	for p := range counts {
		patterns = append(patterns, p)
	}
	slices.Sort(patterns)

	rows := []string{sectionStyle.Render("ExifTool messages")}
	for _, p := range patterns {
		rows = append(rows, row(p, warnStyle.Render(fmt.Sprintf("%d", counts[p]))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func failStyle(n int64) lipgloss.Style {
	if n > 0 {
		return errStyle
	}
	return okStyle
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case -1:
		return "(not reaped)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatMs formats a duration as milliseconds, or microseconds below 1ms.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a per-second rate with appropriate precision.
func FormatRate(rate float64) string {
	switch {
	case rate >= 1000:
		return fmt.Sprintf("%.1fK/s", rate/1000)
	case rate >= 1:
		return fmt.Sprintf("%.1f/s", rate)
	default:
		return fmt.Sprintf("%.2f/s", rate)
	}
}
