package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/stats"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/timeseries"
)

// tickInterval is how often the dashboard refreshes.
const tickInterval = 500 * time.Millisecond

// sampleInterval is how often the rate tracker gets a sample.
const sampleInterval = time.Second

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit. It is sent when the run finishes.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// StatsSource provides aggregated command statistics.
type StatsSource interface {
	Aggregate() *stats.AggregatedStats
}

// FileCounter reports how many files have finished, by result.
type FileCounter interface {
	FileCounts() (ok, failed int64)
}

// Config holds TUI configuration.
type Config struct {
	TargetInstances int
	TotalFiles      int
	Version         string
	MetricsAddr     string

	Stats StatsSource
	Files FileCounter

	// Rate is sampled by the dashboard; the caller adds one per file.
	Rate *timeseries.RateTracker
}

// Model represents the TUI state.
type Model struct {
	targetInstances int
	totalFiles      int
	version         string
	metricsAddr     string

	statsSource StatsSource
	files       FileCounter
	rate        *timeseries.RateTracker

	stats       *stats.AggregatedStats
	rateStats   timeseries.RateStats
	filesOK     int64
	filesFailed int64

	startTime    time.Time
	lastUpdate   time.Time
	lastSample   time.Time
	detailedView bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	now := time.Now()
	return Model{
		targetInstances: cfg.TargetInstances,
		totalFiles:      cfg.TotalFiles,
		version:         cfg.Version,
		metricsAddr:     cfg.MetricsAddr,
		statsSource:     cfg.Stats,
		files:           cfg.Files,
		rate:            cfg.Rate,
		startTime:       now,
		lastUpdate:      now,
		lastSample:      now,
		width:           80,
		height:          24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			m = m.refresh(time.Now())
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh(time.Time(msg))
		return m, tickCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls fresh numbers from the sources.
func (m Model) refresh(now time.Time) Model {
	if m.statsSource != nil {
		m.stats = m.statsSource.Aggregate()
	}
	if m.files != nil {
		m.filesOK, m.filesFailed = m.files.FileCounts()
	}
	if m.rate != nil {
		if now.Sub(m.lastSample) >= sampleInterval {
			m.rate.RecordSample()
			m.lastSample = now
		}
		m.rateStats = m.rate.GetStats()
	}
	m.lastUpdate = now
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView && m.stats != nil && len(m.stats.PerInstance) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// tickCmd returns a command that sends a tick after tickInterval.
func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return m.lastUpdate.Sub(m.startTime)
}

// ActiveInstances returns the number of running ExifTool processes.
func (m Model) ActiveInstances() int {
	if m.stats == nil {
		return 0
	}
	return m.stats.RunningNow
}

// TargetInstances returns the configured instance count.
func (m Model) TargetInstances() int {
	return m.targetInstances
}

// FilesDone returns the number of finished files, failed ones included.
func (m Model) FilesDone() int64 {
	return m.filesOK + m.filesFailed
}

// Progress returns the fraction of files finished (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.totalFiles == 0 {
		return 0
	}
	return float64(m.FilesDone()) / float64(m.totalFiles)
}

// Detailed reports whether the per-instance view is selected.
func (m Model) Detailed() bool {
	return m.detailedView
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
