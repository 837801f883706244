package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/stats"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/timeseries"
)

// =============================================================================
// Mock Sources
// =============================================================================

type mockStatsSource struct {
	stats *stats.AggregatedStats
	calls int
}

func (m *mockStatsSource) Aggregate() *stats.AggregatedStats {
	m.calls++
	return m.stats
}

type mockFileCounter struct {
	ok, failed int64
}

func (m *mockFileCounter) FileCounts() (int64, int64) {
	return m.ok, m.failed
}

func sampleStats() *stats.AggregatedStats {
	return &stats.AggregatedStats{
		Instances:     2,
		RunningNow:    2,
		TotalCommands: 100,
		TotalFailures: 2,
		TotalStarts:   3,
		TotalRestarts: 1,
		Outcomes: map[exiftool.Outcome]int64{
			exiftool.OutcomeOK:         98,
			exiftool.OutcomeTerminated: 2,
		},
		CommandRate: 12.5,
		LatencyP50:  2 * time.Millisecond,
		LatencyP95:  8 * time.Millisecond,
		LatencyP99:  20 * time.Millisecond,
		LatencyMax:  40 * time.Millisecond,
		PerInstance: []stats.Summary{
			{InstanceID: 0, Running: true, Commands: 60, Starts: 2, Restarts: 1},
			{InstanceID: 1, Running: true, Commands: 40, Failures: 2, Starts: 1},
		},
	}
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model, cmd
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	m := New(Config{
		TargetInstances: 4,
		TotalFiles:      100,
		Version:         "12.76",
		MetricsAddr:     "localhost:9090",
	})

	if m.TargetInstances() != 4 {
		t.Errorf("TargetInstances() = %d, want 4", m.TargetInstances())
	}
	if m.totalFiles != 100 {
		t.Errorf("totalFiles = %d, want 100", m.totalFiles)
	}
	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.ActiveInstances() != 0 {
		t.Errorf("ActiveInstances() = %d before any stats, want 0", m.ActiveInstances())
	}
	if m.Progress() != 0 {
		t.Errorf("Progress() = %v, want 0", m.Progress())
	}
}

func TestModel_Init(t *testing.T) {
	if New(Config{}).Init() == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_Keys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, cmd := update(t, New(Config{}), keyMsg(tt.key))
			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("quit key returned nil cmd")
			}
		})
	}
}

func TestModel_Update_ToggleDetail(t *testing.T) {
	m := New(Config{})
	m, _ = update(t, m, keyMsg("d"))
	if !m.Detailed() {
		t.Error("Detailed() = false after first d")
	}
	m, _ = update(t, m, keyMsg("d"))
	if m.Detailed() {
		t.Error("Detailed() = true after second d")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m, _ := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	src := &mockStatsSource{stats: sampleStats()}
	files := &mockFileCounter{ok: 30, failed: 2}
	m := New(Config{TargetInstances: 2, TotalFiles: 64, Stats: src, Files: files})

	m, cmd := update(t, m, TickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick returned nil cmd, want next tick")
	}
	if src.calls != 1 {
		t.Errorf("Aggregate called %d times, want 1", src.calls)
	}
	if m.ActiveInstances() != 2 {
		t.Errorf("ActiveInstances() = %d, want 2", m.ActiveInstances())
	}
	if m.FilesDone() != 32 {
		t.Errorf("FilesDone() = %d, want 32", m.FilesDone())
	}
	if m.Progress() != 0.5 {
		t.Errorf("Progress() = %v, want 0.5", m.Progress())
	}
}

func TestModel_Update_TickSamplesRate(t *testing.T) {
	rate := timeseries.NewRateTracker()
	m := New(Config{Rate: rate})
	start := m.lastSample

	// Within the sample interval: no new sample
	m, _ = update(t, m, TickMsg(start.Add(tickInterval)))
	if rate.SampleCount() != 1 {
		t.Errorf("SampleCount() = %d, want 1", rate.SampleCount())
	}

	m, _ = update(t, m, TickMsg(start.Add(sampleInterval)))
	if rate.SampleCount() != 2 {
		t.Errorf("SampleCount() = %d, want 2", rate.SampleCount())
	}

	rate.Add(5)
	m, _ = update(t, m, TickMsg(start.Add(sampleInterval+tickInterval)))
	if m.rateStats.Total != 5 {
		t.Errorf("rateStats.Total = %d, want 5", m.rateStats.Total)
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	m, cmd := update(t, New(Config{}), QuitMsg{})
	if !m.quitting {
		t.Error("quitting = false after QuitMsg")
	}
	if cmd == nil {
		t.Error("QuitMsg returned nil cmd")
	}
	if m.View() != "" {
		t.Errorf("View() after quit = %q, want empty", m.View())
	}
}

func TestSendQuit_NilProgram(t *testing.T) {
	SendQuit(nil)
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_NoStats(t *testing.T) {
	m := New(Config{TargetInstances: 4, TotalFiles: 10, Version: "12.76"})
	view := m.View()

	for _, want := range []string{"exiftool-batch", "ExifTool 12.76", "Instances: 0/4", "0/10 files", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
	if strings.Contains(view, "Latency") {
		t.Error("View() shows latency without stats")
	}
}

func TestModel_View_Summary(t *testing.T) {
	src := &mockStatsSource{stats: sampleStats()}
	files := &mockFileCounter{ok: 98, failed: 2}
	m := New(Config{
		TargetInstances: 2,
		TotalFiles:      200,
		Stats:           src,
		Files:           files,
		MetricsAddr:     "127.0.0.1:9090",
	})
	m, _ = update(t, m, TickMsg(time.Now()))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	for _, want := range []string{
		"100/200 files, 2 failed",
		"Commands",
		"Latency",
		"Processes",
		"terminated",
		"2 ms",
		"http://127.0.0.1:9090/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_AllDone(t *testing.T) {
	src := &mockStatsSource{stats: sampleStats()}
	m := New(Config{TotalFiles: 5, Stats: src, Files: &mockFileCounter{ok: 5}})
	m, _ = update(t, m, TickMsg(time.Now()))

	if view := m.View(); !strings.Contains(view, "All 5 files done") {
		t.Errorf("View() missing completion status:\n%s", view)
	}
}

func TestModel_View_Detailed(t *testing.T) {
	src := &mockStatsSource{stats: sampleStats()}
	m := New(Config{Stats: src})
	m, _ = update(t, m, TickMsg(time.Now()))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, keyMsg("d"))

	view := m.View()
	for _, want := range []string{"Instances", "Commands", "Failures", "running", "d: summary"} {
		if !strings.Contains(view, want) {
			t.Errorf("detailed View() missing %q", want)
		}
	}
}

func TestModel_View_DetailedTruncates(t *testing.T) {
	s := sampleStats()
	s.PerInstance = nil
	for i := 0; i < 30; i++ {
		s.PerInstance = append(s.PerInstance, stats.Summary{InstanceID: i, Running: true})
	}
	m := New(Config{Stats: &mockStatsSource{stats: s}})
	m, _ = update(t, m, TickMsg(time.Now()))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 20})
	m, _ = update(t, m, keyMsg("d"))

	if view := m.View(); !strings.Contains(view, "... 20 more") {
		t.Errorf("detailed View() should truncate to the window:\n%s", view)
	}
}

func TestModel_View_DetailedWithoutStats(t *testing.T) {
	m, _ := update(t, New(Config{}), keyMsg("d"))
	// Falls back to the summary view
	if view := m.View(); !strings.Contains(view, "d: summary") {
		t.Errorf("View() footer should reflect the toggle:\n%s", view)
	}
}

// =============================================================================
// Tests: Styles
// =============================================================================

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
		percent  string
	}{
		{"empty", 0, 20, "0%"},
		{"half", 0.5, 20, "50%"},
		{"full", 1, 20, "100%"},
		{"over", 1.5, 20, "150%"},
		{"narrow", 0.5, 2, "50%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := RenderProgressBar(tt.progress, tt.width)
			if !strings.Contains(bar, tt.percent) {
				t.Errorf("RenderProgressBar(%v) = %q, want %q", tt.progress, bar, tt.percent)
			}
		})
	}
}

func TestGetErrorRateStyle(t *testing.T) {
	tests := []struct {
		rate float64
		want lipgloss.Style
	}{
		{0, valueGoodStyle},
		{0.005, valueWarnStyle},
		{0.5, valueBadStyle},
	}

	for _, tt := range tests {
		if got := GetErrorRateStyle(tt.rate).GetForeground(); got != tt.want.GetForeground() {
			t.Errorf("GetErrorRateStyle(%v) foreground = %v, want %v", tt.rate, got, tt.want.GetForeground())
		}
	}
}

func TestGetOutcomeStyle(t *testing.T) {
	tests := []struct {
		outcome exiftool.Outcome
		want    lipgloss.Style
	}{
		{exiftool.OutcomeOK, valueGoodStyle},
		{exiftool.OutcomeTerminated, valueBadStyle},
		{exiftool.OutcomeCancelled, valueBadStyle},
		{exiftool.OutcomeExecute, valueWarnStyle},
		{exiftool.OutcomeInvalidJSON, valueWarnStyle},
	}

	for _, tt := range tests {
		if got := GetOutcomeStyle(tt.outcome).GetForeground(); got != tt.want.GetForeground() {
			t.Errorf("GetOutcomeStyle(%s) foreground = %v, want %v", tt.outcome, got, tt.want.GetForeground())
		}
	}
}

func TestGetCountStyle(t *testing.T) {
	if got := GetCountStyle(0, valueBadStyle).GetForeground(); got != valueGoodStyle.GetForeground() {
		t.Errorf("zero count foreground = %v, want %v", got, valueGoodStyle.GetForeground())
	}
	if got := GetCountStyle(3, valueBadStyle).GetForeground(); got != valueBadStyle.GetForeground() {
		t.Errorf("nonzero count foreground = %v, want %v", got, valueBadStyle.GetForeground())
	}
}
