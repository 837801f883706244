package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

func TestFormatExitSummary(t *testing.T) {
	agg := &AggregatedStats{
		Instances:       2,
		TotalCommands:   1500,
		TotalFailures:   3,
		TotalStarts:     3,
		TotalRestarts:   1,
		DecodeFallbacks: 2,
		Outcomes: map[exiftool.Outcome]int64{
			exiftool.OutcomeOK:         1497,
			exiftool.OutcomeTerminated: 1,
			exiftool.OutcomeExecute:    2,
		},
		ExitCodes:   map[int]int64{0: 2, 137: 1},
		CommandRate: 250,
		LatencyP50:  2 * time.Millisecond,
		LatencyMax:  40 * time.Millisecond,
		PerInstance: []Summary{
			{InstanceID: 0, Commands: 800},
			{InstanceID: 1, Commands: 700, Restarts: 1},
		},
	}
	cfg := SummaryConfig{
		Instances:       2,
		Duration:        90 * time.Second,
		Version:         "12.76",
		MetricsAddr:     "127.0.0.1:9100",
		ShowPerInstance: true,
		FilesOK:         1497,
		FilesFailed:     3,
		StderrCounts:    map[string]int{"File not found": 2},
	}

	out := FormatExitSummary(agg, cfg)

	for _, want := range []string{
		"exit summary",
		"00:01:30",
		"12.76",
		"1.5K",
		"250.0/s",
		"2 ms",
		"40 ms",
		"terminated",
		"execute_error",
		"Decode fallbacks",
		"(SIGKILL)",
		"Per instance",
		"File not found",
		"http://127.0.0.1:9100/metrics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatExitSummary_NilStats(t *testing.T) {
	out := FormatExitSummary(nil, SummaryConfig{Instances: 1, Duration: time.Second})
	if !strings.Contains(out, "Instances") {
		t.Errorf("basic summary missing run info:\n%s", out)
	}
	if strings.Contains(out, "Commands") {
		t.Error("nil stats rendered a commands section")
	}
}

// =============================================================================
// Table-Driven Tests: Formatting Helpers
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{61 * time.Minute, "01:01:00"},
		{25*time.Hour + 5*time.Second, "25:00:05"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1_500_000, "1.5M"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 ms"},
		{250 * time.Microsecond, "250 µs"},
		{12 * time.Millisecond, "12 ms"},
	}
	for _, tt := range tests {
		if got := FormatMs(tt.d); got != tt.want {
			t.Errorf("FormatMs(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0.5, "0.50/s"},
		{12, "12.0/s"},
		{2500, "2.5K/s"},
	}
	for _, tt := range tests {
		if got := FormatRate(tt.rate); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestExitCodeLabel(t *testing.T) {
	for code, want := range map[int]string{0: "(clean)", 1: "(error)", -1: "(not reaped)", 137: "(SIGKILL)", 143: "(SIGTERM)", 2: ""} {
		if got := exitCodeLabel(code); got != want {
			t.Errorf("exitCodeLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
