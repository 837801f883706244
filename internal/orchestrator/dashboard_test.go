package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Dashboard
// =============================================================================

func TestOrchestrator_Dashboard(t *testing.T) {
	cfg := testConfig(t)
	cfg.TUIEnabled = true
	files := []string{"rose.jpg", "rose.jpg", "nope.jpg", "rose.jpg"}
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.runDashboard(runContext(t), files, tea.WithInput(nil), tea.WithoutRenderer())
	if err != nil {
		t.Fatalf("runDashboard() = %v", err)
	}

	if n := len(readLines(t, &s.out)); n != 4 {
		t.Errorf("got %d lines, want 4", n)
	}
	if got := o.rate.GetStats().Total; got != 4 {
		t.Errorf("rate total = %d, want 4", got)
	}
	if ok, failed := o.Metrics().FileCounts(); ok != 3 || failed != 1 {
		t.Errorf("FileCounts() = %d, %d, want 3, 1", ok, failed)
	}
}

func TestOrchestrator_DashboardQuit(t *testing.T) {
	cfg := testConfig(t)
	cfg.TUIEnabled = true
	// Slow files keep the run busy until the quit key arrives.
	files := []string{"-stub-sleep=10s", "-stub-sleep=10s", "-stub-sleep=10s"}
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.runDashboard(runContext(t), files,
		tea.WithInput(strings.NewReader("q")), tea.WithoutRenderer())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("runDashboard() = %v, want context.Canceled", err)
	}
	if s.out.Len() != 0 {
		t.Errorf("cancelled files should not be emitted:\n%s", s.out.String())
	}
}

func TestOrchestrator_RunPoolWithoutDashboard(t *testing.T) {
	cfg := testConfig(t)
	o, s := newTestOrchestrator(t, cfg, "")

	if err := o.runPool(runContext(t), []string{"rose.jpg"}); err != nil {
		t.Fatalf("runPool() = %v", err)
	}
	if n := len(readLines(t, &s.out)); n != 1 {
		t.Errorf("got %d lines, want 1", n)
	}
}
