package orchestrator

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/tui"
)

// runPool runs the pool, under the live dashboard when it is enabled.
func (o *Orchestrator) runPool(ctx context.Context, files []string) error {
	if !o.config.TUIEnabled {
		return o.pool.Run(ctx, files, o.emit)
	}
	return o.runDashboard(ctx, files, tea.WithInputTTY())
}

// runDashboard runs the pool in the background while the dashboard owns
// the terminal. Quitting the dashboard cancels the run. If the dashboard
// cannot start, the run continues without it.
func (o *Orchestrator) runDashboard(ctx context.Context, files []string, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := ""
	if o.metricsServer != nil {
		addr = o.metricsServer.Addr()
	}
	model := tui.New(tui.Config{
		TargetInstances: min(o.config.Instances, len(files)),
		TotalFiles:      len(files),
		Version:         o.version,
		MetricsAddr:     addr,
		Stats:           o.aggregator,
		Files:           o.metrics,
		Rate:            o.rate,
	})

	opts = append([]tea.ProgramOption{
		tea.WithOutput(o.streams.Err),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	}, opts...)
	prog := tea.NewProgram(model, opts...)

	done := make(chan error, 1)
	go func() {
		err := o.pool.Run(ctx, files, o.emit)
		tui.SendQuit(prog)
		done <- err
	}()

	if _, err := prog.Run(); err != nil {
		o.logger.Warn("dashboard_failed", "error", err)
		return <-done
	}
	// Dashboard exited: either the run finished or the user quit.
	cancel()
	return <-done
}
