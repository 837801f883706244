package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRampScheduler_Delay(t *testing.T) {
	rs := NewRampSchedulerWithSeed(time.Second, 42)

	if d := rs.Delay(0); d != 0 {
		t.Errorf("Delay(0) = %v, want 0", d)
	}
	for id := 1; id < 50; id++ {
		d := rs.Delay(id)
		if d < 0 || d >= time.Second {
			t.Errorf("Delay(%d) = %v, outside [0, 1s)", id, d)
		}
		if d != rs.Delay(id) {
			t.Errorf("Delay(%d) not deterministic", id)
		}
	}

	other := NewRampSchedulerWithSeed(time.Second, 42)
	if rs.Delay(7) != other.Delay(7) {
		t.Error("same seed should give the same delays")
	}
	if rs.Seed() != 42 {
		t.Errorf("Seed() = %d, want 42", rs.Seed())
	}
	if rs.Window() != time.Second {
		t.Errorf("Window() = %v", rs.Window())
	}
}

func TestRampScheduler_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
	}{
		{"zero_window", 0},
		{"negative_window", -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := NewRampScheduler(tt.window)
			if d := rs.Delay(5); d != 0 {
				t.Errorf("Delay(5) = %v, want 0", d)
			}
			if err := rs.Schedule(context.Background(), 5); err != nil {
				t.Errorf("Schedule() = %v, want nil", err)
			}
		})
	}
}

func TestRampScheduler_Schedule(t *testing.T) {
	rs := NewRampSchedulerWithSeed(50*time.Millisecond, 1)

	// Find an instance with a non-zero delay
	id := 1
	for rs.Delay(id) == 0 {
		id++
	}

	start := time.Now()
	if err := rs.Schedule(context.Background(), id); err != nil {
		t.Fatalf("Schedule() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < rs.Delay(id) {
		t.Errorf("Schedule returned after %v, want >= %v", elapsed, rs.Delay(id))
	}
}

func TestRampScheduler_ScheduleCancelled(t *testing.T) {
	rs := NewRampSchedulerWithSeed(time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rs.Schedule(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Schedule() = %v, want context.Canceled", err)
	}
	// Instance 0 never waits, but still reports cancellation
	if err := rs.Schedule(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Schedule(0) = %v, want context.Canceled", err)
	}
}
