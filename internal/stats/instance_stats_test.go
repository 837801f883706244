package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

func TestNewInstanceStats(t *testing.T) {
	s := NewInstanceStats(3)
	sum := s.GetSummary()

	if sum.InstanceID != 3 || sum.Commands != 0 || sum.Running {
		t.Errorf("fresh summary = %+v", sum)
	}
	if s.LatencyPercentile(0.5) != 0 {
		t.Error("empty digest percentile != 0")
	}
	if s.Uptime() != 0 {
		t.Error("Uptime() of never-started instance != 0")
	}
}

func TestInstanceStats_Lifecycle(t *testing.T) {
	s := NewInstanceStats(0)

	s.OnProcessStart()
	time.Sleep(5 * time.Millisecond)
	if s.Uptime() <= 0 {
		t.Error("Uptime() = 0 while running")
	}
	s.OnProcessExit(137)
	s.OnProcessStart()
	s.OnProcessExit(0)

	sum := s.GetSummary()
	if sum.Starts != 2 || sum.Restarts != 1 {
		t.Errorf("starts=%d restarts=%d, want 2/1", sum.Starts, sum.Restarts)
	}
	if sum.Running || sum.Uptime != 0 {
		t.Errorf("stopped instance: running=%v uptime=%v", sum.Running, sum.Uptime)
	}
}

// =============================================================================
// Table-Driven Tests: RecordCommand
// =============================================================================

func TestInstanceStats_RecordCommand(t *testing.T) {
	tests := []struct {
		name         string
		outcomes     []exiftool.Outcome
		wantFailures int64
	}{
		{"all ok", []exiftool.Outcome{exiftool.OutcomeOK, exiftool.OutcomeOK}, 0},
		{"mixed", []exiftool.Outcome{exiftool.OutcomeOK, exiftool.OutcomeExecute, exiftool.OutcomeTerminated}, 2},
		{"none", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewInstanceStats(0)
			for _, o := range tt.outcomes {
				s.RecordCommand(o, time.Millisecond)
			}
			sum := s.GetSummary()
			if sum.Commands != int64(len(tt.outcomes)) {
				t.Errorf("Commands = %d, want %d", sum.Commands, len(tt.outcomes))
			}
			if sum.Failures != tt.wantFailures {
				t.Errorf("Failures = %d, want %d", sum.Failures, tt.wantFailures)
			}
		})
	}
}

func TestInstanceStats_LatencyPercentiles(t *testing.T) {
	s := NewInstanceStats(0)
	for i := 1; i <= 1000; i++ {
		s.RecordCommand(exiftool.OutcomeOK, time.Duration(i)*time.Microsecond)
	}

	p50 := s.LatencyPercentile(0.5)
	if p50 < 450*time.Microsecond || p50 > 550*time.Microsecond {
		t.Errorf("p50 = %v, want ~500µs", p50)
	}
	sum := s.GetSummary()
	if sum.LatencyMax != 1000*time.Microsecond {
		t.Errorf("LatencyMax = %v, want 1ms", sum.LatencyMax)
	}
	if sum.LatencyP95 < sum.LatencyP50 {
		t.Errorf("p95 %v < p50 %v", sum.LatencyP95, sum.LatencyP50)
	}
}

func TestInstanceStats_Concurrent(t *testing.T) {
	s := NewInstanceStats(0)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				s.RecordCommand(exiftool.OutcomeOK, time.Millisecond)
				s.RecordFallback()
				_ = s.GetSummary()
			}
		}()
	}
	wg.Wait()

	sum := s.GetSummary()
	if sum.Commands != 1000 || sum.Fallbacks != 1000 {
		t.Errorf("commands=%d fallbacks=%d, want 1000/1000", sum.Commands, sum.Fallbacks)
	}
}
