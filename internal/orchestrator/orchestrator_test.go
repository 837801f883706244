package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/config"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/logging"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/testutil"
)

type testStreams struct {
	in       *strings.Reader
	out, err bytes.Buffer
}

func (s *testStreams) streams() Streams {
	return Streams{In: s.in, Out: &s.out, Err: &s.err}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ExifToolPath = testutil.StubExecutable(t)
	cfg.Instances = 2
	cfg.StartJitter = 0
	cfg.StopTimeout = 2 * time.Second
	cfg.SkipPreflight = true
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 10 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, stdin string) (*Orchestrator, *testStreams) {
	t.Helper()
	s := &testStreams{in: strings.NewReader(stdin)}
	return New(cfg, logging.Discard(), s.streams()), s
}

func runContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// readLines decodes the JSON lines written to stdout.
func readLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func counterValue(t *testing.T, o *Orchestrator, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := o.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			if matchLabels(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
		return total
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// Run
// =============================================================================

func TestOrchestrator_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files = []string{"rose.jpg", "nope.jpg", "rose.jpg"}
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.Run(runContext(t))
	if !errors.Is(err, ErrFilesFailed) {
		t.Fatalf("Run() = %v, want ErrFilesFailed", err)
	}

	lines := readLines(t, &s.out)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), s.out.String())
	}
	if lines[0]["SourceFile"] != "rose.jpg" || lines[0]["File:FileSize"] != float64(4949) {
		t.Errorf("line 0 = %v", lines[0])
	}
	if lines[1]["SourceFile"] != "nope.jpg" || !strings.Contains(lines[1]["Error"].(string), "status 1") {
		t.Errorf("line 1 = %v", lines[1])
	}
	if _, ok := lines[2]["Error"]; ok {
		t.Errorf("line 2 = %v", lines[2])
	}

	summary := o.Metrics().GenerateSummary()
	if summary.FilesOK != 2 || summary.FilesFailed != 1 {
		t.Errorf("FilesOK/FilesFailed = %d/%d, want 2/1", summary.FilesOK, summary.FilesFailed)
	}
	if got := counterValue(t, o, "exiftool_batch_files_total", map[string]string{"result": "failed"}); got != 1 {
		t.Errorf("files_total{failed} = %v, want 1", got)
	}
	if got := counterValue(t, o, "exiftool_batch_commands_total", nil); got != 3 {
		t.Errorf("commands_total = %v, want 3", got)
	}

	if !strings.Contains(s.err.String(), "exit summary") {
		t.Errorf("stderr should hold the exit summary:\n%s", s.err.String())
	}
}

func TestOrchestrator_RunAllOK(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files = []string{"rose.jpg"}
	cfg.Summary = false
	o, s := newTestOrchestrator(t, cfg, "")

	if err := o.Run(runContext(t)); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if s.err.Len() != 0 {
		t.Errorf("stderr should be empty without -summary:\n%s", s.err.String())
	}
	if n := len(readLines(t, &s.out)); n != 1 {
		t.Errorf("got %d lines, want 1", n)
	}
}

func TestOrchestrator_FilesFrom(t *testing.T) {
	listFile := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(listFile, []byte("rose.jpg\n# skipped\nrose.jpg\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		filesFrom string
		stdin     string
		want      int
	}{
		{"stdin", "-", "rose.jpg\n\nrose.jpg\nrose.jpg\n", 4},
		{"file", listFile, "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Files = []string{"rose.jpg"}
			cfg.FilesFrom = tt.filesFrom
			cfg.Summary = false
			o, s := newTestOrchestrator(t, cfg, tt.stdin)

			if err := o.Run(runContext(t)); err != nil {
				t.Fatalf("Run() = %v", err)
			}
			if n := len(readLines(t, &s.out)); n != tt.want {
				t.Errorf("got %d lines, want %d", n, tt.want)
			}
		})
	}
}

func TestOrchestrator_FilesFromMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.FilesFrom = filepath.Join(t.TempDir(), "nope.txt")
	o, _ := newTestOrchestrator(t, cfg, "")

	if err := o.Run(runContext(t)); err == nil || !strings.Contains(err.Error(), "files-from") {
		t.Errorf("Run() = %v, want a files-from error", err)
	}
}

func TestOrchestrator_Restart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Instances = 1
	cfg.Files = []string{"-stub-crash", "rose.jpg"}
	cfg.Summary = false
	o, s := newTestOrchestrator(t, cfg, "")

	if err := o.Run(runContext(t)); !errors.Is(err, ErrFilesFailed) {
		t.Fatalf("Run() = %v, want ErrFilesFailed", err)
	}
	if got := o.Metrics().TotalRestarts(); got != 1 {
		t.Errorf("TotalRestarts() = %d, want 1", got)
	}
	if got := o.Metrics().TotalStarts(); got != 2 {
		t.Errorf("TotalStarts() = %d, want 2", got)
	}
	if n := len(readLines(t, &s.out)); n != 2 {
		t.Errorf("got %d lines, want 2", n)
	}
}

func TestOrchestrator_MetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files = []string{"rose.jpg"}
	cfg.MetricsAddr = "127.0.0.1:0"
	o, s := newTestOrchestrator(t, cfg, "")

	if err := o.Run(runContext(t)); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !strings.Contains(s.err.String(), "http://127.0.0.1:") {
		t.Errorf("summary should show the bound metrics address:\n%s", s.err.String())
	}
}

func TestOrchestrator_MetricsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files = []string{"rose.jpg", "nope.jpg"}
	cfg.Summary = false
	cfg.MetricsFile = filepath.Join(t.TempDir(), "exiftool_batch.prom")
	o, _ := newTestOrchestrator(t, cfg, "")

	if err := o.Run(runContext(t)); !errors.Is(err, ErrFilesFailed) {
		t.Fatalf("Run() = %v, want ErrFilesFailed", err)
	}

	data, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	for _, want := range []string{
		`exiftool_batch_files_total{result="ok"} 1`,
		`exiftool_batch_files_total{result="failed"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics file missing %q", want)
		}
	}
}

// =============================================================================
// Preflight and diagnostics
// =============================================================================

func TestOrchestrator_Preflight(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipPreflight = false
	cfg.Files = []string{"rose.jpg"}
	cfg.Summary = false
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.Run(runContext(t))
	if err != nil && strings.Contains(err.Error(), "preflight") {
		t.Skipf("preflight failed in this environment:\n%s", s.err.String())
	}
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !strings.Contains(s.err.String(), "Preflight checks:") {
		t.Errorf("stderr should show the preflight report:\n%s", s.err.String())
	}
	if o.version != testutil.DefaultVersion {
		t.Errorf("version = %q, want %q", o.version, testutil.DefaultVersion)
	}
}

func TestOrchestrator_PreflightOldVersion(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipPreflight = false
	cfg.MinVersion = "13.00"
	cfg.Files = []string{"rose.jpg"}
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.Run(runContext(t))
	if err == nil || !strings.Contains(err.Error(), "preflight") {
		t.Fatalf("Run() = %v, want a preflight error", err)
	}
	if s.out.Len() != 0 {
		t.Errorf("no file should be processed:\n%s", s.out.String())
	}
}

func TestOrchestrator_Check(t *testing.T) {
	cfg := testConfig(t)
	o, s := newTestOrchestrator(t, cfg, "")

	err := o.Check(runContext(t))
	if err != nil && strings.Contains(err.Error(), "preflight") {
		t.Skipf("preflight failed in this environment:\n%s", s.err.String())
	}
	if err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if !strings.Contains(s.err.String(), "exiftool "+testutil.DefaultVersion+" ok") {
		t.Errorf("stderr = %q", s.err.String())
	}
}

func TestOrchestrator_CommandString(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExifToolPath = "exiftool"
	cfg.ExifToolConfig = "/etc/exiftool.config"
	o, _ := newTestOrchestrator(t, cfg, "")

	want := "exiftool -config /etc/exiftool.config -stay_open True -@ -"
	if got := o.CommandString(); got != want {
		t.Errorf("CommandString() = %q, want %q", got, want)
	}
}
