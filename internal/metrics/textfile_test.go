package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Instances: 2, Version: "12.76"}, reg)
	c.CommandCompleted(0, exiftool.OutcomeOK, time.Millisecond)
	c.FileProcessed(true)
	c.FileProcessed(false)

	path := filepath.Join(t.TempDir(), "exiftool_batch.prom")
	if err := WriteTextfile(reg, path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		"# TYPE exiftool_batch_files_total counter",
		`exiftool_batch_files_total{result="ok"} 1`,
		`exiftool_batch_files_total{result="failed"} 1`,
		`exiftool_batch_info{version="12.76"} 1`,
		"exiftool_batch_target_instances 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("textfile missing %q:\n%s", want, body)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	// No temporary files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestWriteTextfile_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.prom")
	if err := os.WriteFile(path, []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	NewCollectorWithRegistry(CollectorConfig{Instances: 1}, reg)
	if err := WriteTextfile(reg, path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "stale") {
		t.Error("old content should be replaced")
	}
}

func TestWriteTextfile_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "m.prom")
	if err := WriteTextfile(prometheus.NewRegistry(), path); err == nil {
		t.Error("WriteTextfile() into a missing directory succeeded")
	}
}
