// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
)

// fdsPerInstance covers the three pipes of one ExifTool process (both ends
// are open in the parent until the child has started) and the files it
// reads.
const fdsPerInstance = 8

// probeTimeout bounds the "exiftool -ver" check. Perl start-up on a cold
// cache can take a few seconds.
const probeTimeout = 15 * time.Second

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks  []Check
	Passed  bool
	Version string // ExifTool version, if the binary answered
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options selects what RunAll checks.
type Options struct {
	Instances  int
	Executable string
	ConfigFile string

	// MinVersion is the oldest acceptable ExifTool. nil skips the comparison
	// but the binary must still answer -ver.
	MinVersion *process.Version
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(opts.Instances))
	add(checkProcessLimit(opts.Instances))
	if opts.ConfigFile != "" {
		add(checkConfigFile(opts.ConfigFile))
	}

	exifCheck, version := checkExifTool(ctx, opts.Executable, opts.MinVersion)
	add(exifCheck)
	result.Version = version

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(instances int) Check {
	required := instances*fdsPerInstance + 50
	actual, ok := openFileLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d instances)", actual, required, instances),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
// RLIMIT_NPROC is not exported by syscall, so the soft limit is read from
// /proc/self/limits.
func checkProcessLimit(instances int) Check {
	required := instances + 20

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses extracts the soft "Max processes" limit. It returns 0
// when the line is missing or malformed.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// checkConfigFile verifies the -config file exists.
func checkConfigFile(path string) Check {
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{Name: "config_file", Message: err.Error()}
	case fi.IsDir():
		return Check{Name: "config_file", Message: path + " is a directory"}
	default:
		return Check{Name: "config_file", Passed: true, Message: path}
	}
}

// checkExifTool verifies ExifTool runs and is recent enough.
func checkExifTool(ctx context.Context, path string, minVersion *process.Version) (Check, string) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	v, err := process.ProbeVersion(ctx, path)
	if err != nil {
		return Check{
			Name:    "exiftool",
			Message: fmt.Sprintf("not usable at %s: %v", path, err),
		}, ""
	}

	if minVersion != nil && !v.AtLeast(*minVersion) {
		return Check{
			Name:    "exiftool",
			Message: fmt.Sprintf("version %s at %s is older than %s", v, path, minVersion),
		}, v.Raw
	}

	return Check{
		Name:    "exiftool",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, v.Raw),
	}, v.Raw
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "config_file":
		return "fix the -exiftool-config path, or leave it empty"
	case "exiftool":
		return "install ExifTool 12.15 or newer (apt install libimage-exiftool-perl / brew install exiftool)"
	default:
		return "see documentation"
	}
}
