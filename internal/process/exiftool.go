package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// DefaultExecutable returns the executable name searched for on PATH.
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return "exiftool.exe"
	}
	return "exiftool"
}

// ExifToolConfig holds configuration for the stay-open ExifTool process.
type ExifToolConfig struct {
	// BinaryPath is the executable, resolved through PATH when it has no
	// directory component.
	BinaryPath string

	// ConfigFile is passed as "-config FILE" ahead of all other arguments.
	// Empty means ExifTool's default lookup of ~/.ExifTool_config.
	ConfigFile string
}

// ExifToolRunner implements Runner for ExifTool in -stay_open mode.
type ExifToolRunner struct {
	config *ExifToolConfig
}

// NewExifToolRunner creates a new runner with the given configuration.
func NewExifToolRunner(cfg *ExifToolConfig) *ExifToolRunner {
	return &ExifToolRunner{
		config: cfg,
	}
}

// Name returns "exiftool".
func (r *ExifToolRunner) Name() string {
	return "exiftool"
}

// BuildCommand resolves the executable and creates the exec.Cmd.
//
// The command is deliberately not bound to a context: the process outlives
// the call that started it and is stopped through the supervisor.
func (r *ExifToolRunner) BuildCommand() (*exec.Cmd, error) {
	path, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	if err := r.checkConfigFile(); err != nil {
		return nil, err
	}
	return exec.Command(path, r.buildArgs()...), nil
}

// Resolve returns the absolute path of the executable.
func (r *ExifToolRunner) Resolve() (string, error) {
	bin := r.config.BinaryPath
	if bin == "" {
		bin = DefaultExecutable()
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (r *ExifToolRunner) checkConfigFile() error {
	if r.config.ConfigFile == "" {
		return nil
	}
	fi, err := os.Stat(r.config.ConfigFile)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if fi.IsDir() {
		return errors.New("config file: " + r.config.ConfigFile + " is a directory")
	}
	return nil
}

// buildArgs constructs the startup arguments. -config must come first:
// ExifTool only honors it as the very first option.
func (r *ExifToolRunner) buildArgs() []string {
	var args []string
	if r.config.ConfigFile != "" {
		args = append(args, "-config", r.config.ConfigFile)
	}
	// Read argfile "-" (stdin) until "-stay_open False".
	return append(args, "-stay_open", "True", "-@", "-")
}

// CommandString returns the command that would be executed (for debugging).
func (r *ExifToolRunner) CommandString() string {
	bin := r.config.BinaryPath
	if bin == "" {
		bin = DefaultExecutable()
	}
	return bin + " " + strings.Join(r.buildArgs(), " ")
}
