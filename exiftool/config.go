package exiftool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/parser"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/supervisor"
)

// DefaultCommonArgs enables group names in tag keys (-G) and disables print
// conversion (-n) so values come back machine-readable.
var DefaultCommonArgs = []string{"-G", "-n"}

// Config holds the options for one ExifTool instance.
type Config struct {
	// ID identifies the instance in logs and observer events.
	ID int

	// Executable is the ExifTool binary; a bare name is searched on PATH.
	Executable string

	// ConfigFile is passed as "-config FILE" at start. Empty uses ExifTool's
	// default configuration lookup.
	ConfigFile string

	// CommonArgs are prepended to every command. nil or empty sends none.
	CommonArgs []string

	// Encoding is a WHATWG label for the bytes exchanged with the process.
	// Empty means UTF-8.
	Encoding string

	// BlockSize is the pipe read size in bytes.
	BlockSize int

	// StopTimeout bounds a graceful Stop before the process is killed.
	StopTimeout time.Duration

	// CheckExecute makes Execute fail with *ExecuteError on a non-zero exit
	// status. When false, Execute returns whatever was printed. ExecuteJSON
	// always checks.
	CheckExecute bool

	// MinVersion is the oldest ExifTool accepted at Start ("12.15").
	// Empty skips the version check.
	MinVersion string

	// JSONDecoder decodes ExecuteJSON output. nil uses StdJSONDecoder.
	JSONDecoder JSONDecoder

	// Logger receives lifecycle and command logs. nil uses slog.Default().
	Logger *slog.Logger

	// Observer receives metrics events. nil disables them.
	Observer Observer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Executable:   process.DefaultExecutable(),
		CommonArgs:   append([]string(nil), DefaultCommonArgs...),
		Encoding:     DefaultEncoding,
		BlockSize:    parser.DefaultBlockSize,
		StopTimeout:  supervisor.DefaultStopTimeout,
		CheckExecute: true,
		MinVersion:   process.MinVersion.String(),
		JSONDecoder:  StdJSONDecoder{},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors.
// Returns nil if valid, or the joined ValidationErrors.
func (c Config) Validate() error {
	var errs []error

	if c.ConfigFile != "" {
		if fi, err := os.Stat(c.ConfigFile); err != nil {
			errs = append(errs, ValidationError{
				Field:   "config_file",
				Message: err.Error(),
			})
		} else if fi.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "config_file",
				Message: fmt.Sprintf("%s is a directory", c.ConfigFile),
			})
		}
	}

	for _, a := range c.CommonArgs {
		if a == "" || strings.ContainsAny(a, "\r\n") {
			errs = append(errs, ValidationError{
				Field:   "common_args",
				Message: fmt.Sprintf("%q cannot be sent as one argfile line", a),
			})
		}
	}

	if _, err := NewTextCodec(c.Encoding); err != nil {
		errs = append(errs, ValidationError{
			Field:   "encoding",
			Message: err.Error(),
		})
	}

	if c.BlockSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "block_size",
			Message: "must not be negative",
		})
	}

	if c.StopTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_timeout",
			Message: "must not be negative",
		})
	}

	if c.MinVersion != "" {
		if _, err := process.ParseVersion(c.MinVersion); err != nil {
			errs = append(errs, ValidationError{
				Field:   "min_version",
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
