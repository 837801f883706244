package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Files are required unless only printing or checking
	if len(cfg.Files) == 0 && cfg.FilesFrom == "" && !cfg.PrintCmd && !cfg.Check {
		errs = append(errs, ValidationError{
			Field:   "files",
			Message: "at least one file (or -files-from) is required",
		})
	}

	if cfg.Instances < 1 {
		errs = append(errs, ValidationError{
			Field:   "instances",
			Message: "must be at least 1",
		})
	}

	if cfg.StartJitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "start_jitter",
			Message: "must not be negative",
		})
	}

	if cfg.FileTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "file_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.ExifToolPath == "" {
		errs = append(errs, ValidationError{
			Field:   "exiftool",
			Message: "must not be empty",
		})
	}

	// ExifTool library options are checked by exiftool.Config
	if err := cfg.ExifTool(0).Validate(); err != nil {
		errs = append(errs, err)
	}

	for _, a := range cfg.Args {
		if a == "" || strings.ContainsAny(a, "\r\n") {
			errs = append(errs, ValidationError{
				Field:   "args",
				Message: fmt.Sprintf("%q cannot be sent as one argfile line", a),
			})
		}
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	// Restart policy
	if cfg.MaxRestarts < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_restarts",
			Message: "must not be negative",
		})
	}
	if cfg.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_initial",
			Message: "must be positive",
		})
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		errs = append(errs, ValidationError{
			Field:   "backoff_max",
			Message: "must be >= backoff_initial",
		})
	}
	if cfg.BackoffMultiply < 1.0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_multiply",
			Message: "must be >= 1.0",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
