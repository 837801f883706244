// Package config provides configuration management for exiftool-batch.
package config

import (
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/parser"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/supervisor"
)

// Config holds all configuration options for exiftool-batch.
// The yaml tags name the keys accepted in a -config file.
type Config struct {
	// Pool
	Instances   int           `yaml:"instances"`
	StartJitter time.Duration `yaml:"start_jitter"`
	FileTimeout time.Duration `yaml:"file_timeout"` // 0 = none

	// Input
	Files     []string `yaml:"files"`
	FilesFrom string   `yaml:"files_from"` // "-" reads stdin

	// ExifTool
	ExifToolPath   string        `yaml:"exiftool"`
	ExifToolConfig string        `yaml:"exiftool_config"`
	CommonArgs     []string      `yaml:"common_args"`
	Args           []string      `yaml:"args"`
	Encoding       string        `yaml:"encoding"`
	BlockSize      int           `yaml:"block_size"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	MinVersion     string        `yaml:"min_version"` // "" = no check

	// Observability
	MetricsAddr         string `yaml:"metrics_addr"` // "" = disabled
	MetricsFile         string `yaml:"metrics_file"` // textfile collector output, "" = disabled
	PromInstanceMetrics bool   `yaml:"prom_instance_metrics"`
	Verbose             bool   `yaml:"verbose"`
	LogFormat           string `yaml:"log_format"` // json, text
	LogLevel            string `yaml:"log_level"`
	Summary             bool   `yaml:"summary"`
	SummaryInstances    bool   `yaml:"summary_instances"`
	TUIEnabled          bool   `yaml:"tui"` // live dashboard on stderr; suppresses logs

	// Diagnostic modes
	ShowVersion   bool `yaml:"-"`
	PrintCmd      bool `yaml:"-"`
	Check         bool `yaml:"-"`
	SkipPreflight bool `yaml:"skip_preflight"`

	// Restart policy
	MaxRestarts     int           `yaml:"max_restarts"` // 0 = unlimited
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BackoffMultiply float64       `yaml:"backoff_multiply"`

	// ConfigFile is the YAML file the values above were loaded from.
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	backoff := supervisor.DefaultBackoffConfig()
	return &Config{
		// Pool
		Instances:   4,
		StartJitter: 250 * time.Millisecond,

		// ExifTool
		ExifToolPath: process.DefaultExecutable(),
		CommonArgs:   append([]string(nil), exiftool.DefaultCommonArgs...),
		Encoding:     exiftool.DefaultEncoding,
		BlockSize:    parser.DefaultBlockSize,
		StopTimeout:  supervisor.DefaultStopTimeout,
		MinVersion:   process.MinVersion.String(),

		// Observability
		LogFormat: "json",
		LogLevel:  "info",
		Summary:   true,

		// Restart policy
		MaxRestarts:     5,
		BackoffInitial:  backoff.Initial,
		BackoffMax:      backoff.Max,
		BackoffMultiply: backoff.Multiplier,
	}
}

// ExifTool returns the library configuration for instance id.
func (c *Config) ExifTool(id int) exiftool.Config {
	cfg := exiftool.DefaultConfig()
	cfg.ID = id
	cfg.Executable = c.ExifToolPath
	cfg.ConfigFile = c.ExifToolConfig
	cfg.CommonArgs = append([]string(nil), c.CommonArgs...)
	cfg.Encoding = c.Encoding
	cfg.BlockSize = c.BlockSize
	cfg.StopTimeout = c.StopTimeout
	cfg.MinVersion = c.MinVersion
	return cfg
}

// Backoff returns the restart backoff for pool workers.
func (c *Config) Backoff() supervisor.BackoffConfig {
	b := supervisor.DefaultBackoffConfig()
	b.Initial = c.BackoffInitial
	b.Max = c.BackoffMax
	b.Multiplier = c.BackoffMultiply
	return b
}

// ApplyCheckMode modifies config for -check mode: one instance, verbose,
// no dashboard.
func ApplyCheckMode(cfg *Config) {
	cfg.Instances = 1
	cfg.Verbose = true
	cfg.TUIEnabled = false
}
