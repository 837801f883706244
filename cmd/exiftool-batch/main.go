// Package main provides the exiftool-batch CLI entry point.
//
// exiftool-batch reads metadata from many files through a pool of
// stay-open ExifTool processes and prints one JSON object per file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/config"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/logging"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/orchestrator"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/exiftool-batch
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitFilesFailed = 1
	exitError       = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return exitError
	}

	if cfg.ShowVersion {
		printVersion(cfg)
		return exitOK
	}

	// The dashboard owns stderr; logs would tear its rendering.
	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	if cfg.TUIEnabled && !cfg.Check && !cfg.PrintCmd {
		logger = logging.Discard()
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitError
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
	}

	orch := orchestrator.New(cfg, logger, orchestrator.StdStreams())

	if cfg.PrintCmd {
		fmt.Println("# ExifTool command run by each instance:")
		fmt.Println(orch.CommandString())
		return exitOK
	}

	if cfg.Check {
		logger.Info("check_mode_enabled", "exiftool", cfg.ExifToolPath)
		if err := orch.Check(context.Background()); err != nil {
			logger.Error("check_failed", "error", err)
			return exitError
		}
		return exitOK
	}

	logger.Info("starting",
		"version", version,
		"instances", cfg.Instances,
		"exiftool", cfg.ExifToolPath,
		"common_args", cfg.CommonArgs,
		"metrics_addr", cfg.MetricsAddr,
		"config_file", cfg.ConfigFile,
	)

	err = orch.Run(context.Background())
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, orchestrator.ErrFilesFailed):
		return exitFilesFailed
	default:
		logger.Error("orchestrator_failed", "error", err)
		return exitError
	}
}

// printVersion prints this program's version and, when it can be found,
// the ExifTool version.
func printVersion(cfg *config.Config) {
	fmt.Printf("exiftool-batch %s\n", version)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := process.ProbeVersion(ctx, cfg.ExifToolPath)
	if err != nil {
		fmt.Printf("exiftool %s: not available (%v)\n", cfg.ExifToolPath, err)
		return
	}
	fmt.Printf("exiftool %s\n", v)
}
