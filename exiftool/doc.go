// Package exiftool runs ExifTool in -stay_open batch mode.
//
// One ExifTool value owns one long-running exiftool process. Commands are
// written to its stdin as argfile lines and each response is cut out of
// stdout and stderr using a numbered sentinel, so the process is reused
// across calls instead of being spawned per file.
//
//	et, err := exiftool.New(exiftool.DefaultConfig())
//	if err != nil { ... }
//	if err := et.Start(ctx); err != nil { ... }
//	defer et.Stop(true)
//
//	records, err := et.ExecuteJSON(ctx, "-FileSize", "rose.jpg")
//
// Every call reports failure through typed errors: *ExecuteError for a
// non-zero exit status, *OutputEmptyError and *JSONInvalidError for JSON
// calls, *ProcessTerminatedError when the process died mid-command, and
// ErrNotRunning / ErrAlreadyRunning for state preconditions. Nothing is
// retried and a dead process is not restarted; see internal/orchestrator for
// a pool that applies a restart policy on top.
package exiftool
