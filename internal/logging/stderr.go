package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent stderr lines kept per instance.
	MaxBufferedLines = 100
)

// StderrHandler handles the stderr text ExifTool produced for each command.
// It logs warnings and errors, and keeps recent lines for the exit summary.
type StderrHandler struct {
	id      int
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewStderrHandler creates a new stderr handler for an instance.
func NewStderrHandler(id int, logger *slog.Logger, verbose bool) *StderrHandler {
	return &StderrHandler{
		id:      id,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleOutput processes the stderr of one command. args identifies the
// command in the log record.
func (h *StderrHandler) HandleOutput(text string, args []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		h.handleLine(line, args)
	}
}

// HandleLine processes a single line of stderr output.
func (h *StderrHandler) HandleLine(line string) {
	h.handleLine(line, nil)
}

func (h *StderrHandler) handleLine(line string, args []string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	level := classifyLine(line)
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	attrs := []any{"id", h.id, "line", line}
	if args != nil {
		attrs = append(attrs, "args", args)
	}
	h.logger.Log(context.Background(), level, "exiftool_stderr", attrs...)
}

// classifyLine determines the log level for a line. ExifTool prefixes
// per-file problems with "Error:" or "Warning:".
func classifyLine(line string) slog.Level {
	switch {
	case strings.HasPrefix(line, "Error:"),
		strings.HasPrefix(line, "Warning:"),
		strings.Contains(line, "Nothing to do"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// ErrorPatterns are the ExifTool messages counted for the exit summary.
var ErrorPatterns = []string{
	"File not found",
	"Error:",
	"Warning:",
	"Nothing to do",
	"File format error",
	"Unknown file type",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *StderrHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
