package parser

import (
	"bytes"
	"strings"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/types"
)

// JSONArg is appended to JSON-mode commands.
const JSONArg = "-json"

// Request is one command to be framed for a process running with -stay_open.
type Request struct {
	// CommonArgs are prepended to Args.
	CommonArgs []string

	// Args are the caller's arguments. Must not be empty.
	Args []string

	// JSON appends -json after Args.
	JSON bool

	// Sentinel delimits this command's response.
	Sentinel Sentinel
}

// Frame serializes a request into the -@ argfile format: one argument per
// line, followed by the status echo and the numbered -execute terminator.
//
//	<common args...>
//	<args...>
//	[-json]
//	-echo4
//	=${status}=post<N>
//	-execute<N>
func Frame(req Request) ([]byte, error) {
	if len(req.Args) == 0 {
		return nil, &types.InvalidArgumentsError{Args: req.Args, Reason: "no arguments given"}
	}
	if req.Sentinel == "" {
		return nil, &types.InvalidArgumentsError{Args: req.Args, Reason: "missing sentinel"}
	}
	if err := validateArgs(req.Args, req.CommonArgs); err != nil {
		return nil, err
	}
	if err := validateArgs(req.Args, req.Args); err != nil {
		return nil, err
	}

	var b bytes.Buffer
	for _, a := range req.CommonArgs {
		writeLine(&b, a)
	}
	for _, a := range req.Args {
		writeLine(&b, a)
	}
	if req.JSON {
		writeLine(&b, JSONArg)
	}
	writeLine(&b, "-echo4")
	writeLine(&b, req.Sentinel.StatusEcho())
	writeLine(&b, req.Sentinel.ExecuteArg())

	return b.Bytes(), nil
}

// validateArgs rejects arguments the line-per-argument format cannot carry.
// callerArgs is only used for error context.
func validateArgs(callerArgs, args []string) error {
	for _, a := range args {
		switch {
		case a == "":
			return &types.InvalidArgumentsError{Args: callerArgs, Reason: "empty argument"}
		case strings.ContainsAny(a, "\r\n"):
			return &types.InvalidArgumentsError{Args: callerArgs, Reason: "argument contains a line break: " + quote(a)}
		case isExecuteArg(a):
			return &types.InvalidArgumentsError{Args: callerArgs, Reason: "argument would terminate the command early: " + quote(a)}
		}
	}
	return nil
}

// isExecuteArg reports whether a is an -execute terminator, which would
// split the command and desynchronize the sentinel.
func isExecuteArg(a string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	if !strings.HasPrefix(a, "-execute") {
		return false
	}
	for _, r := range a[len("-execute"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func writeLine(b *bytes.Buffer, s string) {
	b.WriteString(s)
	b.WriteByte('\n')
}

func quote(s string) string {
	const max = 40
	if len(s) > max {
		s = s[:max] + "..."
	}
	return "\"" + strings.NewReplacer("\n", `\n`, "\r", `\r`).Replace(s) + "\""
}
