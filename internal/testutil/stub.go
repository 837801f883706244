// Package testutil provides a stand-in ExifTool for tests.
//
// Test binaries re-exec themselves as the stub: a package's TestMain calls
// MaybeRunStub first, and tests point the executable at the test binary with
// StubExecutable. The stub speaks the -stay_open protocol over stdin and
// understands a handful of control arguments:
//
//	-ver                   print the version (EXIFTOOL_STUB_VERSION, default 12.76)
//	-json                  print records as a JSON array
//	-TAG=VALUE             write mode: no output
//	-stub-stdout=TEXT      print TEXT and a newline on stdout
//	-stub-stdout64=B64     print base64-decoded bytes on stdout
//	-stub-stderr=TEXT      print TEXT and a newline on stderr
//	-stub-status=N         force the exit status
//	-stub-sleep=DURATION   sleep before answering
//	-stub-crash            print partial output and exit without a sentinel
//	-stub-echo-args        print every received argument, one per line
//
// Non-option arguments are files. rose.jpg is a built-in fixture; any other
// file that exists on disk reports its size; anything else is "not found".
package testutil

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	// EnvStub turns a test binary into the stub when set to "1".
	EnvStub = "EXIFTOOL_STUB"

	// EnvVersion overrides the version the stub reports.
	EnvVersion = "EXIFTOOL_STUB_VERSION"

	// EnvStartupExit makes the stub exit with the given code before reading
	// any command.
	EnvStartupExit = "EXIFTOOL_STUB_STARTUP_EXIT"

	// DefaultVersion is reported when EnvVersion is unset.
	DefaultVersion = "12.76"
)

// RoseJSON is the stub's output for "-json rose.jpg".
const RoseJSON = `[{"SourceFile":"rose.jpg","File:FileSize":4949}]`

var executeRe = regexp.MustCompile(`^-execute(\d*)$`)

var fixtures = map[string]int64{
	"rose.jpg": 4949,
}

// MaybeRunStub runs the stub and exits the process if EnvStub is set.
// Call it first thing in TestMain.
func MaybeRunStub() {
	if os.Getenv(EnvStub) != "1" {
		return
	}
	os.Exit(RunStub(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// StubExecutable arranges for child processes of this test to act as the
// stub and returns the path to execute.
func StubExecutable(t testing.TB) string {
	t.Helper()
	t.Setenv(EnvStub, "1")
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return exe
}

// RunStub runs the stub against the given streams and returns its exit code.
func RunStub(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	s := &stub{
		version: os.Getenv(EnvVersion),
		stdout:  stdout,
		stderr:  stderr,
	}
	if s.version == "" {
		s.version = DefaultVersion
	}

	if code := os.Getenv(EnvStartupExit); code != "" {
		n, _ := strconv.Atoi(code)
		fmt.Fprintln(stderr, "stub: exiting at startup")
		return n
	}

	if len(argv) == 1 && argv[0] == "-ver" {
		fmt.Fprintln(stdout, s.version)
		return 0
	}

	stayOpen := false
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "-config":
			i++
			if i >= len(argv) {
				fmt.Fprintln(stderr, "stub: -config needs a file")
				return 2
			}
			if _, err := os.Stat(argv[i]); err != nil {
				fmt.Fprintf(stderr, "Config file not found: %s\n", argv[i])
				return 2
			}
		case "-stay_open":
			i++
			stayOpen = i < len(argv) && strings.EqualFold(argv[i], "true")
		case "-@":
			i++
		}
	}
	if !stayOpen {
		fmt.Fprintln(stderr, "stub: only -stay_open mode is supported")
		return 2
	}

	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var pending []string
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if m := executeRe.FindStringSubmatch(line); m != nil {
			if code, exit := s.run(pending, m[1]); exit {
				return code
			}
			pending = nil
			continue
		}
		pending = append(pending, line)
		if n := len(pending); n >= 2 && pending[n-2] == "-stay_open" && strings.EqualFold(pending[n-1], "false") {
			return 0
		}
	}
	return 0
}

type stub struct {
	version string
	stdout  io.Writer
	stderr  io.Writer
}

// run executes one command. It returns exit=true when the stub should
// terminate with code.
func (s *stub) run(args []string, n string) (code int, exit bool) {
	var (
		out, errOut bytes.Buffer
		echoes      []string
		received    []string
		files       []string
		jsonOut     bool
		write       bool
		echoArgs    bool
		forced      = -1
		status      = 0
	)

	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-echo4" {
			if i+1 < len(args) {
				echoes = append(echoes, args[i+1])
				i++
			}
			continue
		}
		received = append(received, a)

		switch {
		case a == "-ver":
			out.WriteString(s.version + "\n")
		case a == "-json" || a == "-j" || a == "-J":
			jsonOut = true
		case a == "-stub-crash":
			io.WriteString(s.stdout, "partial")
			io.WriteString(s.stderr, "stub: crashing\n")
			return 3, true
		case a == "-stub-echo-args":
			echoArgs = true
		case strings.HasPrefix(a, "-stub-sleep="):
			if d, err := time.ParseDuration(strings.TrimPrefix(a, "-stub-sleep=")); err == nil {
				time.Sleep(d)
			}
		case strings.HasPrefix(a, "-stub-stdout="):
			out.WriteString(strings.TrimPrefix(a, "-stub-stdout=") + "\n")
		case strings.HasPrefix(a, "-stub-stdout64="):
			if b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(a, "-stub-stdout64=")); err == nil {
				out.Write(b)
			}
		case strings.HasPrefix(a, "-stub-stderr="):
			errOut.WriteString(strings.TrimPrefix(a, "-stub-stderr=") + "\n")
		case strings.HasPrefix(a, "-stub-status="):
			forced, _ = strconv.Atoi(strings.TrimPrefix(a, "-stub-status="))
		case strings.HasPrefix(a, "-"):
			if strings.Contains(a, "=") {
				write = true
			}
		default:
			files = append(files, a)
		}
	}

	if echoArgs {
		for _, a := range received {
			out.WriteString(a + "\n")
		}
	}

	if !write && len(files) > 0 {
		var records []string
		for _, f := range files {
			size, ok := lookup(f)
			if !ok {
				fmt.Fprintf(&errOut, "Error: File not found - %s\n", f)
				status = 1
				continue
			}
			if jsonOut {
				name, _ := json.Marshal(f)
				records = append(records, fmt.Sprintf(`{"SourceFile":%s,"File:FileSize":%d}`, name, size))
				continue
			}
			if len(files) > 1 {
				fmt.Fprintf(&out, "======== %s\n", f)
			}
			fmt.Fprintf(&out, "[File] File Size : %d\n", size)
		}
		if jsonOut && len(records) > 0 {
			out.WriteString("[" + strings.Join(records, ",") + "]\n")
		}
	}

	if forced >= 0 {
		status = forced
	}

	for _, e := range echoes {
		errOut.WriteString(strings.ReplaceAll(e, "${status}", s.statusText(status)) + "\n")
	}
	out.WriteString("{ready" + n + "}\n")

	s.stderr.Write(errOut.Bytes())
	s.stdout.Write(out.Bytes())
	return 0, false
}

// statusText mimics ExifTool before 12.10, which did not substitute
// ${status}.
func (s *stub) statusText(status int) string {
	if v, err := strconv.ParseFloat(s.version, 64); err == nil && v < 12.10 {
		return "${status}"
	}
	return strconv.Itoa(status)
}

func lookup(file string) (int64, bool) {
	if size, ok := fixtures[file]; ok {
		return size, true
	}
	fi, err := os.Stat(file)
	if err != nil || fi.IsDir() {
		return 0, false
	}
	return fi.Size(), true
}
