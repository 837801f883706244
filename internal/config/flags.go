package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// stringList is a repeatable string flag. The first use on the command line
// replaces values loaded from the config file; later uses append.
type stringList struct {
	values *[]string
	set    bool
}

func (s *stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, " ")
}

func (s *stringList) Set(value string) error {
	if !s.set {
		*s.values = nil
		s.set = true
	}
	*s.values = append(*s.values, value)
	return nil
}

// flagGroups orders the usage text.
var flagGroups = []struct {
	title string
	names []string
}{
	{"Pool", []string{"instances", "start-jitter", "file-timeout", "files-from"}},
	{"ExifTool", []string{"exiftool", "exiftool-config", "common-arg", "no-common-args", "arg", "encoding", "block-size", "stop-timeout", "min-version"}},
	{"Restart Policy", []string{"max-restarts", "backoff-initial", "backoff-max", "backoff-multiply"}},
	{"Safety & Diagnostics", []string{"config", "version", "print-cmd", "check", "skip-preflight"}},
	{"Observability", []string{"metrics", "metrics-file", "prom-instance-metrics", "v", "log-format", "log-level", "summary", "summary-instances", "tui"}},
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return Parse(os.Args[1:], os.Stderr)
}

// Parse parses args into a Config. A -config file is loaded first so that
// command-line flags override it. Usage and flag errors go to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	if path := findConfigFlag(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet("exiftool-batch", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { printUsage(fs, output) }

	var configFile string
	var noCommonArgs bool

	// Pool
	fs.IntVar(&cfg.Instances, "instances", cfg.Instances, "Number of ExifTool processes")
	fs.DurationVar(&cfg.StartJitter, "start-jitter", cfg.StartJitter, "Spread process starts over this window")
	fs.DurationVar(&cfg.FileTimeout, "file-timeout", cfg.FileTimeout, "Per-file timeout (0 = none)")
	fs.StringVar(&cfg.FilesFrom, "files-from", cfg.FilesFrom, `Read file names from this file, one per line ("-" = stdin)`)

	// ExifTool
	fs.StringVar(&cfg.ExifToolPath, "exiftool", cfg.ExifToolPath, "Path to the ExifTool binary")
	fs.StringVar(&cfg.ExifToolConfig, "exiftool-config", cfg.ExifToolConfig, "ExifTool config file passed with -config")
	fs.Var(&stringList{values: &cfg.CommonArgs}, "common-arg", "Argument sent with every command (can repeat)")
	fs.BoolVar(&noCommonArgs, "no-common-args", false, "Send no common arguments")
	fs.Var(&stringList{values: &cfg.Args}, "arg", "Argument sent before each file (can repeat)")
	fs.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "Text encoding of ExifTool input and output")
	fs.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Pipe read size in bytes")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Graceful stop timeout before kill")
	fs.StringVar(&cfg.MinVersion, "min-version", cfg.MinVersion, `Oldest accepted ExifTool version ("" = no check)`)

	// Restart policy
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Restarts per instance after a crash (0 = unlimited)")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "First restart delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum restart delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Restart delay growth per attempt")

	// Safety & Diagnostics
	fs.StringVar(&configFile, "config", cfg.ConfigFile, "YAML config file (flags override it)")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print versions and exit")
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the ExifTool command line and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Run preflight checks and one instance, then exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address, e.g. "127.0.0.1:17092" ("" = disabled)`)
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write final metrics here at exit, in the textfile collector format")
	fs.BoolVar(&cfg.PromInstanceMetrics, "prom-instance-metrics", cfg.PromInstanceMetrics, "Enable per-instance Prometheus metrics")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.Summary, "summary", cfg.Summary, "Print an exit summary on stderr")
	fs.BoolVar(&cfg.SummaryInstances, "summary-instances", cfg.SummaryInstances, "Add a per-instance table to the exit summary")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live dashboard on stderr (logs are suppressed while it runs)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if noCommonArgs {
		cfg.CommonArgs = nil
	}
	cfg.Files = append(cfg.Files, fs.Args()...)

	return cfg, nil
}

// findConfigFlag returns the value of -config in args without parsing the
// rest, or "" when it is absent.
func findConfigFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// LoadFile overlays the YAML file at path onto cfg. Unknown keys are errors.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ReadFileList reads newline-separated file names from r. Blank lines and
// lines starting with "#" are skipped.
func ReadFileList(r io.Reader) ([]string, error) {
	var files []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read file list: %w", err)
	}
	return files, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `exiftool-batch - read metadata from many files through stay-open ExifTool processes

Usage:
  exiftool-batch [flags] FILE...
`)
	for _, g := range flagGroups {
		fmt.Fprintf(w, "\n%s:\n", g.title)
		printFlagCategory(fs, w, g.names)
	}
	fmt.Fprintf(w, `
Output:
  One JSON object per file on stdout, in input order. Logs and the exit
  summary go to stderr.

Examples:
  # Read all JPEGs with 8 processes
  exiftool-batch -instances 8 photos/*.jpg

  # Composite tags only, names from a list
  find photos -type f | exiftool-batch -files-from - -arg -Composite:all

  # Serve Prometheus metrics while running
  exiftool-batch -metrics 127.0.0.1:17092 -files-from list.txt

`)
}

// printFlagCategory prints flags matching the given names, in that order.
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	if _, ok := f.Value.(*stringList); ok {
		return "value"
	}
	getter, ok := f.Value.(flag.Getter)
	if !ok {
		return "value"
	}
	switch getter.Get().(type) {
	case bool:
		return ""
	case int:
		return "int"
	case float64:
		return "float"
	case time.Duration:
		return "duration"
	default:
		return "string"
	}
}
