// HomeIQ assembles bounded, fresh prompt context for an LLM agent
// driving a Home Assistant installation.
//
// It resolves each utterance to the entities it is about, composes the
// static device inventory with live state and recent activity, and
// truncates conversation history to a token budget. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	homeiq assemble <utterance>  Assemble a prompt for one utterance
//	homeiq fragments             Render every static context fragment
//	homeiq watch                 Run the live feeds and log the event stream
//	homeiq init [dir]            Initialize a working directory with defaults
//	homeiq version               Print version and build information
//	homeiq -o json assemble ...  Output as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wtthornton/HomeIQ-sub000/internal/buildinfo"
	"github.com/wtthornton/HomeIQ-sub000/internal/config"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the homeiq command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the watch feeds.
//   - stdout and stderr receive all program output. Command output goes
//     to stdout; structured logs from one-shot commands go to stderr so
//     that piped output stays parseable.
//   - args is os.Args[1:], the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// A .env in the working directory feeds ${VAR} expansion in the
	// config file. A missing .env is the normal case.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args (including flags) as
				// subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "assemble":
		return runAssemble(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "fragments":
		return runFragments(ctx, stdout, stderr, configPath, outputFmt)
	case "watch":
		return runWatch(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// homeiq is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "HomeIQ - Context assembly for a Home Assistant LLM agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: homeiq [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  assemble <utterance>  Assemble a prompt for one utterance")
	fmt.Fprintln(w, "  fragments             Render every static context fragment")
	fmt.Fprintln(w, "  watch                 Run the live feeds and log the event stream")
	fmt.Fprintln(w, "  init [dir]            Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version               Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Assemble flags:")
	fmt.Fprintln(w, "  -conv <id>        Conversation id (default: \"default\")")
	fmt.Fprintln(w, "  -force            Bypass the composed-context refresh window")
	fmt.Fprintln(w, "  -hint <note>      Operator steering note (repeatable)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/homeiq/config.yaml, /etc/homeiq/config.yaml")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output in homeiq goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates, parses, and validates the YAML configuration
// file. If explicit is non-empty, that exact path is used (and must
// exist). Otherwise, [config.FindConfig] searches the default
// locations. Returns the parsed config, the path that was loaded, and
// any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// logLevel returns the configured slog level. The value is already
// validated by [config.Config.Validate], so the error path here is
// unreachable in practice.
func logLevel(cfg *config.Config) slog.Level {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return level
}
