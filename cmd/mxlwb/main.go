// Command mxlwb is a terminal workbench for an application server that
// streams generated output.
//
// Usage:
//
//	mxlwb [flags] [tui|run|chat|debug] [prompt...]
//
// Modes:
//
//	tui    full-screen workbench with params, output, console, chat and debug panes (default)
//	run    send one request and stream its primary output to stdout
//	chat   line-mode chat; lines starting with / are commands
//	debug  follow the diagnostic stream and print each finished request
//
// Flags:
//
//	    --config string                 Path to the configuration file
//	-u, --base-url string               Application server URL (default "http://localhost:8484/")
//	    --debug-url string              Diagnostic stream URL (default "http://localhost:8484/_mxldbg")
//	-p, --params string                 Request params, a JSON object (default "{\n}")
//	-f, --params-file string            Read params from a file, '-' for stdin
//	    --show-hidden                   Show hidden output (default true)
//	    --primary-stream string         Stream shown as the main output (default "0")
//	    --done-requires-primary-stream  Only end a reply on done frames of the primary stream
//	    --close-seqs-on-finish          Close a request's open seqs when it finishes
//	    --connect-timeout duration      Time limit for each connection attempt (default 10s)
//	    --connect-retries int           Extra connection attempts (default 2)
//	-n, --count int                     In debug mode, exit after this many finished requests
//	-v, --verbose                       Verbose output
//	    --debug                         Debug output
//	    --log-file string               Write logs to this file
//	-h, --help                          Display help information
//
// In run mode the positional arguments, if any, are joined and sent as the
// "prompt" field of the params.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tmc/mxlwb/interactive"
	"github.com/tmc/mxlwb/options"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/transport"
)

var modes = []string{options.ModeTUI, options.ModeRun, options.ModeChat, options.ModeDebug}

// errRequestFailed reports a run that ended in the error state. The error
// has already been printed.
var errRequestFailed = errors.New("request failed")

func main() {
	opts, fs, err := initFlags(os.Args, os.Stdin)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	err = run(context.Background(), opts, fs)
	switch {
	case err == nil:
	case errors.Is(err, interactive.ErrInterrupted):
		os.Exit(130)
	case errors.Is(err, errRequestFailed):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "mxlwb:", err)
		os.Exit(1)
	}
}

func initFlags(args []string, stdin io.Reader) (*options.RunOptions, *flag.FlagSet, error) {
	name := "mxlwb"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	opts := &options.RunOptions{Stdin: stdin, Stdout: os.Stdout, Stderr: os.Stderr}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SortFlags = false
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to the configuration file")
	fs.StringP("base-url", "u", options.DefaultBaseURL, "Application server URL")
	fs.String("debug-url", options.DefaultDebugURL, "Diagnostic stream URL")
	fs.StringP("params", "p", session.DefaultParams, "Request params, a JSON object")
	paramsFile := fs.StringP("params-file", "f", "", "Read params from a file, '-' for stdin")
	fs.Bool("show-hidden", true, "Show hidden output")
	fs.String("primary-stream", session.DefaultPrimaryStream, "Stream shown as the main output")
	fs.Bool("done-requires-primary-stream", false, "Only end a reply on done frames of the primary stream")
	fs.Bool("close-seqs-on-finish", false, "Close a request's open seqs when it finishes")
	fs.Duration("connect-timeout", 10*time.Second, "Time limit for each connection attempt")
	fs.Int("connect-retries", transport.DefaultRetryConfig.MaxAttempts-1, "Extra connection attempts")
	fs.IntVarP(&opts.DebugCount, "count", "n", 0, "In debug mode, exit after this many finished requests")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVar(&opts.DebugMode, "debug", false, "Debug output")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write logs to this file")
	help := fs.BoolP("help", "h", false, "Display help information")

	// hidden flags
	fs.BoolVar(&opts.ShowSpinner, "show-spinner", true, "Show a spinner while connecting in run mode")
	fs.StringVar(&opts.ReadlineHistoryFile, "readline-history-file", "~/.mxlwb_history", "File to store readline history in")
	fs.MarkHidden("show-spinner")
	fs.MarkHidden("readline-history-file")

	fs.Usage = func() { usage(opts.Stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *help {
		fs.Usage()
		return nil, nil, flag.ErrHelp
	}

	if *paramsFile != "" {
		text, err := readParamsFile(*paramsFile, stdin)
		if err != nil {
			return nil, nil, err
		}
		if err := fs.Set("params", text); err != nil {
			return nil, nil, err
		}
	}

	opts.Mode = options.ModeTUI
	if rest := fs.Args(); len(rest) > 0 {
		if !slices.Contains(modes, rest[0]) {
			return nil, nil, fmt.Errorf("unknown mode %q (want %s)", rest[0], strings.Join(modes, ", "))
		}
		opts.Mode, opts.PositionalArgs = rest[0], rest[1:]
	}
	return opts, fs, nil
}

func readParamsFile(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		if stdin == nil {
			return "", errors.New("no stdin to read params from")
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("error reading params from stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading params file: %w", err)
	}
	return string(b), nil
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "mxlwb is a terminal workbench for streaming application servers")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Usage: %s [flags] [tui|run|chat|debug] [prompt...]\n\n", fs.Name())
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w, `
Examples:
	$ mxlwb
	$ mxlwb run "explain plan 9 in one sentence"
	$ mxlwb -f params.json run
	$ mxlwb chat
	$ mxlwb debug -n 1`)
}

func run(ctx context.Context, opts *options.RunOptions, fs *flag.FlagSet) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	cfg, err := options.LoadConfig(opts.Stderr, fs)
	if err != nil {
		return err
	}
	opts.Config = cfg
	if !slices.Contains(modes, opts.Mode) {
		return fmt.Errorf("unknown mode %q (want %s)", opts.Mode, strings.Join(modes, ", "))
	}

	logger, closeLog, err := setupLogger(opts)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Debugw("starting", "mode", opts.Mode, "baseURL", cfg.BaseURL, "debugURL", cfg.DebugURL)

	switch opts.Mode {
	case options.ModeRun:
		return runRequest(ctx, opts, logger)
	case options.ModeChat:
		return runChat(ctx, opts, logger)
	case options.ModeDebug:
		return runDebug(ctx, opts, logger)
	default:
		return runTUI(ctx, opts, logger)
	}
}
