package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/tmc/spinner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tmc/mxlwb"
	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/interactive"
	"github.com/tmc/mxlwb/options"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/transport"
	"github.com/tmc/mxlwb/ui/debug"
)

func newClient(cfg *options.Config, logger *zap.SugaredLogger) *transport.Client {
	return transport.NewClient(
		transport.WithHTTPClient(cfg.HTTPClient()),
		transport.WithRetry(cfg.RetryConfig()),
		transport.WithLogger(logger),
	)
}

func newWorkbench(cfg *options.Config, logger *zap.SugaredLogger) *mxlwb.Workbench {
	return mxlwb.NewWorkbench(cfg.BaseURL,
		mxlwb.WithLogger(logger),
		mxlwb.WithClient(newClient(cfg, logger)),
		mxlwb.WithSessionOptions(cfg.SessionOptions()),
	)
}

func newMonitor(cfg *options.Config, logger *zap.SugaredLogger) *mxlwb.DebugMonitor {
	return mxlwb.NewDebugMonitor(cfg.DebugURL,
		mxlwb.WithLogger(logger),
		mxlwb.WithClient(newClient(cfg, logger)),
		mxlwb.WithPolicy(cfg.Policy()),
	)
}

// serve runs each loop until the returned function is called, which stops
// them and waits for them to return.
func serve(ctx context.Context, loops ...func(context.Context) error) func() error {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error { return loop(ctx) })
	}
	return func() error {
		cancel()
		return g.Wait()
	}
}

func runTUI(ctx context.Context, opts *options.RunOptions, logger *zap.SugaredLogger) error {
	cfg := opts.Config
	w := newWorkbench(cfg, logger)
	mon := newMonitor(cfg, logger)
	stop := serve(ctx, w.Run, mon.Run)
	defer stop()

	if err := w.SetParams(ctx, cfg.Params); err != nil {
		return err
	}
	tui, err := interactive.NewWorkbench(interactive.WorkbenchConfig{
		Controller: w,
		Monitor:    mon,
		ShowHidden: cfg.ShowHidden,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return tui.Run(ctx)
}

// promptParams sets the "prompt" field of params to the joined args.
func promptParams(params string, args []string) (string, error) {
	if len(args) == 0 {
		return params, nil
	}
	fields, err := session.ParseParams(params)
	if err != nil {
		return "", err
	}
	prompt, err := json.Marshal(strings.Join(args, " "))
	if err != nil {
		return "", err
	}
	fields["prompt"] = prompt
	b, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func runRequest(ctx context.Context, opts *options.RunOptions, logger *zap.SugaredLogger) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg := opts.Config
	params, err := promptParams(cfg.Params, opts.PositionalArgs)
	if err != nil {
		return err
	}
	w := newWorkbench(cfg, logger)
	stop := serve(ctx, w.Run)
	defer stop()

	states, unsubscribe := w.Subscribe()
	defer unsubscribe()
	if err := w.SetParams(ctx, params); err != nil {
		return err
	}

	stopSpinner := func() {}
	if opts.ShowSpinner && isTerminal(opts.Stderr) {
		stopSpinner = spin(opts.Stderr)
	}
	var once sync.Once
	halt := func() { once.Do(stopSpinner) }
	defer halt()

	id, err := w.SendRequest(ctx)
	if err != nil {
		return err
	}
	p := &interactive.Printer{
		Out:        haltingWriter{opts.Stdout, halt},
		Err:        haltingWriter{opts.Stderr, halt},
		Stream:     cfg.PrimaryStream,
		ShowHidden: cfg.ShowHidden,
		Console:    opts.Verbose,
	}
	last, err := interactive.Follow(ctx, states, id, p)
	halt()
	if ctx.Err() != nil {
		fmt.Fprintln(opts.Stdout)
		return interactive.ErrInterrupted
	}
	if err != nil {
		return err
	}
	if r := last.Response(); r != nil && r.PartCount() > 0 {
		fmt.Fprintln(opts.Stdout)
	}
	if last.RunState == session.Error {
		return errRequestFailed
	}
	return nil
}

// haltingWriter runs halt before each write.
type haltingWriter struct {
	w    io.Writer
	halt func()
}

func (h haltingWriter) Write(p []byte) (int, error) {
	h.halt()
	return h.w.Write(p)
}

func spin(out io.Writer) func() {
	s := spinner.New(
		spinner.WithFrames(spinner.Dots8),
		spinner.WithWriter(out),
		spinner.WithIntervalFunc(
			spinner.SpeedupInterval(90*time.Millisecond, 40*time.Millisecond, time.Second*5),
		),
		spinner.WithColorFunc(spinner.GreyPulse(15*time.Millisecond)),
	)
	s.Start()
	return s.Stop
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runChat(ctx context.Context, opts *options.RunOptions, logger *zap.SugaredLogger) error {
	cfg := opts.Config
	w := newWorkbench(cfg, logger)
	stop := serve(ctx, w.Run)
	defer stop()

	if err := w.SetParams(ctx, cfg.Params); err != nil {
		return err
	}
	rc := interactive.REPLConfig{
		Controller:  w,
		HistoryFile: opts.ReadlineHistoryFile,
		ShowHidden:  cfg.ShowHidden,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
		Logger:      logger,
	}
	// readline reads the terminal itself unless given another reader.
	if f, ok := opts.Stdin.(*os.File); !ok || f != os.Stdin {
		if r, ok := opts.Stdin.(io.ReadCloser); ok {
			rc.Stdin = r
		} else if opts.Stdin != nil {
			rc.Stdin = io.NopCloser(opts.Stdin)
		}
	}
	repl, err := interactive.NewREPL(rc)
	if err != nil {
		return err
	}
	return repl.Run(ctx)
}

func runDebug(ctx context.Context, opts *options.RunOptions, logger *zap.SugaredLogger) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg := opts.Config
	mon := newMonitor(cfg, logger)
	stop := serve(ctx, mon.Run)
	defer stop()

	states, unsubscribe := mon.Subscribe()
	defer unsubscribe()
	if err := mon.Connect(ctx); err != nil {
		return err
	}

	view := debug.NewView()
	view.ShowHidden = cfg.ShowHidden
	redraw := isTerminal(opts.Stdout)
	if f, ok := opts.Stdout.(*os.File); ok && redraw {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			view.Width = width
		}
	}

	printed := map[string]bool{}
	for {
		var s dbgtree.State
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			s = st
		}

		finished := 0
		for _, r := range s.Requests() {
			if !r.Finished() {
				continue
			}
			finished++
			if !redraw && !printed[r.ID] {
				printed[r.ID] = true
				fmt.Fprintln(opts.Stdout, view.RenderRequest(r))
			}
		}
		if redraw {
			fmt.Fprint(opts.Stdout, "\033[H\033[2J"+view.Render(s)+"\n")
		}
		if s.RunState == dbgtree.Error {
			return fmt.Errorf("diagnostic stream: %s", s.Err)
		}
		if opts.DebugCount > 0 && finished >= opts.DebugCount {
			return nil
		}
	}
}
