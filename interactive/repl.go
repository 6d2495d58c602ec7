package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

// REPLConfig configures a line-mode chat session.
type REPLConfig struct {
	Controller Controller
	Prompt     string
	// HistoryFile keeps readline history across runs. Empty disables it.
	HistoryFile string
	// ChatName names the chat created for the session.
	ChatName   string
	ShowHidden bool

	Stdin          io.ReadCloser
	Stdout, Stderr io.Writer
	Logger         *zap.SugaredLogger
}

// REPL is a readline chat over a Controller. Lines are sent as chat
// messages; lines starting with / are commands.
type REPL struct {
	cfg    REPLConfig
	log    *zap.SugaredLogger
	reader *readline.Instance

	mu     sync.Mutex
	chatID string
}

// NewREPL creates a readline session.
func NewREPL(cfg REPLConfig) (*REPL, error) {
	if cfg.Controller == nil {
		return nil, errors.New("interactive: no controller")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("repl")
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if !strings.HasSuffix(cfg.Prompt, " ") {
		cfg.Prompt += " "
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	historyPath, err := expandTilde(cfg.HistoryFile)
	if err != nil {
		log.Warnf("Could not expand history file path '%s': %v", cfg.HistoryFile, err)
		historyPath = cfg.HistoryFile
	}

	rlCfg := &readline.Config{
		Prompt:            cfg.Prompt,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryFile:       historyPath,
		HistoryLimit:      10000,
		HistorySearchFold: true,
		AutoComplete:      commandCompleter(),
		Stdout:            cfg.Stdout,
		Stderr:            cfg.Stderr,
	}
	if cfg.Stdin != nil {
		rlCfg.Stdin = cfg.Stdin
	}
	reader, err := readline.NewEx(rlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return &REPL{cfg: cfg, log: log, reader: reader}, nil
}

func commandCompleter() readline.AutoCompleter {
	var items []readline.PrefixCompleterInterface
	for _, c := range replCommands {
		items = append(items, readline.PcItem("/"+c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

type replCommand struct {
	name, args, help string
	run              func(r *REPL, ctx context.Context, arg string) error
}

var replCommands []replCommand

func init() {
	replCommands = []replCommand{
		{"stop", "", "stop the reply in progress", (*REPL).cmdStop},
		{"new", "[name]", "start a new chat", (*REPL).cmdNew},
		{"rename", "<name>", "rename the current chat", (*REPL).cmdRename},
		{"regenerate", "", "send the last message again", (*REPL).cmdRegenerate},
		{"delete", "[turn|chat]", "delete the last turn or the whole chat", (*REPL).cmdDelete},
		{"clear", "", "clear the current output", (*REPL).cmdClear},
		{"params", "<json>", "set the request params", (*REPL).cmdParams},
		{"chats", "", "list chats", (*REPL).cmdChats},
		{"help", "", "show commands", (*REPL).cmdHelp},
	}
}

// Run reads lines until EOF, an interrupt at an empty prompt, or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	defer r.reader.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.reader.Close()
		case <-done:
		}
	}()

	for {
		line, err := r.reader.Readline()
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if len(line) > 0 {
				continue
			}
			return ErrInterrupted
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.Handle(ctx, line); err != nil {
			fmt.Fprintf(r.cfg.Stderr, "error: %v\n", err)
		}
	}
}

// Handle runs one line of input: a command or a chat message. Chat
// messages block until the reply is complete; an interrupt stops it.
func (r *REPL) Handle(ctx context.Context, line string) error {
	if strings.HasPrefix(line, "/") {
		name, arg, _ := strings.Cut(line[1:], " ")
		for _, c := range replCommands {
			if c.name == name {
				return c.run(r, ctx, strings.TrimSpace(arg))
			}
		}
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return r.chat(ctx, line)
}

func (r *REPL) currentChat(ctx context.Context) (string, error) {
	r.mu.Lock()
	id := r.chatID
	r.mu.Unlock()
	if _, ok := r.cfg.Controller.State().Chat(id); ok {
		return id, nil
	}
	id, err := r.cfg.Controller.CreateChat(ctx, r.cfg.ChatName)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.chatID = id
	r.mu.Unlock()
	return id, nil
}

func (r *REPL) chat(ctx context.Context, text string) error {
	chatID, err := r.currentChat(ctx)
	if err != nil {
		return err
	}
	return r.follow(ctx, func(ctx context.Context) error {
		_, err := r.cfg.Controller.SendChatMessage(ctx, chatID, text)
		return err
	})
}

// follow starts an exchange with start and prints its reply until it ends.
// An interrupt signal while following stops the exchange.
func (r *REPL) follow(ctx context.Context, start func(ctx context.Context) error) error {
	ctl := r.cfg.Controller
	states, unsubscribe := ctl.Subscribe()
	defer unsubscribe()

	var prevID string
	if cur := ctl.State().Response(); cur != nil {
		prevID = cur.RequestID()
	}
	if err := start(ctx); err != nil {
		return err
	}
	st := ctl.State()
	resp := st.Response()
	if resp == nil || resp.RequestID() == prevID {
		// Nothing was started.
		return nil
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-fctx.Done():
		}
	}()

	p := &Printer{
		Out:        r.cfg.Stdout,
		Err:        r.cfg.Stderr,
		Stream:     st.Options.PrimaryStream,
		ShowHidden: r.cfg.ShowHidden,
	}
	last, err := Follow(fctx, states, resp.RequestID(), p)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Interrupted: stop the exchange and keep the partial reply.
		fmt.Fprintln(r.cfg.Stderr, "\n[interrupted]")
		return ctl.StopRequest(ctx)
	}
	if err != nil {
		return err
	}
	if last.Response() != nil && last.Response().PartCount() > 0 {
		fmt.Fprintln(r.cfg.Stdout)
	}
	return nil
}

func (r *REPL) cmdStop(ctx context.Context, _ string) error {
	return r.cfg.Controller.StopRequest(ctx)
}

func (r *REPL) cmdNew(ctx context.Context, name string) error {
	id, err := r.cfg.Controller.CreateChat(ctx, name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.chatID = id
	r.mu.Unlock()
	fmt.Fprintf(r.cfg.Stderr, "new chat %s\n", id)
	return nil
}

func (r *REPL) cmdRename(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: /rename <name>")
	}
	id, err := r.currentChat(ctx)
	if err != nil {
		return err
	}
	return r.cfg.Controller.RenameChat(ctx, id, name)
}

func (r *REPL) cmdRegenerate(ctx context.Context, _ string) error {
	id, err := r.currentChat(ctx)
	if err != nil {
		return err
	}
	return r.follow(ctx, func(ctx context.Context) error {
		return r.cfg.Controller.RegenerateLastTurn(ctx, id)
	})
}

func (r *REPL) cmdDelete(ctx context.Context, what string) error {
	id, err := r.currentChat(ctx)
	if err != nil {
		return err
	}
	switch what {
	case "", "turn":
		c, _ := r.cfg.Controller.State().Chat(id)
		if len(c.Turns) == 0 {
			return errors.New("chat has no turns")
		}
		return r.cfg.Controller.DeleteChatTurn(ctx, id, c.Turns[len(c.Turns)-1].ID)
	case "chat":
		if err := r.cfg.Controller.DeleteChat(ctx, id); err != nil {
			return err
		}
		r.mu.Lock()
		r.chatID = ""
		r.mu.Unlock()
		return nil
	}
	return fmt.Errorf("usage: /delete [turn|chat], got %q", what)
}

func (r *REPL) cmdClear(ctx context.Context, _ string) error {
	return r.cfg.Controller.ClearOutput(ctx)
}

func (r *REPL) cmdParams(ctx context.Context, text string) error {
	if text == "" {
		fmt.Fprintln(r.cfg.Stdout, r.cfg.Controller.State().Params)
		return nil
	}
	return r.cfg.Controller.SetParams(ctx, text)
}

func (r *REPL) cmdChats(ctx context.Context, _ string) error {
	r.mu.Lock()
	cur := r.chatID
	r.mu.Unlock()
	for _, c := range r.cfg.Controller.State().Chats() {
		mark := " "
		if c.ID == cur {
			mark = "*"
		}
		fmt.Fprintf(r.cfg.Stdout, "%s %s  %s  (%d turns)\n", mark, c.ID, c.Name, len(c.Turns))
	}
	return nil
}

func (r *REPL) cmdHelp(ctx context.Context, _ string) error {
	for _, c := range replCommands {
		fmt.Fprintf(r.cfg.Stdout, "  /%-11s %-12s %s\n", c.name, c.args, c.help)
	}
	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
