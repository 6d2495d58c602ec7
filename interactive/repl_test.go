package interactive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/tmc/mxlwb/internal/fakeapp"
	"github.com/tmc/mxlwb/session"
	"go.uber.org/zap/zaptest"
)

func newTestREPL(t *testing.T, ctl Controller) (*REPL, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	t.Cleanup(func() { stdinW.Close() })
	var stdout, stderr bytes.Buffer
	r, err := NewREPL(REPLConfig{
		Controller: ctl,
		ChatName:   "repl",
		Stdin:      stdinR,
		Stdout:     &stdout,
		Stderr:     &stderr,
		Logger:     zaptest.NewLogger(t).Sugar(),
	})
	if err != nil {
		t.Fatalf("NewREPL() error = %v", err)
	}
	t.Cleanup(func() { r.reader.Close() })
	return r, &stdout, &stderr
}

func TestREPLChat(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{Prefix: "echo: "})
	r, stdout, _ := newTestREPL(t, w)
	ctx := context.Background()

	if err := r.Handle(ctx, "first message"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := r.Handle(ctx, "second"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got, want := stdout.String(), "echo: first message\necho: second\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}

	chats := w.State().Chats()
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "repl" || len(chats[0].Turns) != 2 {
		t.Errorf("chat = %+v", chats[0])
	}
}

func TestREPLCommands(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{Prefix: "echo: "})
	r, stdout, _ := newTestREPL(t, w)
	ctx := context.Background()

	mustHandle := func(line string) {
		t.Helper()
		if err := r.Handle(ctx, line); err != nil {
			t.Fatalf("Handle(%q) error = %v", line, err)
		}
	}

	mustHandle("hello")
	mustHandle("/rename Renamed")
	chatID := r.chatID
	if c, _ := w.State().Chat(chatID); c.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", c.Name)
	}

	stdout.Reset()
	mustHandle("/regenerate")
	if got := stdout.String(); got != "echo: hello\n" {
		t.Errorf("regenerate printed %q", got)
	}
	if c, _ := w.State().Chat(chatID); len(c.Turns) != 1 {
		t.Errorf("turns after regenerate = %d, want 1", len(c.Turns))
	}

	mustHandle("/delete turn")
	if c, _ := w.State().Chat(chatID); len(c.Turns) != 0 {
		t.Errorf("turns after delete = %d, want 0", len(c.Turns))
	}
	if err := r.Handle(ctx, "/delete turn"); err == nil {
		t.Error("deleting from an empty chat succeeded")
	}

	mustHandle(`/params {"temperature": 0}`)
	if got := w.State().Params; got != `{"temperature": 0}` {
		t.Errorf("Params = %q", got)
	}

	stdout.Reset()
	mustHandle("/chats")
	if !strings.Contains(stdout.String(), "* "+chatID+"  Renamed  (0 turns)") {
		t.Errorf("/chats = %q", stdout.String())
	}

	mustHandle("/new other")
	if r.chatID == chatID {
		t.Error("/new did not switch chats")
	}
	mustHandle("/delete chat")
	if _, ok := w.State().Chat(chatID); !ok {
		t.Error("/delete chat removed the wrong chat")
	}
	if len(w.State().Chats()) != 1 {
		t.Errorf("chats = %d, want 1", len(w.State().Chats()))
	}

	mustHandle("/clear")
	if w.State().Response() != nil {
		t.Error("/clear left a response")
	}
	mustHandle("/stop")

	if err := r.Handle(ctx, "/bogus"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Handle(/bogus) error = %v", err)
	}
	if err := r.Handle(ctx, "/rename"); err == nil {
		t.Error("/rename without a name succeeded")
	}

	stdout.Reset()
	mustHandle("/help")
	for _, c := range []string{"/stop", "/new", "/rename", "/regenerate", "/delete", "/clear"} {
		if !strings.Contains(stdout.String(), c) {
			t.Errorf("/help missing %s", c)
		}
	}
}

func TestREPLRegenerateEmptyChat(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{})
	r, stdout, _ := newTestREPL(t, w)
	if err := r.Handle(context.Background(), "/regenerate"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want nothing", stdout.String())
	}
	if w.State().RunState != session.Ready {
		t.Errorf("RunState = %v", w.State().RunState)
	}
}

func TestExpandTilde(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	tests := []struct{ in, want string }{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"~/.mxlwb_history", "/home/test/.mxlwb_history"},
	}
	for _, tt := range tests {
		got, err := expandTilde(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("expandTilde(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
