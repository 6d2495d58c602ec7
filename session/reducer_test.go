package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tmc/mxlwb/frame"
)

type fakeConn struct {
	name   string
	closed int
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

func mustReduce(t *testing.T, s State, a Action) State {
	t.Helper()
	next, err := Reduce(s, a)
	if err != nil {
		t.Fatalf("Reduce(%T) error = %v", a, err)
	}
	return next
}

func newChatState(t *testing.T, chatID string) State {
	t.Helper()
	return mustReduce(t, New(DefaultOptions()), CreateChat{ID: chatID})
}

// connectedChat begins a chat exchange on c1 and attaches conn.
func connectedChat(t *testing.T, message string, conn *fakeConn) State {
	t.Helper()
	s := newChatState(t, "c1")
	s = mustReduce(t, s, BeginChatRequest{RequestID: "req1", ChatID: "c1", TurnID: "t1", Message: message})
	return mustReduce(t, s, RequestConnected{RequestID: "req1", Conn: conn})
}

func TestBeginChatRequestBuildsMessages(t *testing.T) {
	s := newChatState(t, "c1")
	s = mustReduce(t, s, BeginChatRequest{RequestID: "req1", ChatID: "c1", TurnID: "t1", Message: "Hi"})

	if s.RunState != Connecting {
		t.Errorf("RunState = %v, want connecting", s.RunState)
	}
	r := s.Response()
	if r == nil {
		t.Fatal("Response() = nil")
	}
	msgs, err := r.Body().Messages()
	if err != nil {
		t.Fatal(err)
	}
	want := []WireMessage{{Role: "user", Text: "Hi"}}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if !r.Body().ShowHidden {
		t.Error("ShowHidden = false, want true")
	}
	turn, ok := r.ChatTurn()
	if !ok {
		t.Fatal("no chat turn under construction")
	}
	if diff := cmp.Diff(ChatTurn{
		ID: "t1", ChatID: "c1", RequestID: "req1",
		Message: Message{Role: "user", Content: "Hi"},
		Reply:   Message{Role: "assistant"},
	}, turn); diff != "" {
		t.Errorf("turn mismatch (-want +got):\n%s", diff)
	}
}

func TestBeginChatRequestFlattensHistory(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "one", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "uno", Stream: "0"}})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{}})
	s = mustReduce(t, s, SetParams{Params: `{"temperature":0.5,"messages":"user supplied"}`})
	s = mustReduce(t, s, BeginChatRequest{RequestID: "req2", ChatID: "c1", TurnID: "t2", Message: "two"})

	body := s.Response().Body()
	msgs, err := body.Messages()
	if err != nil {
		t.Fatal(err)
	}
	want := []WireMessage{
		{Role: "user", Text: "one"},
		{Role: "assistant", Text: "uno"},
		{Role: "user", Text: "two"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if got := string(body.Params["temperature"]); got != "0.5" {
		t.Errorf("temperature param = %s, want 0.5", got)
	}
}

func TestBeginRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) State
		action Action
		check  func(error) bool
	}{
		{
			name:   "unknown chat",
			setup:  func(t *testing.T) State { return New(DefaultOptions()) },
			action: BeginChatRequest{RequestID: "r", ChatID: "nope", TurnID: "t", Message: "Hi"},
			check:  func(err error) bool { return errors.Is(err, ErrChatNotFound) },
		},
		{
			name: "invalid json params",
			setup: func(t *testing.T) State {
				return mustReduce(t, New(DefaultOptions()), SetParams{Params: "{nope"})
			},
			action: BeginRequest{RequestID: "r"},
			check: func(err error) bool {
				var perr *ParamsError
				return errors.As(err, &perr)
			},
		},
		{
			name: "params not an object",
			setup: func(t *testing.T) State {
				return mustReduce(t, New(DefaultOptions()), SetParams{Params: "[1,2]"})
			},
			action: BeginRequest{RequestID: "r"},
			check:  func(err error) bool { return errors.Is(err, errParamsNotObject) },
		},
		{
			name: "already in progress",
			setup: func(t *testing.T) State {
				return mustReduce(t, New(DefaultOptions()), BeginRequest{RequestID: "r0"})
			},
			action: BeginRequest{RequestID: "r"},
			check:  func(err error) bool { return errors.Is(err, ErrRequestInProgress) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.setup(t)
			after, err := Reduce(before, tt.action)
			if !tt.check(err) {
				t.Fatalf("Reduce() error = %v", err)
			}
			if !IsUserError(err) {
				t.Errorf("IsUserError(%v) = false", err)
			}
			if after.RunState != before.RunState || after.Response() != before.Response() {
				t.Error("state changed on error")
			}
		})
	}
}

func TestEmptyParamsIsEmptyObject(t *testing.T) {
	s := mustReduce(t, New(DefaultOptions()), SetParams{Params: "   "})
	s = mustReduce(t, s, BeginRequest{RequestID: "r"})
	if n := len(s.Response().Body().Params); n != 0 {
		t.Errorf("len(Params) = %d, want 0", n)
	}
}

func TestChatTurnCommitOnDone(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	for _, f := range []frame.Frame{
		frame.TextFrame{Text: "Hel", Stream: "0"},
		frame.TextFrame{Text: "thinking", Stream: "0", Hidden: true},
		frame.TextFrame{Text: "aux", Stream: "1"},
		frame.ConsoleFrame{Output: "log\n", Source: frame.Stdout},
		frame.TextFrame{Text: "lo", Stream: "0"},
		frame.DoneFrame{},
	} {
		s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: f})
	}

	if s.RunState != Ready {
		t.Errorf("RunState = %v, want ready", s.RunState)
	}
	if s.Conn() != nil {
		t.Error("connection still attached after done")
	}
	if _, ok := s.Response().ChatTurn(); ok {
		t.Error("chat turn still in flight after done")
	}
	chat, _ := s.Chat("c1")
	if len(chat.Turns) != 1 {
		t.Fatalf("len(Turns) = %d, want 1", len(chat.Turns))
	}
	if got := chat.Turns[0].Reply.Content; got != "Hello" {
		t.Errorf("reply = %q, want %q", got, "Hello")
	}
	if diff := cmp.Diff([]string{"0", "1"}, s.Response().Streams()); diff != "" {
		t.Errorf("streams mismatch (-want +got):\n%s", diff)
	}
	if got := s.Response().Console(); got != "log\n" {
		t.Errorf("Console() = %q", got)
	}
	if got := s.Response().PartCount(); got != 4 {
		t.Errorf("PartCount() = %d, want 4", got)
	}
}

func TestStopKeepsPartialReply(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "Hel", Stream: "0"}})
	s = mustReduce(t, s, StopRequest{})

	if s.RunState != Ready {
		t.Errorf("RunState = %v, want ready", s.RunState)
	}
	chat, _ := s.Chat("c1")
	if len(chat.Turns) != 1 || chat.Turns[0].Reply.Content != "Hel" {
		t.Fatalf("turns = %+v, want one turn with reply Hel", chat.Turns)
	}

	again := mustReduce(t, s, StopRequest{})
	if again.RunState != Ready || len(again.Chats()[0].Turns) != 1 {
		t.Error("second stop changed state")
	}
	if _, err := Reduce(s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "lo", Stream: "0"}}); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("frame after stop: error = %v, want ErrStaleConnection", err)
	}
}

func TestStopBeforeOutputCommitsTurn(t *testing.T) {
	for _, queued := range []bool{false, true} {
		t.Run(fmt.Sprintf("queued=%v", queued), func(t *testing.T) {
			s := newChatState(t, "c1")
			s = mustReduce(t, s, BeginChatRequest{RequestID: "req1", ChatID: "c1", TurnID: "t1", Message: "Hi"})
			if queued {
				s = mustReduce(t, s, RequestQueued{RequestID: "req1", Attempt: 1, Err: errors.New("dial")})
			}
			s = mustReduce(t, s, StopRequest{})
			if s.RunState != Ready {
				t.Errorf("RunState = %v, want ready", s.RunState)
			}
			chat, _ := s.Chat("c1")
			want := []ChatTurn{{
				ID:        "t1",
				ChatID:    "c1",
				RequestID: "req1",
				Message:   Message{Role: RoleUser, Content: "Hi"},
				Reply:     Message{Role: RoleAssistant},
			}}
			if diff := cmp.Diff(want, chat.Turns); diff != "" {
				t.Errorf("Turns mismatch (-want +got):\n%s", diff)
			}
			if _, ok := s.Response().ChatTurn(); ok {
				t.Error("turn still in flight after stop")
			}
			if _, err := Reduce(s, RequestConnected{RequestID: "req1", Conn: &fakeConn{}}); !errors.Is(err, ErrStaleConnection) {
				t.Errorf("late RequestConnected error = %v, want ErrStaleConnection", err)
			}
		})
	}
}

func TestErrorFrameDetaches(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "Hel", Stream: "0"}})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.ErrorFrame{Message: "boom", Stream: "0"}})

	if s.RunState != Error {
		t.Errorf("RunState = %v, want error", s.RunState)
	}
	if s.Conn() != nil {
		t.Error("connection still attached after error")
	}
	parts := s.Response().Parts()
	want := OutputPart{Kind: ErrorPart, Stream: "0", Text: "boom"}
	if diff := cmp.Diff(want, parts[len(parts)-1]); diff != "" {
		t.Errorf("last part mismatch (-want +got):\n%s", diff)
	}
	next, err := Reduce(s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "lo", Stream: "0"}})
	if !errors.Is(err, ErrStaleConnection) {
		t.Errorf("frame after error: error = %v", err)
	}
	if next.Response().PartCount() != len(parts) {
		t.Error("frame after error was folded")
	}
	if chat, _ := s.Chat("c1"); len(chat.Turns) != 0 {
		t.Error("turn committed after error")
	}
	if _, err := Reduce(s, BeginRequest{RequestID: "retry"}); err != nil {
		t.Errorf("BeginRequest from error state: %v", err)
	}
}

func TestConnectionLostEntersError(t *testing.T) {
	conn := &fakeConn{}
	s := mustReduce(t, New(DefaultOptions()), BeginRequest{RequestID: "r"})
	s = mustReduce(t, s, RequestQueued{RequestID: "r", Attempt: 1, Err: errors.New("dial")})
	if s.RunState != Queued {
		t.Fatalf("RunState = %v, want queued", s.RunState)
	}
	s = mustReduce(t, s, RequestConnected{RequestID: "r", Conn: conn})
	s = mustReduce(t, s, ConnectionLost{Conn: conn})
	if s.RunState != Error {
		t.Errorf("RunState = %v, want error", s.RunState)
	}
	last, _ := s.Response().parts.Last()
	if last.Kind != ErrorPart || last.Text != errClosedBeforeDone.Error() {
		t.Errorf("last part = %+v", last)
	}
}

func TestConnectFailed(t *testing.T) {
	s := mustReduce(t, New(DefaultOptions()), BeginRequest{RequestID: "r"})
	if _, err := Reduce(s, ConnectFailed{RequestID: "other", Err: errors.New("x")}); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("ConnectFailed for other request: error = %v", err)
	}
	s = mustReduce(t, s, ConnectFailed{RequestID: "r", Err: errors.New("connection refused")})
	if s.RunState != Error {
		t.Errorf("RunState = %v, want error", s.RunState)
	}
	if got := s.Response().Part(0).Text; got != "connection refused" {
		t.Errorf("error part = %q", got)
	}
}

func TestFramesFromOtherConnectionIgnored(t *testing.T) {
	conn, stale := &fakeConn{name: "live"}, &fakeConn{name: "stale"}
	s := mustReduce(t, New(DefaultOptions()), BeginRequest{RequestID: "r"})
	s = mustReduce(t, s, RequestConnected{RequestID: "r", Conn: conn})
	if _, err := Reduce(s, ReceiveFrame{Conn: stale, Frame: frame.DoneFrame{}}); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("error = %v, want ErrStaleConnection", err)
	}
}

func TestDoneRequiresPrimaryStream(t *testing.T) {
	opts := DefaultOptions()
	opts.DoneRequiresPrimaryStream = true
	conn := &fakeConn{}
	s := mustReduce(t, New(opts), BeginRequest{RequestID: "r"})
	s = mustReduce(t, s, RequestConnected{RequestID: "r", Conn: conn})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{Stream: "1"}})
	if s.RunState != Generating {
		t.Fatalf("RunState = %v after auxiliary done, want generating", s.RunState)
	}
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{Stream: "0"}})
	if s.RunState != Ready {
		t.Errorf("RunState = %v after primary done, want ready", s.RunState)
	}
}

func TestClearOutput(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ClearOutput{})
	if s.Response() != nil || s.Conn() != nil {
		t.Error("response survived ClearOutput")
	}
	if s.RunState != Ready {
		t.Errorf("RunState = %v, want ready", s.RunState)
	}
	if _, err := Reduce(s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{}}); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("frame after clear: %v", err)
	}
}

func TestChatManagement(t *testing.T) {
	s := New(DefaultOptions())
	s = mustReduce(t, s, CreateChat{ID: "a"})
	s = mustReduce(t, s, CreateChat{ID: "b", Name: "Second"})
	if _, err := Reduce(s, CreateChat{ID: "a"}); !errors.Is(err, ErrDuplicateChat) {
		t.Errorf("duplicate create: %v", err)
	}
	if _, err := Reduce(s, CreateChat{}); !errors.Is(err, ErrInvalidChatID) {
		t.Errorf("empty id: %v", err)
	}
	renamed := mustReduce(t, s, RenameChat{ChatID: "a", Name: "First"})
	if c, _ := renamed.Chat("a"); c.Name != "First" {
		t.Errorf("Name = %q, want First", c.Name)
	}
	if c, _ := s.Chat("a"); c.Name != DefaultChatName {
		t.Errorf("rename modified the previous state: %q", c.Name)
	}
	if got := mustReduce(t, renamed, RenameChat{ChatID: "zzz", Name: "x"}); len(got.Chats()) != 2 {
		t.Error("rename of unknown chat changed chats")
	}
	deleted := mustReduce(t, renamed, DeleteChat{ChatID: "a"})
	var names []string
	for _, c := range deleted.Chats() {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff([]string{"Second"}, names); diff != "" {
		t.Errorf("chats after delete (-want +got):\n%s", diff)
	}
	if _, err := Reduce(deleted, DeleteChat{ChatID: "a"}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("delete unknown: %v", err)
	}
}

func TestDeleteChatWhileInFlight(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	if _, err := Reduce(s, DeleteChat{ChatID: "c1"}); !errors.Is(err, ErrChatBusy) {
		t.Fatalf("DeleteChat in flight: error = %v, want ErrChatBusy", err)
	}
	s = mustReduce(t, s, StopRequest{})
	s = mustReduce(t, s, DeleteChat{ChatID: "c1"})
	if len(s.Chats()) != 0 {
		t.Error("chat not deleted after stop")
	}
}

func TestRegenerateLastTurn(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "old", Stream: "0"}})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{}})

	s = mustReduce(t, s, RegenerateLastTurn{RequestID: "req2", ChatID: "c1", TurnID: "t2"})
	if s.RunState != Connecting {
		t.Errorf("RunState = %v, want connecting", s.RunState)
	}
	if chat, _ := s.Chat("c1"); len(chat.Turns) != 0 {
		t.Errorf("len(Turns) = %d, want 0 after pop", len(chat.Turns))
	}
	msgs, _ := s.Response().Body().Messages()
	if diff := cmp.Diff([]WireMessage{{Role: "user", Text: "Hi"}}, msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	conn2 := &fakeConn{}
	s = mustReduce(t, s, RequestConnected{RequestID: "req2", Conn: conn2})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn2, Frame: frame.TextFrame{Text: "new", Stream: "0"}})
	s = mustReduce(t, s, ReceiveFrame{Conn: conn2, Frame: frame.DoneFrame{}})
	chat, _ := s.Chat("c1")
	if len(chat.Turns) != 1 || chat.Turns[0].Reply.Content != "new" || chat.Turns[0].ID != "t2" {
		t.Errorf("turns = %+v", chat.Turns)
	}
}

func TestRegenerateErrors(t *testing.T) {
	s := newChatState(t, "c1")
	if _, err := Reduce(s, RegenerateLastTurn{RequestID: "r", ChatID: "c1", TurnID: "t"}); !errors.Is(err, ErrNoTurns) {
		t.Errorf("no turns: %v", err)
	}
	if _, err := Reduce(s, RegenerateLastTurn{RequestID: "r", ChatID: "x", TurnID: "t"}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("unknown chat: %v", err)
	}
}

func TestDeleteChatTurn(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{}})
	same := mustReduce(t, s, DeleteChatTurn{ChatID: "c1", TurnID: "missing"})
	if c, _ := same.Chat("c1"); len(c.Turns) != 1 {
		t.Error("deleting unknown turn removed a turn")
	}
	s2 := mustReduce(t, s, DeleteChatTurn{ChatID: "c1", TurnID: "t1"})
	if c, _ := s2.Chat("c1"); len(c.Turns) != 0 {
		t.Error("turn not deleted")
	}
	if c, _ := s.Chat("c1"); len(c.Turns) != 1 {
		t.Error("delete modified the previous state")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "a", Stream: "0"}})

	branch1 := mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "b", Stream: "0"}})
	branch2 := mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "c", Stream: "2"}})

	if got := s.Response().Text("0"); got != "a" {
		t.Errorf("original text = %q, want a", got)
	}
	if got := branch1.Response().Text("0"); got != "ab" {
		t.Errorf("branch1 text = %q, want ab", got)
	}
	if got := branch2.Response().Text("0"); got != "a" {
		t.Errorf("branch2 stream 0 = %q, want a", got)
	}
	if diff := cmp.Diff([]string{"0", "2"}, branch2.Response().Streams()); diff != "" {
		t.Errorf("branch2 streams (-want +got):\n%s", diff)
	}
	if turn, _ := s.Response().ChatTurn(); turn.Reply.Content != "a" {
		t.Errorf("original turn reply = %q", turn.Reply.Content)
	}
}

func TestReplyAndConsoleAccumulateInChunks(t *testing.T) {
	conn := &fakeConn{}
	s := connectedChat(t, "Hi", conn)
	for _, f := range []frame.Frame{
		frame.TextFrame{Text: "He", Stream: "0"},
		frame.ConsoleFrame{Output: "one\n", Source: frame.Stdout},
		frame.TextFrame{Text: "l", Stream: "0"},
		frame.ConsoleFrame{Output: "two\n", Source: frame.Stderr},
	} {
		s = mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: f})
	}
	left := mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "lo", Stream: "0"}})
	right := mustReduce(t, s, ReceiveFrame{Conn: conn, Frame: frame.TextFrame{Text: "p", Stream: "0"}})

	r := s.Response()
	if r.ConsoleCount() != 2 || r.ConsoleChunk(0) != "one\n" || r.ConsoleChunk(1) != "two\n" {
		t.Errorf("console chunks = %d, want [one two]", r.ConsoleCount())
	}
	if got := r.Console(); got != "one\ntwo\n" {
		t.Errorf("Console() = %q", got)
	}
	for _, tt := range []struct {
		name  string
		state State
		want  string
	}{
		{"original", s, "Hel"},
		{"left", left, "Hello"},
		{"right", right, "Help"},
	} {
		turn, _ := tt.state.Response().ChatTurn()
		if turn.Reply.Content != tt.want {
			t.Errorf("%s: in-flight reply = %q, want %q", tt.name, turn.Reply.Content, tt.want)
		}
	}

	done := mustReduce(t, left, ReceiveFrame{Conn: conn, Frame: frame.DoneFrame{}})
	chat, _ := done.Chat("c1")
	if len(chat.Turns) != 1 || chat.Turns[0].Reply.Content != "Hello" {
		t.Errorf("committed turns = %+v, want one reply Hello", chat.Turns)
	}
}
