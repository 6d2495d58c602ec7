package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tmc/mxlwb/frame"
	"golang.org/x/tools/txtar"
)

// scenarioResult is the observable outcome of a scenario.
type scenarioResult struct {
	RunState string       `json:"runState"`
	Parts    []OutputPart `json:"parts"`
	Streams  []string     `json:"streams"`
	Console  string       `json:"console"`
	Replies  []string     `json:"replies"`
	Ignored  int          `json:"ignored"`
	Stale    int          `json:"stale"`
}

// TestScenarios replays recorded frame streams through the reducer.
//
// The archive comment holds a description followed by directives, one per
// line:
//
//	chat: <message>    run as a chat request on a fresh chat
//	stop-after: <n>    issue StopRequest after n frames were folded
//	done-primary       done frames only finish on the primary stream
//
// The "frames" file holds one wire line per frame and "want" the JSON
// encoding of scenarioResult.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scenarios found")
	}
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".txtar")
		t.Run(name, func(t *testing.T) {
			ar, err := txtar.ParseFile(file)
			if err != nil {
				t.Fatal(err)
			}
			var frames, want []byte
			for _, f := range ar.Files {
				switch f.Name {
				case "frames":
					frames = f.Data
				case "want":
					want = f.Data
				default:
					t.Fatalf("unexpected file %q", f.Name)
				}
			}
			got := runScenario(t, string(ar.Comment), frames)
			var wantResult scenarioResult
			if err := json.Unmarshal(want, &wantResult); err != nil {
				t.Fatalf("decode want: %v", err)
			}
			if diff := cmp.Diff(wantResult, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("scenario mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func runScenario(t *testing.T, directives string, frames []byte) scenarioResult {
	t.Helper()
	opts := DefaultOptions()
	var (
		chatMessage string
		isChat      bool
		stopAfter   = -1
	)
	for _, line := range strings.Split(directives, "\n") {
		key, value, _ := strings.Cut(strings.TrimSpace(line), ":")
		value = strings.TrimSpace(value)
		if strings.Contains(key, " ") {
			continue // description
		}
		switch key {
		case "":
		case "chat":
			isChat, chatMessage = true, value
		case "stop-after":
			n, err := strconv.Atoi(value)
			if err != nil {
				t.Fatalf("stop-after: %v", err)
			}
			stopAfter = n
		case "done-primary":
			opts.DoneRequiresPrimaryStream = true
		default:
			t.Fatalf("unknown directive %q", key)
		}
	}

	s := New(opts)
	if isChat {
		s = mustReduce(t, s, CreateChat{ID: "c1"})
		s = mustReduce(t, s, BeginChatRequest{RequestID: "r1", ChatID: "c1", TurnID: "t1", Message: chatMessage})
	} else {
		s = mustReduce(t, s, BeginRequest{RequestID: "r1"})
	}
	conn := &fakeConn{}
	s = mustReduce(t, s, RequestConnected{RequestID: "r1", Conn: conn})

	var res scenarioResult
	folded := 0
	sc := bufio.NewScanner(bytes.NewReader(frames))
	for sc.Scan() {
		if folded == stopAfter {
			s = mustReduce(t, s, StopRequest{})
			stopAfter = -1
		}
		f, err := frame.DecodeFrame(sc.Bytes())
		if err != nil {
			res.Ignored++
			continue
		}
		next, err := Reduce(s, ReceiveFrame{Conn: conn, Frame: f})
		switch {
		case errors.Is(err, ErrStaleConnection):
			res.Stale++
			continue
		case err != nil:
			t.Fatalf("Reduce: %v", err)
		}
		s = next
		folded++
	}
	if folded == stopAfter {
		s = mustReduce(t, s, StopRequest{})
	}

	res.RunState = s.RunState.String()
	res.Parts = s.Response().Parts()
	res.Streams = s.Response().Streams()
	res.Console = s.Response().Console()
	for _, c := range s.Chats() {
		for _, turn := range c.Turns {
			res.Replies = append(res.Replies, turn.Reply.Content)
		}
	}
	return res
}
