package interactive

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tmc/mxlwb"
	"github.com/tmc/mxlwb/internal/fakeapp"
	"github.com/tmc/mxlwb/session"
	"go.uber.org/zap/zaptest"
)

// startWorkbench runs a Workbench against a fake application server until
// the test ends.
func startWorkbench(t *testing.T, model *fakeapp.EchoModel) (*mxlwb.Workbench, *fakeapp.Server, string) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	app := fakeapp.New(model, logger)
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)

	w := mxlwb.NewWorkbench(srv.URL, mxlwb.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	return w, app, srv.URL
}

func waitState(t *testing.T, ctl Controller, what string, pred func(session.State) bool) session.State {
	t.Helper()
	ch, cancel := ctl.Subscribe()
	defer cancel()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestFollowPrintsReply(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{Prefix: "you said "})
	ctx := context.Background()

	states, cancel := w.Subscribe()
	defer cancel()
	chatID, err := w.CreateChat(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.SendChatMessage(ctx, chatID, "hello there"); err != nil {
		t.Fatal(err)
	}
	id := w.State().Response().RequestID()

	var out, errOut bytes.Buffer
	p := &Printer{Out: &out, Err: &errOut, Stream: session.DefaultPrimaryStream, Console: true}
	fctx, fcancel := context.WithTimeout(ctx, 5*time.Second)
	defer fcancel()
	last, err := Follow(fctx, states, id, p)
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if last.RunState != session.Ready {
		t.Errorf("RunState = %v, want ready", last.RunState)
	}
	if got, want := out.String(), "you said hello there"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
	if !strings.Contains(errOut.String(), "generating") {
		t.Errorf("console not copied: %q", errOut.String())
	}
}

func TestFollowErrorFrame(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{})
	ctx := context.Background()

	states, cancel := w.Subscribe()
	defer cancel()
	if err := w.SetParams(ctx, `{"prompt": "x", "error": "model exploded"}`); err != nil {
		t.Fatal(err)
	}
	id, err := w.SendRequest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	fctx, fcancel := context.WithTimeout(ctx, 5*time.Second)
	defer fcancel()
	last, err := Follow(fctx, states, id, &Printer{Out: &out, Err: &errOut})
	if err != nil {
		t.Fatal(err)
	}
	if last.RunState != session.Error {
		t.Errorf("RunState = %v, want error", last.RunState)
	}
	if !strings.Contains(errOut.String(), "error: model exploded") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestPrinterSkipsPrinted(t *testing.T) {
	w, _, _ := startWorkbench(t, &fakeapp.EchoModel{Prefix: "re: "})
	ctx := context.Background()
	chatID, _ := w.CreateChat(ctx, "")
	if _, err := w.SendChatMessage(ctx, chatID, "a b c"); err != nil {
		t.Fatal(err)
	}
	s := waitState(t, w, "reply", func(s session.State) bool {
		return s.Response() != nil && !s.RunState.Active()
	})

	var out bytes.Buffer
	p := &Printer{Out: &out, Err: &out, Stream: "0"}
	p.Update(s)
	p.Update(s)
	if got, want := out.String(), "re: a b c"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}
