// Package interactive provides the terminal front ends of the workbench: a
// full-screen Bubble Tea workbench and a line-mode chat REPL. Both drive a
// Controller and render the snapshots it publishes; neither holds session
// state of its own.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tmc/mxlwb"
	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/session"
)

// ErrInterrupted is returned when the user quits with Ctrl+C.
var ErrInterrupted = errors.New("interrupted")

// Controller is the session a front end drives. *mxlwb.Workbench
// implements it.
type Controller interface {
	State() session.State
	Subscribe() (<-chan session.State, func())

	SetParams(ctx context.Context, text string) error
	SendRequest(ctx context.Context) (string, error)
	SendChatMessage(ctx context.Context, chatID, message string) (string, error)
	StopRequest(ctx context.Context) error
	ClearOutput(ctx context.Context) error
	CreateChat(ctx context.Context, name string) (string, error)
	RenameChat(ctx context.Context, chatID, name string) error
	DeleteChat(ctx context.Context, chatID string) error
	RegenerateLastTurn(ctx context.Context, chatID string) error
	DeleteChatTurn(ctx context.Context, chatID, turnID string) error
}

// Monitor is the diagnostic stream a front end shows. *mxlwb.DebugMonitor
// implements it.
type Monitor interface {
	State() dbgtree.State
	Subscribe() (<-chan dbgtree.State, func())

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Clear(ctx context.Context) error
}

var (
	_ Controller = (*mxlwb.Workbench)(nil)
	_ Monitor    = (*mxlwb.DebugMonitor)(nil)
)

// Printer writes the growth of a response as it streams. Text parts go to
// Out; error parts and console output go to Err. Call Update with every
// snapshot; parts already printed are skipped.
type Printer struct {
	Out, Err io.Writer
	// Stream limits text output to one stream id. Empty prints all streams.
	Stream     string
	ShowHidden bool
	// Console copies the response's console output to Err.
	Console bool

	requestID string
	parts     int
	console   int
}

// Update prints what is new in s since the last call.
func (p *Printer) Update(s session.State) {
	r := s.Response()
	if r == nil {
		return
	}
	if r.RequestID() != p.requestID {
		p.requestID, p.parts, p.console = r.RequestID(), 0, 0
	}
	for ; p.parts < r.PartCount(); p.parts++ {
		part := r.Part(p.parts)
		switch {
		case part.Kind == session.ErrorPart:
			fmt.Fprintf(p.Err, "\nerror: %s\n", part.Text)
		case part.Hidden && !p.ShowHidden:
		case p.Stream != "" && part.Stream != p.Stream:
		default:
			io.WriteString(p.Out, part.Text)
		}
	}
	for ; p.Console && p.console < r.ConsoleCount(); p.console++ {
		io.WriteString(p.Err, r.ConsoleChunk(p.console))
	}
}

// Follow feeds snapshots from states to p until the exchange requestID is
// over, and returns the last snapshot seen. An exchange is over once the
// session is no longer active or its response has been cleared or
// replaced.
func Follow(ctx context.Context, states <-chan session.State, requestID string, p *Printer) (session.State, error) {
	var last session.State
	seen := false
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case s, ok := <-states:
			if !ok {
				return last, mxlwb.ErrNotRunning
			}
			last = s
			r := s.Response()
			if r == nil || r.RequestID() != requestID {
				if seen {
					return s, nil
				}
				continue
			}
			seen = true
			if p != nil {
				p.Update(s)
			}
			if !s.RunState.Active() {
				return s, nil
			}
		}
	}
}
