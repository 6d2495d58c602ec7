// Package frame defines the messages delivered by an application server's
// push stream: session frames (text, error, console, done) and diagnostic
// debug events.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Console event markers.
const (
	Stdout = "sys.stdout"
	Stderr = "sys.stderr"
)

// ErrIgnoredFrame is returned for well-formed frames that carry nothing to fold.
var ErrIgnoredFrame = errors.New("frame carries no recognized payload")

// Frame is one decoded unit of a session stream. It is one of TextFrame,
// ErrorFrame, ConsoleFrame or DoneFrame.
type Frame interface {
	frame()
}

// TextFrame is a fragment of output on a stream.
type TextFrame struct {
	Text   string
	Hidden bool
	Stream string
}

// ErrorFrame is an application error reported by the server.
type ErrorFrame struct {
	Message string
	Stream  string
}

// ConsoleFrame is passthrough output of the application's stdout or stderr.
type ConsoleFrame struct {
	Output string
	Source string
}

// DoneFrame terminates the exchange.
type DoneFrame struct {
	Stream string
}

func (TextFrame) frame()    {}
func (ErrorFrame) frame()   {}
func (ConsoleFrame) frame() {}
func (DoneFrame) frame()    {}

type wireFrame struct {
	Stream json.RawMessage `json:"stream"`
	Event  string          `json:"event"`
	Text   *string         `json:"text"`
	Hidden bool            `json:"hidden"`
	Error  *string         `json:"error"`
	Done   bool            `json:"done"`
}

// DecodeFrame decodes one JSON object from the session stream.
//
// Precedence: done, console event, error, text. Anything else returns
// ErrIgnoredFrame. Malformed input returns a *ProtocolError.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Source: "frame", Err: err}
	}
	stream, err := StreamID(w.Stream)
	if err != nil {
		return nil, &ProtocolError{Source: "frame", Err: err}
	}
	switch {
	case w.Done:
		return DoneFrame{Stream: stream}, nil
	case w.Event == Stdout || w.Event == Stderr:
		var out string
		if w.Text != nil {
			out = *w.Text
		}
		return ConsoleFrame{Output: out, Source: w.Event}, nil
	case w.Error != nil:
		return ErrorFrame{Message: *w.Error, Stream: stream}, nil
	case w.Text != nil && *w.Text != "":
		return TextFrame{Text: *w.Text, Hidden: w.Hidden, Stream: stream}, nil
	}
	return nil, ErrIgnoredFrame
}

// StreamID normalizes a stream identifier that may be a JSON string or number.
// An absent or null identifier yields "".
func StreamID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("stream id %s: %w", raw, err)
		}
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
}
