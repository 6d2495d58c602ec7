// Package dbgtree reconstructs the request and token-sequence tree of an
// application server from its diagnostic event stream.
//
// The stream makes no ordering or delivery promises across requests and
// sequences: events may reference a request or sequence before it has been
// announced. Unknown references get a placeholder that later events fill in.
package dbgtree

import (
	"strings"

	"github.com/tmc/mxlwb/frame"
	"github.com/tmc/mxlwb/internal/cow"
)

// RunState is the state of the diagnostic connection.
type RunState int

const (
	Ready RunState = iota
	Connecting
	Streaming
	Error
)

func (s RunState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Error:
		return "error"
	}
	return "unknown"
}

// Handle is the live diagnostic connection. Handles are compared by identity.
type Handle interface {
	Close() error
}

// Policy controls reconciliation choices.
type Policy struct {
	// CloseSeqsOnFinish closes any sequence still open when its request
	// finishes.
	CloseSeqsOnFinish bool
}

// NullTimestamp is a timestamp that may be unset.
type NullTimestamp struct {
	TS    frame.Timestamp
	Valid bool
}

func stamp(ts frame.Timestamp) NullTimestamp {
	return NullTimestamp{TS: ts, Valid: true}
}

// Chunk is one fragment of a sequence.
type Chunk struct {
	TS        frame.Timestamp
	Text      string
	Hidden    bool
	CommandID string
}

// Seq is a token sequence produced while serving a request.
type Seq struct {
	ID string
	// Placeholder is set until the sequence's open event arrives.
	Placeholder bool
	Open        bool
	OpenTS      NullTimestamp
	CloseTS     NullTimestamp

	chunks cow.List[Chunk]
}

// Chunks returns a copy of the chunks in arrival order.
func (s *Seq) Chunks() []Chunk { return s.chunks.Slice() }

// ChunkCount reports the number of chunks.
func (s *Seq) ChunkCount() int { return s.chunks.Len() }

// Text concatenates the chunks, skipping hidden ones unless withHidden.
func (s *Seq) Text(withHidden bool) string {
	var b strings.Builder
	for _, c := range s.chunks.All() {
		if c.Hidden && !withHidden {
			continue
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// Request is one HTTP request served by the application.
type Request struct {
	ID     string
	URL    string
	Method string
	// Placeholder is set until the request's start event arrives; URL and
	// Method are unknown and StartTS is the arrival time of the first event.
	Placeholder bool
	StartTS     frame.Timestamp
	// Status is 0 until the response has been sent.
	Status         int
	ResponseSentTS NullTimestamp
	FinishTS       NullTimestamp

	seqs cow.Vec[*Seq]
}

// Seqs returns the request's sequences in first-seen order.
func (r *Request) Seqs() []*Seq { return r.seqs.Slice() }

// Seq looks up a sequence by id.
func (r *Request) Seq(id string) (*Seq, bool) {
	if i := r.seqIndex(id); i >= 0 {
		return r.seqs.At(i), true
	}
	return nil, false
}

// Finished reports whether the request's finish event has arrived.
func (r *Request) Finished() bool { return r.FinishTS.Valid }

func (r *Request) seqIndex(id string) int {
	for i, s := range r.seqs.All() {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// State is the reconstructed tree plus the connection state. Requests and
// sequences reachable from a State are never modified; treat them as read-only.
type State struct {
	RunState RunState
	Policy   Policy
	// Err is the message of the last connection failure.
	Err string

	conn    Handle
	attempt string

	requests cow.Vec[*Request]
	index    map[string]int
}

// New returns an empty, disconnected state.
func New(p Policy) State {
	return State{RunState: Ready, Policy: p}
}

// Conn returns the live connection, or nil.
func (s State) Conn() Handle { return s.conn }

// Attempt returns the token of the current connection attempt.
func (s State) Attempt() string { return s.attempt }

// Len reports the number of known requests.
func (s State) Len() int { return s.requests.Len() }

// Requests returns the requests in first-seen order.
func (s State) Requests() []*Request { return s.requests.Slice() }

// Request looks up a request by id.
func (s State) Request(id string) (*Request, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.requests.At(i), true
}
