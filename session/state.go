// Package session implements the workbench session state machine: the
// lifecycle of one request/response exchange with an application server,
// the demultiplexing of its frames into output streams and chat turns, and
// the chat history those turns are committed to.
//
// Reduce is a pure function. A State is never modified after it has been
// returned; every transition produces a new value.
package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tmc/mxlwb/internal/cow"
)

// RunState is the coarse lifecycle phase of an exchange.
type RunState int

const (
	Ready RunState = iota
	Connecting
	Queued
	Generating
	Error
)

func (s RunState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Connecting:
		return "connecting"
	case Queued:
		return "queued"
	case Generating:
		return "generating"
	case Error:
		return "error"
	}
	return "unknown"
}

// Active reports whether an exchange is in progress.
func (s RunState) Active() bool {
	return s == Connecting || s == Queued || s == Generating
}

// Handle is a transport connection owned by a Response. Handles are compared
// by identity and must be comparable (pointer types in practice).
type Handle interface {
	Close() error
}

// Options are fixed per session and consulted by Reduce.
type Options struct {
	// PrimaryStream identifies the main assistant channel. Only its visible
	// text accumulates into chat replies.
	PrimaryStream string
	// ShowHidden is sent to the server with every request.
	ShowHidden bool
	// DoneRequiresPrimaryStream makes done frames tagged with another stream
	// id non-terminal.
	DoneRequiresPrimaryStream bool
}

// DefaultPrimaryStream is the stream id of the main reply channel.
const DefaultPrimaryStream = "0"

// DefaultOptions returns the options the workbench uses unless configured.
func DefaultOptions() Options {
	return Options{PrimaryStream: DefaultPrimaryStream, ShowHidden: true}
}

// DefaultParams is the initial params text.
const DefaultParams = "{\n}"

// PartKind distinguishes output parts.
type PartKind int

const (
	TextPart PartKind = iota
	ErrorPart
)

func (k PartKind) String() string {
	if k == ErrorPart {
		return "error"
	}
	return "text"
}

func (k PartKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PartKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*k = TextPart
	case "error":
		*k = ErrorPart
	default:
		return fmt.Errorf("unknown part kind %q", b)
	}
	return nil
}

// OutputPart is one entry of a response's output. For ErrorPart, Text holds
// the error message.
type OutputPart struct {
	Kind   PartKind `json:"kind"`
	Stream string   `json:"stream,omitempty"`
	Text   string   `json:"text"`
	Hidden bool     `json:"hidden,omitempty"`
}

// Message is one side of a chat turn.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is a user message and the assistant reply it produced.
type ChatTurn struct {
	ID        string
	ChatID    string
	RequestID string
	Message   Message
	Reply     Message
}

// Chat is a named conversation. Turns are in chronological order and must
// not be modified by callers.
type Chat struct {
	ID    string
	Name  string
	Turns []ChatTurn
}

// DefaultChatName names chats created without one.
const DefaultChatName = "Untitled Chat"

// Response is the record of one exchange, from BeginRequest until it is
// cleared or replaced.
type Response struct {
	requestID string
	body      RequestBody
	parts     cow.List[OutputPart]
	streams   cow.List[string]
	console   cow.List[string]
	turn      *ChatTurn
	reply     cow.List[string]
	conn      Handle
}

// RequestID identifies the exchange.
func (r *Response) RequestID() string { return r.requestID }

// Body is the payload sent to the server.
func (r *Response) Body() RequestBody { return r.body }

// Parts returns a copy of the output parts in arrival order.
func (r *Response) Parts() []OutputPart { return r.parts.Slice() }

// PartCount reports the number of output parts.
func (r *Response) PartCount() int { return r.parts.Len() }

// Part returns the i'th output part.
func (r *Response) Part(i int) OutputPart { return r.parts.At(i) }

// Streams returns the stream ids seen so far, in first-seen order.
func (r *Response) Streams() []string { return r.streams.Slice() }

// Console returns the accumulated stdout/stderr passthrough.
func (r *Response) Console() string { return join(r.console) }

// ConsoleCount reports the number of console outputs received.
func (r *Response) ConsoleCount() int { return r.console.Len() }

// ConsoleChunk returns the i'th console output.
func (r *Response) ConsoleChunk(i int) string { return r.console.At(i) }

// ChatTurn returns the turn under construction, if any, with the reply
// received so far.
func (r *Response) ChatTurn() (ChatTurn, bool) {
	if r.turn == nil {
		return ChatTurn{}, false
	}
	t := *r.turn
	t.Reply.Content = join(r.reply)
	return t, true
}

// Conn returns the live connection, or nil once detached.
func (r *Response) Conn() Handle { return r.conn }

// Text concatenates the visible text of stream in arrival order.
func (r *Response) Text(stream string) string {
	var n int
	for _, p := range r.parts.All() {
		if p.Kind == TextPart && !p.Hidden && p.Stream == stream {
			n += len(p.Text)
		}
	}
	b := make([]byte, 0, n)
	for _, p := range r.parts.All() {
		if p.Kind == TextPart && !p.Hidden && p.Stream == stream {
			b = append(b, p.Text...)
		}
	}
	return string(b)
}

func join(l cow.List[string]) string {
	n := 0
	for _, s := range l.All() {
		n += len(s)
	}
	var b strings.Builder
	b.Grow(n)
	for _, s := range l.All() {
		b.WriteString(s)
	}
	return b.String()
}

func (r *Response) clone() *Response {
	c := *r
	return &c
}

// State is the complete session state of one workbench.
type State struct {
	RunState RunState
	Params   string
	Options  Options

	response *Response
	chats    []Chat
}

// New returns the initial session state.
func New(opts Options) State {
	return State{RunState: Ready, Params: DefaultParams, Options: opts}
}

// Response returns the current exchange record, or nil.
func (s State) Response() *Response { return s.response }

// Conn returns the connection held by the current response, or nil.
func (s State) Conn() Handle {
	if s.response == nil {
		return nil
	}
	return s.response.conn
}

// Chats returns the chats in creation order.
func (s State) Chats() []Chat { return slices.Clone(s.chats) }

// Chat looks up a chat by id.
func (s State) Chat(id string) (Chat, bool) {
	if i := s.chatIndex(id); i >= 0 {
		return s.chats[i], true
	}
	return Chat{}, false
}

func (s State) chatIndex(id string) int {
	return slices.IndexFunc(s.chats, func(c Chat) bool { return c.ID == id })
}
