package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tmc/mxlwb/frame"
	"github.com/tmc/mxlwb/internal/cow"
)

// errClosedBeforeDone is the output of a stream that ended without done.
var errClosedBeforeDone = errors.New("connection closed before done")

// Reduce returns the state that follows s after a. s is not modified.
//
// A non-nil error leaves the state unchanged: user errors (see IsUserError)
// must be reported to whoever initiated a; ErrStaleConnection marks transport
// actions that arrived after their exchange was over.
func Reduce(s State, a Action) (State, error) {
	switch a := a.(type) {
	case SetParams:
		s.Params = a.Params
		return s, nil
	case BeginRequest:
		return beginRequest(s, a.RequestID)
	case BeginChatRequest:
		return beginChatRequest(s, a.RequestID, a.ChatID, a.TurnID, a.Message)
	case RequestQueued:
		if !s.isCurrent(a.RequestID) || (s.RunState != Connecting && s.RunState != Queued) {
			return s, ErrStaleConnection
		}
		s.RunState = Queued
		return s, nil
	case RequestConnected:
		if !s.isCurrent(a.RequestID) || (s.RunState != Connecting && s.RunState != Queued) {
			return s, ErrStaleConnection
		}
		r := s.response.clone()
		r.conn = a.Conn
		s.response = r
		s.RunState = Generating
		return s, nil
	case ConnectFailed:
		if !s.isCurrent(a.RequestID) || (s.RunState != Connecting && s.RunState != Queued) {
			return s, ErrStaleConnection
		}
		msg := "connect failed"
		if a.Err != nil {
			msg = a.Err.Error()
		}
		return fail(s, "", msg), nil
	case ReceiveFrame:
		if s.RunState != Generating || s.Conn() == nil || s.Conn() != a.Conn {
			return s, ErrStaleConnection
		}
		return receiveFrame(s, a.Frame), nil
	case ConnectionLost:
		if s.RunState != Generating || s.Conn() == nil || s.Conn() != a.Conn {
			return s, ErrStaleConnection
		}
		err := a.Err
		if err == nil {
			err = errClosedBeforeDone
		}
		return fail(s, "", err.Error()), nil
	case StopRequest:
		return stopRequest(s), nil
	case ClearOutput:
		if s.RunState.Active() {
			s.RunState = Ready
		}
		s.response = nil
		return s, nil
	case CreateChat:
		return createChat(s, a.ID, a.Name)
	case RenameChat:
		i := s.chatIndex(a.ChatID)
		if i < 0 {
			return s, nil
		}
		s.chats = slices.Clone(s.chats)
		s.chats[i].Name = a.Name
		return s, nil
	case DeleteChat:
		return deleteChat(s, a.ChatID)
	case RegenerateLastTurn:
		return regenerateLastTurn(s, a)
	case DeleteChatTurn:
		return deleteChatTurn(s, a.ChatID, a.TurnID), nil
	}
	return s, fmt.Errorf("session: unknown action %T", a)
}

func (s State) isCurrent(requestID string) bool {
	return s.response != nil && s.response.requestID == requestID
}

func beginRequest(s State, requestID string) (State, error) {
	if s.RunState.Active() {
		return s, ErrRequestInProgress
	}
	params, err := ParseParams(s.Params)
	if err != nil {
		return s, err
	}
	body, err := newBody(s.Options, params, nil)
	if err != nil {
		return s, err
	}
	s.response = &Response{requestID: requestID, body: body}
	s.RunState = Connecting
	return s, nil
}

func beginChatRequest(s State, requestID, chatID, turnID, message string) (State, error) {
	if s.RunState.Active() {
		return s, ErrRequestInProgress
	}
	chat, ok := s.Chat(chatID)
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	params, err := ParseParams(s.Params)
	if err != nil {
		return s, err
	}
	msgs := append(chatMessages(chat), WireMessage{Role: RoleUser, Text: message})
	body, err := newBody(s.Options, params, msgs)
	if err != nil {
		return s, err
	}
	s.response = &Response{
		requestID: requestID,
		body:      body,
		turn: &ChatTurn{
			ID:        turnID,
			ChatID:    chatID,
			RequestID: requestID,
			Message:   Message{Role: RoleUser, Content: message},
			Reply:     Message{Role: RoleAssistant},
		},
	}
	s.RunState = Connecting
	return s, nil
}

func receiveFrame(s State, f frame.Frame) State {
	r := s.response.clone()
	switch f := f.(type) {
	case frame.TextFrame:
		r.parts = r.parts.Append(OutputPart{Kind: TextPart, Stream: f.Stream, Text: f.Text, Hidden: f.Hidden})
		r.streams = registerStream(r.streams, f.Stream)
		if r.turn != nil && !f.Hidden && f.Stream == s.Options.PrimaryStream {
			r.reply = r.reply.Append(f.Text)
		}
	case frame.ErrorFrame:
		s.response = r
		return fail(s, f.Stream, f.Message)
	case frame.ConsoleFrame:
		r.console = r.console.Append(f.Output)
	case frame.DoneFrame:
		if s.Options.DoneRequiresPrimaryStream && f.Stream != "" && f.Stream != s.Options.PrimaryStream {
			r.streams = registerStream(r.streams, f.Stream)
			break
		}
		s.response = r
		return finish(s)
	}
	s.response = r
	return s
}

// fail records an error part, detaches the connection and enters Error. An
// in-flight chat turn stays with the response uncommitted.
func fail(s State, stream, message string) State {
	r := s.response.clone()
	r.parts = r.parts.Append(OutputPart{Kind: ErrorPart, Stream: stream, Text: message})
	r.streams = registerStream(r.streams, stream)
	r.conn = nil
	s.response = r
	s.RunState = Error
	return s
}

// finish commits the in-flight turn, detaches the connection and enters Ready.
func finish(s State) State {
	r := s.response.clone()
	if t, ok := r.ChatTurn(); ok {
		s.chats = commitTurn(s.chats, t)
		r.turn = nil
		r.reply = cow.List[string]{}
	}
	r.conn = nil
	s.response = r
	s.RunState = Ready
	return s
}

// stopRequest ends an active exchange the way a done frame would. The
// in-flight turn is committed with whatever reply it has, even if nothing
// arrived yet.
func stopRequest(s State) State {
	if !s.RunState.Active() {
		return s
	}
	if s.response == nil {
		s.RunState = Ready
		return s
	}
	return finish(s)
}

func registerStream(streams cow.List[string], id string) cow.List[string] {
	if id == "" {
		return streams
	}
	for _, s := range streams.All() {
		if s == id {
			return streams
		}
	}
	return streams.Append(id)
}

func commitTurn(chats []Chat, t ChatTurn) []Chat {
	i := slices.IndexFunc(chats, func(c Chat) bool { return c.ID == t.ChatID })
	if i < 0 {
		return chats
	}
	chats = slices.Clone(chats)
	chats[i].Turns = append(slices.Clip(chats[i].Turns), t)
	return chats
}

func createChat(s State, id, name string) (State, error) {
	if id == "" {
		return s, ErrInvalidChatID
	}
	if s.chatIndex(id) >= 0 {
		return s, fmt.Errorf("%w: %s", ErrDuplicateChat, id)
	}
	if name == "" {
		name = DefaultChatName
	}
	s.chats = append(slices.Clip(s.chats), Chat{ID: id, Name: name})
	return s, nil
}

func deleteChat(s State, id string) (State, error) {
	i := s.chatIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if t, ok := s.inFlightTurn(); ok && t.ChatID == id {
		return s, ErrChatBusy
	}
	s.chats = slices.Delete(slices.Clone(s.chats), i, i+1)
	return s, nil
}

func (s State) inFlightTurn() (ChatTurn, bool) {
	if !s.RunState.Active() || s.response == nil {
		return ChatTurn{}, false
	}
	return s.response.ChatTurn()
}

func regenerateLastTurn(s State, a RegenerateLastTurn) (State, error) {
	if s.RunState.Active() {
		return s, ErrRequestInProgress
	}
	i := s.chatIndex(a.ChatID)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrChatNotFound, a.ChatID)
	}
	turns := s.chats[i].Turns
	if len(turns) == 0 {
		return s, fmt.Errorf("%w: %s", ErrNoTurns, a.ChatID)
	}
	last := turns[len(turns)-1]
	next := s
	next.chats = slices.Clone(s.chats)
	next.chats[i].Turns = slices.Clip(turns[:len(turns)-1])
	next, err := beginChatRequest(next, a.RequestID, a.ChatID, a.TurnID, last.Message.Content)
	if err != nil {
		return s, err
	}
	return next, nil
}

func deleteChatTurn(s State, chatID, turnID string) State {
	i := s.chatIndex(chatID)
	if i < 0 {
		return s
	}
	j := slices.IndexFunc(s.chats[i].Turns, func(t ChatTurn) bool { return t.ID == turnID })
	if j < 0 {
		return s
	}
	s.chats = slices.Clone(s.chats)
	s.chats[i].Turns = slices.Delete(slices.Clone(s.chats[i].Turns), j, j+1)
	return s
}
