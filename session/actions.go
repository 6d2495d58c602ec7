package session

import "github.com/tmc/mxlwb/frame"

// Action is an input to Reduce.
type Action interface {
	action()
}

// SetParams replaces the params text. It is parsed when a request is sent.
type SetParams struct {
	Params string
}

// BeginRequest starts a raw exchange with the current params.
type BeginRequest struct {
	RequestID string
}

// BeginChatRequest starts a chat exchange: the chat's history plus Message.
type BeginChatRequest struct {
	RequestID string
	ChatID    string
	TurnID    string
	Message   string
}

// RequestQueued reports that dialing failed and will be retried.
type RequestQueued struct {
	RequestID string
	Attempt   int
	Err       error
}

// RequestConnected attaches the transport connection of RequestID.
type RequestConnected struct {
	RequestID string
	Conn      Handle
}

// ConnectFailed reports that the connection for RequestID could not be
// established.
type ConnectFailed struct {
	RequestID string
	Err       error
}

// ReceiveFrame folds one frame delivered on Conn.
type ReceiveFrame struct {
	Conn  Handle
	Frame frame.Frame
}

// ConnectionLost reports that Conn ended without a done frame. Err is nil
// for a clean end of stream.
type ConnectionLost struct {
	Conn Handle
	Err  error
}

// StopRequest ends the active exchange, keeping partial chat output.
type StopRequest struct{}

// ClearOutput discards the current response.
type ClearOutput struct{}

// CreateChat appends an empty chat. ID must be unique.
type CreateChat struct {
	ID   string
	Name string
}

// RenameChat renames a chat; unknown ids are ignored.
type RenameChat struct {
	ChatID string
	Name   string
}

// DeleteChat removes a chat.
type DeleteChat struct {
	ChatID string
}

// RegenerateLastTurn drops a chat's last turn and resends its message.
type RegenerateLastTurn struct {
	RequestID string
	ChatID    string
	TurnID    string
}

// DeleteChatTurn removes a committed turn; unknown ids are ignored.
type DeleteChatTurn struct {
	ChatID string
	TurnID string
}

func (SetParams) action()          {}
func (BeginRequest) action()       {}
func (BeginChatRequest) action()   {}
func (RequestQueued) action()      {}
func (RequestConnected) action()   {}
func (ConnectFailed) action()      {}
func (ReceiveFrame) action()       {}
func (ConnectionLost) action()     {}
func (StopRequest) action()        {}
func (ClearOutput) action()        {}
func (CreateChat) action()         {}
func (RenameChat) action()         {}
func (DeleteChat) action()         {}
func (RegenerateLastTurn) action() {}
func (DeleteChatTurn) action()     {}
