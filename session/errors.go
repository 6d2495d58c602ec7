package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestInProgress rejects a new exchange while one is active.
	ErrRequestInProgress = errors.New("request already in progress")
	// ErrChatNotFound reports an unknown chat id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrDuplicateChat rejects creating a chat with an id already in use.
	ErrDuplicateChat = errors.New("chat id already exists")
	// ErrInvalidChatID rejects an empty chat id.
	ErrInvalidChatID = errors.New("chat id must not be empty")
	// ErrChatBusy rejects deleting a chat whose turn is in flight.
	ErrChatBusy = errors.New("chat has a reply in progress")
	// ErrNoTurns rejects regenerating a chat without turns.
	ErrNoTurns = errors.New("chat has no turns")
	// ErrStaleConnection marks transport actions for a connection or request
	// that is no longer current. State is unchanged.
	ErrStaleConnection = errors.New("stale connection")
)

// ParamsError reports params text that is not a JSON object.
type ParamsError struct {
	Err error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params: %v", e.Err)
}

func (e *ParamsError) Unwrap() error {
	return e.Err
}

// IsUserError reports whether err was caused by invalid user input rather than
// the transport.
func IsUserError(err error) bool {
	var perr *ParamsError
	return errors.As(err, &perr) ||
		errors.Is(err, ErrRequestInProgress) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrDuplicateChat) ||
		errors.Is(err, ErrInvalidChatID) ||
		errors.Is(err, ErrChatBusy) ||
		errors.Is(err, ErrNoTurns)
}
