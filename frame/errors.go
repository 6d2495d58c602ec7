package frame

import "fmt"

// ProtocolError reports an inbound frame or event that could not be decoded.
// Protocol errors are per-message: the caller drops the message and keeps the
// stream open.
type ProtocolError struct {
	Source string // "frame" or "event"
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%s]: %v", e.Source, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
