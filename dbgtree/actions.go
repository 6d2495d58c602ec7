package dbgtree

import (
	"time"

	"github.com/tmc/mxlwb/frame"
)

// Action is an input to Reduce.
type Action interface {
	action()
}

// Connecting starts a connection attempt identified by Attempt.
type Connecting struct {
	Attempt string
}

// Connected attaches the connection opened by Attempt.
type Connected struct {
	Attempt string
	Conn    Handle
}

// Disconnected is a user-initiated disconnect. It is always accepted.
type Disconnected struct{}

// Failed reports that Attempt could not connect or lost its connection.
type Failed struct {
	Attempt string
	Message string
}

// Clear drops all requests and disconnects.
type Clear struct{}

// ReceiveEvent folds one event received on Conn at Received.
type ReceiveEvent struct {
	Conn     Handle
	Event    frame.Event
	Received time.Time
}

func (Connecting) action()   {}
func (Connected) action()    {}
func (Disconnected) action() {}
func (Failed) action()       {}
func (Clear) action()        {}
func (ReceiveEvent) action() {}
