// Package mxlwb drives an application server workbench. A Workbench sends
// requests and chat messages to the server and folds the streamed reply into
// a session.State; a DebugMonitor follows the server's diagnostic stream and
// reconstructs its request tree into a dbgtree.State.
//
// Both run a single dispatch loop (see Run). Intents block until the loop has
// applied them and return the reducer's verdict; snapshots are available from
// State and Subscribe.
package mxlwb

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/transport"
	"go.uber.org/zap"
)

type config struct {
	logger  *zap.SugaredLogger
	client  *transport.Client
	session session.Options
	policy  dbgtree.Policy
	newID   func() string
	now     func() time.Time
}

func newConfig(opts []Option) config {
	c := config{
		logger:  zap.NewNop().Sugar(),
		session: session.DefaultOptions(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.client == nil {
		c.client = transport.NewClient(transport.WithLogger(c.logger))
	}
	return c
}

// Option configures a Workbench or DebugMonitor.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithClient sets the transport client used to open streams.
func WithClient(cl *transport.Client) Option {
	return func(c *config) {
		c.client = cl
	}
}

// WithSessionOptions sets the options of the Workbench session.
func WithSessionOptions(o session.Options) Option {
	return func(c *config) {
		c.session = o
	}
}

// WithPolicy sets the reconciliation policy of a DebugMonitor.
func WithPolicy(p dbgtree.Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithIDGenerator replaces the generator of chat, turn and request ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		c.newID = fn
	}
}

func actionName(a any) string {
	name := fmt.Sprintf("%T", a)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
