package mxlwb

import (
	"context"
	"errors"

	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/frame"
)

// errStreamClosed is reported when the diagnostic stream ends.
var errStreamClosed = errors.New("diagnostic stream closed")

// DebugMonitor follows an application server's diagnostic stream.
type DebugMonitor struct {
	cfg   config
	url   string
	store *store[dbgtree.State]

	dialCancel context.CancelFunc
	dialing    string
}

// NewDebugMonitor returns a DebugMonitor for the diagnostic stream at url.
func NewDebugMonitor(url string, opts ...Option) *DebugMonitor {
	cfg := newConfig(opts)
	m := &DebugMonitor{
		cfg:   cfg,
		url:   url,
		store: newStore(dbgtree.New(cfg.policy), cfg.logger),
	}
	m.store.effects = m.effects
	m.store.shutdown = m.shutdown
	return m
}

// Run runs the dispatch loop until ctx is done.
func (m *DebugMonitor) Run(ctx context.Context) error {
	return m.store.run(ctx)
}

// State returns the latest snapshot.
func (m *DebugMonitor) State() dbgtree.State { return m.store.state() }

// Subscribe returns a channel of snapshots and a function that ends the
// subscription.
func (m *DebugMonitor) Subscribe() (<-chan dbgtree.State, func()) {
	return m.store.subscribe()
}

// Connect opens the diagnostic stream. It fails with
// dbgtree.ErrAlreadyConnected while a connection is live or being made.
func (m *DebugMonitor) Connect(ctx context.Context) error {
	return m.reduce(ctx, dbgtree.Connecting{Attempt: m.cfg.newID()})
}

// Disconnect closes the diagnostic stream, keeping the tree.
func (m *DebugMonitor) Disconnect(ctx context.Context) error {
	return m.reduce(ctx, dbgtree.Disconnected{})
}

// Clear disconnects and drops the tree.
func (m *DebugMonitor) Clear(ctx context.Context) error {
	return m.reduce(ctx, dbgtree.Clear{})
}

func (m *DebugMonitor) reduce(ctx context.Context, a dbgtree.Action) error {
	return m.store.do(ctx, actionName(a), debugReducer(a))
}

func (m *DebugMonitor) effects(rt *runtime, prev, next dbgtree.State) {
	if c := prev.Conn(); c != nil && c != next.Conn() {
		if err := c.Close(); err != nil {
			m.cfg.logger.Warnw("closing diagnostic stream", "error", err)
		}
	}

	awaiting := ""
	if next.RunState == dbgtree.Connecting {
		awaiting = next.Attempt()
	}
	if m.dialing != "" && m.dialing != awaiting {
		m.dialCancel()
		m.dialCancel, m.dialing = nil, ""
	}
	if awaiting != "" && m.dialing == "" {
		ctx, cancel := context.WithCancel(rt.ctx)
		m.dialCancel, m.dialing = cancel, awaiting
		rt.goFunc(func(context.Context) {
			defer cancel()
			m.stream(ctx, rt.ctx, awaiting)
		})
	}
}

func (m *DebugMonitor) stream(dialCtx, runCtx context.Context, attempt string) {
	log := m.cfg.logger.With("url", m.url)
	conn, err := m.cfg.client.Open(dialCtx, m.url, nil)
	if err != nil {
		if dialCtx.Err() != nil {
			return
		}
		log.Warnw("diagnostic connect failed", "error", err)
		m.store.dispatch(runCtx, "Failed", debugReducer(dbgtree.Failed{Attempt: attempt, Message: err.Error()}))
		return
	}

	accepted := make(chan bool, 1)
	ok := m.store.dispatch(runCtx, "Connected", func(s dbgtree.State) (dbgtree.State, error) {
		next, err := dbgtree.Reduce(s, dbgtree.Connected{Attempt: attempt, Conn: conn})
		accepted <- err == nil
		return next, err
	})
	if !ok || !<-accepted {
		conn.Close()
		return
	}

	for msg := range conn.Messages() {
		e, err := frame.DecodeEvent(msg)
		if err != nil {
			log.Warnw("dropping malformed event", "error", err)
			continue
		}
		a := dbgtree.ReceiveEvent{Conn: conn, Event: e, Received: m.cfg.now()}
		ok := m.store.dispatch(runCtx, "ReceiveEvent", func(s dbgtree.State) (dbgtree.State, error) {
			next, err := dbgtree.Reduce(s, a)
			if errors.Is(err, dbgtree.ErrUnknownEvent) {
				log.Warnw("ignoring event", "error", err)
			}
			return next, err
		})
		if !ok {
			conn.Close()
			return
		}
	}
	err = conn.Err()
	if err == nil {
		err = errStreamClosed
	}
	m.store.dispatch(runCtx, "Failed", debugReducer(dbgtree.Failed{Attempt: attempt, Message: err.Error()}))
}

func (m *DebugMonitor) shutdown(last dbgtree.State) {
	if m.dialCancel != nil {
		m.dialCancel()
	}
	if c := last.Conn(); c != nil {
		c.Close()
	}
}

func debugReducer(a dbgtree.Action) func(dbgtree.State) (dbgtree.State, error) {
	return func(s dbgtree.State) (dbgtree.State, error) {
		return dbgtree.Reduce(s, a)
	}
}
