package mxlwb

import (
	"context"
	"errors"

	"github.com/tmc/mxlwb/frame"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/transport"
)

// Workbench sends requests to an application server and tracks the session.
type Workbench struct {
	cfg     config
	baseURL string
	store   *store[session.State]

	// dialCancel and dialing belong to the loop goroutine.
	dialCancel context.CancelFunc
	dialing    string
}

// NewWorkbench returns a Workbench for the server at baseURL. It does
// nothing until Run is called.
func NewWorkbench(baseURL string, opts ...Option) *Workbench {
	cfg := newConfig(opts)
	w := &Workbench{
		cfg:     cfg,
		baseURL: baseURL,
		store:   newStore(session.New(cfg.session), cfg.logger),
	}
	w.store.effects = w.effects
	w.store.shutdown = w.shutdown
	return w
}

// Run runs the dispatch loop until ctx is done, then closes any live
// connection.
func (w *Workbench) Run(ctx context.Context) error {
	return w.store.run(ctx)
}

// State returns the latest session snapshot.
func (w *Workbench) State() session.State { return w.store.state() }

// Subscribe returns a channel of session snapshots, starting with the
// current one, and a function that ends the subscription. The channel is
// closed when Run returns.
func (w *Workbench) Subscribe() (<-chan session.State, func()) {
	return w.store.subscribe()
}

// SetParams replaces the params text. It is parsed when a request is sent.
func (w *Workbench) SetParams(ctx context.Context, text string) error {
	return w.reduce(ctx, session.SetParams{Params: text})
}

// SendRequest starts a raw request with the current params and returns its id.
func (w *Workbench) SendRequest(ctx context.Context) (string, error) {
	id := w.cfg.newID()
	return id, w.reduce(ctx, session.BeginRequest{RequestID: id})
}

// SendChatMessage sends message as the next turn of chat chatID and returns
// the turn id.
func (w *Workbench) SendChatMessage(ctx context.Context, chatID, message string) (string, error) {
	turnID := w.cfg.newID()
	return turnID, w.reduce(ctx, session.BeginChatRequest{
		RequestID: w.cfg.newID(),
		ChatID:    chatID,
		TurnID:    turnID,
		Message:   message,
	})
}

// StopRequest ends the current exchange, keeping any partial reply. It is a
// no-op when nothing is in progress.
func (w *Workbench) StopRequest(ctx context.Context) error {
	return w.reduce(ctx, session.StopRequest{})
}

// ClearOutput discards the current response, stopping it first if needed.
func (w *Workbench) ClearOutput(ctx context.Context) error {
	return w.reduce(ctx, session.ClearOutput{})
}

// CreateChat creates an empty chat and returns its id.
func (w *Workbench) CreateChat(ctx context.Context, name string) (string, error) {
	id := w.cfg.newID()
	return id, w.reduce(ctx, session.CreateChat{ID: id, Name: name})
}

// RenameChat renames a chat. Unknown ids are ignored.
func (w *Workbench) RenameChat(ctx context.Context, chatID, name string) error {
	return w.reduce(ctx, session.RenameChat{ChatID: chatID, Name: name})
}

// DeleteChat deletes a chat. A reply in progress for the chat is stopped
// first.
func (w *Workbench) DeleteChat(ctx context.Context, chatID string) error {
	return w.store.do(ctx, "DeleteChat", func(s session.State) (session.State, error) {
		next, err := session.Reduce(s, session.DeleteChat{ChatID: chatID})
		if !errors.Is(err, session.ErrChatBusy) {
			return next, err
		}
		if s, err = session.Reduce(s, session.StopRequest{}); err != nil {
			return s, err
		}
		return session.Reduce(s, session.DeleteChat{ChatID: chatID})
	})
}

// RegenerateLastTurn drops the chat's last turn and sends its message again.
// A chat without turns is left alone.
func (w *Workbench) RegenerateLastTurn(ctx context.Context, chatID string) error {
	err := w.reduce(ctx, session.RegenerateLastTurn{
		RequestID: w.cfg.newID(),
		ChatID:    chatID,
		TurnID:    w.cfg.newID(),
	})
	if errors.Is(err, session.ErrNoTurns) {
		w.cfg.logger.Infow("nothing to regenerate", "chat", chatID)
		return nil
	}
	return err
}

// DeleteChatTurn removes a turn from a chat's history.
func (w *Workbench) DeleteChatTurn(ctx context.Context, chatID, turnID string) error {
	return w.reduce(ctx, session.DeleteChatTurn{ChatID: chatID, TurnID: turnID})
}

func (w *Workbench) reduce(ctx context.Context, a session.Action) error {
	return w.store.do(ctx, actionName(a), func(s session.State) (session.State, error) {
		return session.Reduce(s, a)
	})
}

// effects closes connections that left the state and dials new requests.
func (w *Workbench) effects(rt *runtime, prev, next session.State) {
	if c := prev.Conn(); c != nil && c != next.Conn() {
		w.closeConn(c)
	}

	awaiting := ""
	if r := next.Response(); r != nil && (next.RunState == session.Connecting || next.RunState == session.Queued) {
		awaiting = r.RequestID()
	}
	if w.dialing != "" && w.dialing != awaiting {
		w.dialCancel()
		w.dialCancel, w.dialing = nil, ""
	}
	if awaiting != "" && w.dialing == "" {
		ctx, cancel := context.WithCancel(rt.ctx)
		w.dialCancel, w.dialing = cancel, awaiting
		body := next.Response().Body()
		rt.goFunc(func(context.Context) {
			defer cancel()
			w.stream(ctx, rt.ctx, awaiting, body)
		})
	}
}

// stream dials request id and pumps its frames into the loop. dialCtx bounds
// the dial only; runCtx bounds delivery.
func (w *Workbench) stream(dialCtx, runCtx context.Context, id string, body session.RequestBody) {
	log := w.cfg.logger.With("request", id)
	conn, err := w.cfg.client.Open(dialCtx, w.baseURL, body, transport.OnRetry(func(attempt int, err error) {
		log.Infow("connect failed, retrying", "attempt", attempt, "error", err)
		w.store.dispatch(runCtx, "RequestQueued", reducer(session.RequestQueued{RequestID: id, Attempt: attempt, Err: err}))
	}))
	if err != nil {
		if dialCtx.Err() != nil {
			log.Debugw("dial abandoned", "error", err)
			return
		}
		log.Warnw("connect failed", "error", err)
		w.store.dispatch(runCtx, "ConnectFailed", reducer(session.ConnectFailed{RequestID: id, Err: err}))
		return
	}

	accepted := make(chan bool, 1)
	ok := w.store.dispatch(runCtx, "RequestConnected", func(s session.State) (session.State, error) {
		next, err := session.Reduce(s, session.RequestConnected{RequestID: id, Conn: conn})
		accepted <- err == nil
		return next, err
	})
	if !ok || !<-accepted {
		conn.Close()
		return
	}
	log.Debugw("connected")

	for msg := range conn.Messages() {
		f, err := frame.DecodeFrame(msg)
		switch {
		case errors.Is(err, frame.ErrIgnoredFrame):
			log.Debugw("ignored frame", "frame", string(msg))
			continue
		case err != nil:
			log.Warnw("dropping malformed frame", "error", err)
			continue
		}
		if !w.store.dispatch(runCtx, "ReceiveFrame", reducer(session.ReceiveFrame{Conn: conn, Frame: f})) {
			conn.Close()
			return
		}
	}
	w.store.dispatch(runCtx, "ConnectionLost", reducer(session.ConnectionLost{Conn: conn, Err: conn.Err()}))
}

func (w *Workbench) closeConn(c session.Handle) {
	if err := c.Close(); err != nil {
		w.cfg.logger.Warnw("closing connection", "error", err)
	}
}

func (w *Workbench) shutdown(last session.State) {
	if w.dialCancel != nil {
		w.dialCancel()
	}
	if c := last.Conn(); c != nil {
		w.closeConn(c)
	}
}

func reducer(a session.Action) func(session.State) (session.State, error) {
	return func(s session.State) (session.State, error) {
		return session.Reduce(s, a)
	}
}
