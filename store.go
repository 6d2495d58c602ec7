package mxlwb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned by intents issued after Run has returned.
var ErrNotRunning = errors.New("mxlwb: controller is not running")

// A store owns a reducer state on a single goroutine. Every transition, from
// user intents and transport deliveries alike, is applied by that goroutine in
// the order it was submitted.
type store[S any] struct {
	logger *zap.SugaredLogger
	inbox  chan message[S]
	done   chan struct{}
	cur    atomic.Pointer[S]

	// effects runs on the loop goroutine after each transition.
	effects func(rt *runtime, prev, next S)
	// shutdown runs on the loop goroutine when Run is stopping.
	shutdown func(last S)

	mu     sync.Mutex
	subs   map[chan S]struct{}
	closed bool
}

type message[S any] struct {
	name  string
	apply func(S) (S, error)
	reply chan error
}

// runtime is what effects may use to start work.
type runtime struct {
	ctx   context.Context
	group *errgroup.Group
}

func (rt *runtime) goFunc(fn func(ctx context.Context)) {
	rt.group.Go(func() error {
		fn(rt.ctx)
		return nil
	})
}

func newStore[S any](initial S, logger *zap.SugaredLogger) *store[S] {
	s := &store[S]{
		logger: logger,
		inbox:  make(chan message[S]),
		done:   make(chan struct{}),
		subs:   make(map[chan S]struct{}),
	}
	s.cur.Store(&initial)
	return s
}

// run applies messages until ctx is done. It must be called at most once.
func (s *store[S]) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	rt := &runtime{ctx: ctx, group: g}
	g.Go(func() error {
		defer close(s.done)
		state := *s.cur.Load()
		for {
			select {
			case <-ctx.Done():
				if s.shutdown != nil {
					s.shutdown(state)
				}
				s.closeSubscribers()
				return nil
			case m := <-s.inbox:
				next, err := m.apply(state)
				if err != nil {
					if m.reply != nil {
						m.reply <- err
					} else {
						s.logger.Debugw("action rejected", "action", m.name, "error", err)
					}
					continue
				}
				prev := state
				state = next
				s.cur.Store(&next)
				s.publish(next)
				if s.effects != nil {
					s.effects(rt, prev, next)
				}
				if m.reply != nil {
					m.reply <- nil
				}
			}
		}
	})
	return g.Wait()
}

// do applies fn on the loop and waits for the outcome.
func (s *store[S]) do(ctx context.Context, name string, fn func(S) (S, error)) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- message[S]{name: name, apply: fn, reply: reply}:
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// dispatch submits fn without waiting for it to be applied. Rejections are
// logged. It reports false if ctx ended or the loop stopped first.
func (s *store[S]) dispatch(ctx context.Context, name string, fn func(S) (S, error)) bool {
	select {
	case s.inbox <- message[S]{name: name, apply: fn}:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *store[S]) state() S {
	return *s.cur.Load()
}

// subscribe returns a channel that receives the latest state after each
// transition. Intermediate states are skipped if the receiver falls behind.
func (s *store[S]) subscribe() (<-chan S, func()) {
	ch := make(chan S, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.state()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *store[S]) publish(v S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (s *store[S]) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
