package dbgtree

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/tmc/mxlwb/frame"
)

var permutations = [][3]int{
	{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
}

func apply(s State, conn Handle, events ...frame.Event) (State, error) {
	var err error
	for _, e := range events {
		if s, err = Reduce(s, ReceiveEvent{Conn: conn, Event: e}); err != nil {
			return s, err
		}
	}
	return s, nil
}

func connected() (State, Handle) {
	conn := &fakeConn{}
	s, _ := Reduce(New(Policy{}), Connecting{Attempt: "a"})
	s, _ = Reduce(s, Connected{Attempt: "a", Conn: conn})
	return s, conn
}

func TestProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("request fields do not depend on arrival order", prop.ForAll(
		func(perm int, status int, base int64) bool {
			ts := frame.Timestamp(base)
			canonical := []frame.Event{start("r", ts, "/gen"), sent("r", ts+1, status), finished("r", ts+2)}
			p := permutations[perm]
			shuffled := []frame.Event{canonical[p[0]], canonical[p[1]], canonical[p[2]]}

			s, conn := connected()
			want, err := apply(s, conn, canonical...)
			if err != nil {
				return false
			}
			got, err := apply(s, conn, shuffled...)
			if err != nil {
				return false
			}
			replayed, err := apply(got, conn, canonical...)
			if err != nil {
				return false
			}
			w, _ := want.Request("r")
			for _, st := range []State{got, replayed} {
				r, _ := st.Request("r")
				if st.Len() != 1 || r.Placeholder ||
					r.URL != w.URL || r.Method != w.Method || r.Status != w.Status ||
					r.ResponseSentTS != w.ResponseSentTS || r.FinishTS != w.FinishTS {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(permutations)-1),
		gen.IntRange(100, 599),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("chunks keep arrival order and count", prop.ForAll(
		func(texts []string, noise []int) bool {
			s, conn := connected()
			var err error
			for i, text := range texts {
				events := []frame.Event{seqChunk("r", "s", frame.Timestamp(len(texts)-i), text)}
				if i < len(noise) {
					other := "s" + strconv.Itoa(noise[i])
					events = append(events, seqChunk("r", other, 1, "noise"), seqOpen("r", other, 1))
				}
				if s, err = apply(s, conn, events...); err != nil {
					return false
				}
			}
			if len(texts) == 0 {
				return s.Len() == 0
			}
			r, _ := s.Request("r")
			q, _ := r.Seq("s")
			chunks := q.Chunks()
			if len(chunks) != len(texts) {
				return false
			}
			for i, c := range chunks {
				if c.Text != texts[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(1, 3)),
	))

	properties.Property("a connection is held only while streaming", prop.ForAll(
		func(ops []int) bool {
			s := New(Policy{})
			conns := 0
			for i, op := range ops {
				attempt := fmt.Sprint(i)
				var a Action
				switch op {
				case 0:
					a = Connecting{Attempt: attempt}
				case 1:
					conns++
					a = Connected{Attempt: s.Attempt(), Conn: &fakeConn{id: conns}}
				case 2:
					a = Failed{Attempt: s.Attempt(), Message: "lost"}
				case 3:
					a = Disconnected{}
				case 4:
					a = Clear{}
				default:
					a = ReceiveEvent{Conn: s.Conn(), Event: start(attempt, 1, "/")}
				}
				s, _ = Reduce(s, a)
				if (s.Conn() != nil) != (s.RunState == Streaming) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
