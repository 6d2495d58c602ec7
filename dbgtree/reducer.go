package dbgtree

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/tmc/mxlwb/frame"
	"github.com/tmc/mxlwb/internal/cow"
)

var (
	// ErrAlreadyConnected rejects a connection attempt while one is live or
	// in progress.
	ErrAlreadyConnected = errors.New("diagnostic connection already in progress")
	// ErrStaleConnection marks transport actions for an attempt or connection
	// that is no longer current. State is unchanged.
	ErrStaleConnection = errors.New("stale diagnostic connection")
	// ErrUnknownEvent reports an event whose type or subtype is not
	// recognized. State is unchanged.
	ErrUnknownEvent = errors.New("unknown diagnostic event")
)

// Reduce returns the state that follows s after a. s is not modified.
func Reduce(s State, a Action) (State, error) {
	switch a := a.(type) {
	case Connecting:
		if s.RunState == Connecting || s.RunState == Streaming {
			return s, ErrAlreadyConnected
		}
		s.RunState = Connecting
		s.Err = ""
		s.attempt = a.Attempt
		return s, nil
	case Connected:
		if s.RunState != Connecting || a.Attempt != s.attempt {
			return s, ErrStaleConnection
		}
		s.RunState = Streaming
		s.conn = a.Conn
		return s, nil
	case Disconnected:
		s.RunState = Ready
		s.Err = ""
		s.conn = nil
		s.attempt = ""
		return s, nil
	case Failed:
		if !(s.RunState == Connecting || s.RunState == Streaming) || a.Attempt != s.attempt {
			return s, ErrStaleConnection
		}
		s.RunState = Error
		s.Err = a.Message
		s.conn = nil
		return s, nil
	case Clear:
		s.RunState = Ready
		s.Err = ""
		s.conn = nil
		s.attempt = ""
		s.requests = cow.Vec[*Request]{}
		s.index = nil
		return s, nil
	case ReceiveEvent:
		if s.RunState != Streaming || s.conn == nil || s.conn != a.Conn {
			return s, ErrStaleConnection
		}
		return applyEvent(s, a.Event, a.Received)
	}
	return s, fmt.Errorf("dbgtree: unknown action %T", a)
}

func applyEvent(s State, e frame.Event, received time.Time) (State, error) {
	h := e.EventHeader()
	arrival := h.TS
	if !received.IsZero() {
		arrival = frame.Timestamp(received.UnixMilli())
	}
	switch e := e.(type) {
	case frame.RequestStart:
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			r.Placeholder = false
			r.URL = e.URL
			r.Method = e.Method
			r.StartTS = h.TS
			// Values from an earlier use of the id are dropped. Values that
			// raced ahead of this start are kept.
			if r.ResponseSentTS.Valid && r.ResponseSentTS.TS < h.TS {
				r.Status = 0
				r.ResponseSentTS = NullTimestamp{}
			}
			if r.FinishTS.Valid && r.FinishTS.TS < h.TS {
				r.FinishTS = NullTimestamp{}
			}
		}), nil
	case frame.ResponseSent:
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			r.Status = e.Status
			r.ResponseSentTS = stamp(h.TS)
		}), nil
	case frame.RequestFinish:
		closeSeqs := s.Policy.CloseSeqsOnFinish
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			r.FinishTS = stamp(h.TS)
			if !closeSeqs {
				return
			}
			for _, q := range r.seqs.All() {
				if q.Open {
					updateSeq(r, q.ID, func(q *Seq) {
						q.Open = false
						q.CloseTS = stamp(h.TS)
					})
				}
			}
		}), nil
	case frame.SeqOpen:
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			updateSeq(r, e.SeqID, func(q *Seq) {
				q.Placeholder = false
				q.OpenTS = stamp(h.TS)
				// A close stamped at or after this open has already been seen.
				if q.CloseTS.Valid && q.CloseTS.TS >= h.TS {
					return
				}
				q.Open = true
				q.CloseTS = NullTimestamp{}
			})
		}), nil
	case frame.SeqChunk:
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			updateSeq(r, e.SeqID, func(q *Seq) {
				q.chunks = q.chunks.Append(Chunk{TS: h.TS, Text: e.Chunk, Hidden: e.Hidden, CommandID: e.CommandID})
			})
		}), nil
	case frame.SeqClose:
		return updateRequest(s, h.RequestID, arrival, func(r *Request) {
			updateSeq(r, e.SeqID, func(q *Seq) {
				q.Open = false
				q.CloseTS = stamp(h.TS)
			})
		}), nil
	}
	return s, fmt.Errorf("%w: %s/%s", ErrUnknownEvent, h.Type, h.Subtype)
}

// updateRequest applies fn to a copy of request id, creating a placeholder
// first if the id is unknown, and returns the state holding the copy.
// Updating a known request copies only its path in s.requests; a new id also
// copies the id index.
func updateRequest(s State, id string, arrival frame.Timestamp, fn func(*Request)) State {
	i, ok := s.index[id]
	var r Request
	if ok {
		r = *s.requests.At(i)
	} else {
		r = Request{ID: id, Placeholder: true, StartTS: arrival}
	}
	fn(&r)
	if ok {
		s.requests = s.requests.Set(i, &r)
		return s
	}
	index := make(map[string]int, len(s.index)+1)
	maps.Copy(index, s.index)
	index[id] = s.requests.Len()
	s.index = index
	s.requests = s.requests.Append(&r)
	return s
}

// updateSeq applies fn to a copy of sequence id of r, which must itself be a
// private copy. Unknown ids get a closed, empty placeholder.
func updateSeq(r *Request, id string, fn func(*Seq)) {
	i := r.seqIndex(id)
	var q Seq
	if i >= 0 {
		q = *r.seqs.At(i)
	} else {
		q = Seq{ID: id, Placeholder: true}
	}
	fn(&q)
	if i >= 0 {
		r.seqs = r.seqs.Set(i, &q)
		return
	}
	r.seqs = r.seqs.Append(&q)
}
