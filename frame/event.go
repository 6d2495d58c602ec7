package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Event types and subtypes of the diagnostic stream.
const (
	TypeHTTP = "wasm_http"
	TypeSeq  = "seq"

	SubtypeRequestStart  = "wasm_http_request_start"
	SubtypeResponseSent  = "wasm_http_response_sent"
	SubtypeRequestFinish = "wasm_http_request_finish"
	SubtypeSeqOpen       = "seq_open"
	SubtypeSeqChunk      = "seq_chunk"
	SubtypeSeqClose      = "seq_close"
)

// Timestamp is a diagnostic event time in milliseconds. It decodes from
// integer or fractional JSON numbers.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("timestamp %s out of range", b)
	}
	*t = Timestamp(f)
	return nil
}

// Header is carried by every diagnostic event.
type Header struct {
	Type      string
	Subtype   string
	TS        Timestamp
	RequestID string
}

// Event is one diagnostic event. It is one of RequestStart, ResponseSent,
// RequestFinish, SeqOpen, SeqChunk, SeqClose or UnknownEvent.
type Event interface {
	EventHeader() Header
}

type RequestStart struct {
	Header
	URL    string
	Method string
}

type ResponseSent struct {
	Header
	Status int
}

type RequestFinish struct {
	Header
}

type SeqOpen struct {
	Header
	SeqID string
}

// SeqChunk carries one token-sequence fragment. CommandID is empty when the
// event has none.
type SeqChunk struct {
	Header
	SeqID     string
	Chunk     string
	Hidden    bool
	CommandID string
}

type SeqClose struct {
	Header
	SeqID string
}

// UnknownEvent is a well-formed event whose type or subtype is not recognized.
type UnknownEvent struct {
	Header
}

func (h Header) EventHeader() Header { return h }

type wireEvent struct {
	EventType    string     `json:"event_type"`
	EventSubtype string     `json:"event_subtype"`
	TS           *Timestamp `json:"ts"`
	ReqID        string     `json:"req_id"`

	URL    string `json:"url"`
	Method string `json:"method"`
	Status int    `json:"status"`

	SeqID  json.RawMessage `json:"seq_id"`
	Chunk  string          `json:"chunk"`
	Hidden bool            `json:"hidden"`
	CmdID  json.RawMessage `json:"cmd_id"`
}

var (
	errMissingType    = errors.New("missing event_type")
	errMissingRequest = errors.New("missing req_id")
	errMissingTS      = errors.New("missing ts")
	errMissingSeq     = errors.New("missing seq_id")
)

// DecodeEvent decodes one diagnostic event. Events lacking event_type, req_id
// or ts are rejected with a *ProtocolError.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Source: "event", Err: err}
	}
	switch {
	case w.EventType == "":
		return nil, &ProtocolError{Source: "event", Err: errMissingType}
	case w.ReqID == "":
		return nil, &ProtocolError{Source: "event", Err: errMissingRequest}
	case w.TS == nil:
		return nil, &ProtocolError{Source: "event", Err: errMissingTS}
	}
	h := Header{Type: w.EventType, Subtype: w.EventSubtype, TS: *w.TS, RequestID: w.ReqID}

	switch w.EventType {
	case TypeHTTP:
		switch w.EventSubtype {
		case SubtypeRequestStart:
			return RequestStart{Header: h, URL: w.URL, Method: w.Method}, nil
		case SubtypeResponseSent:
			return ResponseSent{Header: h, Status: w.Status}, nil
		case SubtypeRequestFinish:
			return RequestFinish{Header: h}, nil
		}
	case TypeSeq:
		seqID, err := StreamID(w.SeqID)
		if err != nil {
			return nil, &ProtocolError{Source: "event", Err: err}
		}
		if seqID == "" {
			return nil, &ProtocolError{Source: "event", Err: errMissingSeq}
		}
		switch w.EventSubtype {
		case SubtypeSeqOpen:
			return SeqOpen{Header: h, SeqID: seqID}, nil
		case SubtypeSeqChunk:
			cmdID, err := StreamID(w.CmdID)
			if err != nil {
				return nil, &ProtocolError{Source: "event", Err: err}
			}
			return SeqChunk{Header: h, SeqID: seqID, Chunk: w.Chunk, Hidden: w.Hidden, CommandID: cmdID}, nil
		case SubtypeSeqClose:
			return SeqClose{Header: h, SeqID: seqID}, nil
		}
	}
	return UnknownEvent{Header: h}, nil
}
