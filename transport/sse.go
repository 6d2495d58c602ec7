package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/tmc/mxlwb/frame"
)

const maxMessageSize = 16 << 20

// Reader splits a push stream into messages. It accepts server-sent events
// (data lines joined by newlines, dispatched on a blank line) and
// newline-delimited JSON, where a bare line beginning with '{' or '[' is a
// message of its own. Event names, ids, retry hints and comments are
// discarded.
type Reader struct {
	sc   *bufio.Scanner
	data []byte
	has  bool
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return &Reader{sc: sc}
}

// Next returns the next message payload. It returns io.EOF after the last
// message. A pending event without a terminating blank line is delivered at
// end of input.
func (r *Reader) Next() ([]byte, error) {
	for r.sc.Scan() {
		line := bytes.TrimSuffix(r.sc.Bytes(), []byte("\r"))
		if len(line) == 0 {
			if msg, ok := r.flush(); ok {
				return msg, nil
			}
			continue
		}
		if !r.has && (line[0] == '{' || line[0] == '[') {
			return bytes.Clone(line), nil
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "data":
			if r.has {
				r.data = append(r.data, '\n')
			}
			r.data = append(r.data, value...)
			r.has = true
		case "", "event", "id", "retry":
			// comment or ignored field
		}
	}
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &frame.ProtocolError{Source: "stream", Err: err}
		}
		return nil, err
	}
	if msg, ok := r.flush(); ok {
		return msg, nil
	}
	return nil, io.EOF
}

func (r *Reader) flush() ([]byte, bool) {
	msg, has := r.data, r.has
	r.data, r.has = nil, false
	return msg, has && len(msg) > 0
}
