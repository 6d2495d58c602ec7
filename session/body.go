package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequestBody is the JSON payload POSTed to the application server.
type RequestBody struct {
	ShowHidden bool                       `json:"showHidden"`
	Params     map[string]json.RawMessage `json:"params"`
}

// WireMessage is one entry of the "messages" param of a chat request.
type WireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Messages decodes the "messages" param, if present.
func (b RequestBody) Messages() ([]WireMessage, error) {
	raw, ok := b.Params["messages"]
	if !ok {
		return nil, nil
	}
	var msgs []WireMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

var errParamsNotObject = errors.New("params must be a JSON object")

// ParseParams parses the user's params text. Empty text is an empty object.
func ParseParams(text string) (map[string]json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]json.RawMessage{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, &ParamsError{Err: err}
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, &ParamsError{Err: errParamsNotObject}
	}
	params := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(text), &params); err != nil {
		return nil, &ParamsError{Err: err}
	}
	return params, nil
}

// chatMessages flattens a chat's turns into alternating user/assistant
// entries.
func chatMessages(c Chat) []WireMessage {
	msgs := make([]WireMessage, 0, 2*len(c.Turns)+1)
	for _, t := range c.Turns {
		msgs = append(msgs,
			WireMessage{Role: t.Message.Role, Text: t.Message.Content},
			WireMessage{Role: t.Reply.Role, Text: t.Reply.Content},
		)
	}
	return msgs
}

func newBody(opts Options, params map[string]json.RawMessage, msgs []WireMessage) (RequestBody, error) {
	if msgs != nil {
		raw, err := json.Marshal(msgs)
		if err != nil {
			return RequestBody{}, fmt.Errorf("encode messages: %w", err)
		}
		params["messages"] = raw
	}
	return RequestBody{ShowHidden: opts.ShowHidden, Params: params}, nil
}
