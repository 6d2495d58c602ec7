// Package fakeapp is an in-process application server for tests and demos.
// It answers workbench requests with frames generated by an llms.Model and
// publishes the matching diagnostic events on its debug endpoint.
package fakeapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// DebugPath is where diagnostic events are served.
const DebugPath = "/_mxldbg"

// Server is an http.Handler imitating an application server.
type Server struct {
	model  llms.Model
	logger *zap.SugaredLogger

	// Unavailable makes the next n requests fail with 503.
	Unavailable atomic.Int32

	seq  atomic.Int64
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// New returns a Server generating replies with model.
func New(model llms.Model, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{model: model, logger: logger, subs: make(map[chan []byte]struct{})}
}

type requestBody struct {
	ShowHidden bool `json:"showHidden"`
	Params     struct {
		Prompt   string `json:"prompt"`
		Error    string `json:"error"`
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	} `json:"params"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == DebugPath {
		s.serveDebug(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if n := s.Unavailable.Load(); n > 0 && s.Unavailable.CompareAndSwap(n, n-1) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
		return
	}
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serveGenerate(w, r, body)
}

func (s *Server) serveGenerate(w http.ResponseWriter, r *http.Request, body requestBody) {
	reqID := "req-" + strconv.FormatInt(s.seq.Add(1), 10)
	seqID := "0"
	s.event(reqID, "wasm_http", "wasm_http_request_start", map[string]any{"url": r.URL.Path, "method": r.Method})
	defer s.event(reqID, "wasm_http", "wasm_http_request_finish", nil)

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	s.event(reqID, "wasm_http", "wasm_http_response_sent", map[string]any{"status": http.StatusOK})
	flusher, _ := w.(http.Flusher)
	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	s.event(reqID, "seq", "seq_open", map[string]any{"seq_id": seqID})
	defer s.event(reqID, "seq", "seq_close", map[string]any{"seq_id": seqID})

	send(map[string]any{"event": "sys.stdout", "text": "generating " + reqID + "\n"})
	if body.ShowHidden {
		send(map[string]any{"text": "<think>", "hidden": true, "stream": seqID})
		s.event(reqID, "seq", "seq_chunk", map[string]any{"seq_id": seqID, "chunk": "<think>", "hidden": true})
	}

	var messages []llms.MessageContent
	for _, m := range body.Params.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Text))
	}
	if len(messages) == 0 {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, body.Params.Prompt))
	}

	_, err := s.model.GenerateContent(r.Context(), messages, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		s.event(reqID, "seq", "seq_chunk", map[string]any{"seq_id": seqID, "chunk": string(chunk)})
		return send(map[string]any{"text": string(chunk), "stream": seqID})
	}))
	switch {
	case err != nil:
		s.logger.Debugw("generation failed", "request", reqID, "error", err)
		send(map[string]any{"error": err.Error(), "stream": seqID})
	case body.Params.Error != "":
		send(map[string]any{"error": body.Params.Error, "stream": seqID})
	default:
		send(map[string]any{"done": true})
	}
}

func (s *Server) event(reqID, typ, subtype string, fields map[string]any) {
	ev := map[string]any{
		"event_type":    typ,
		"event_subtype": subtype,
		"req_id":        reqID,
		"ts":            time.Now().UnixMilli(),
	}
	for k, v := range fields {
		ev[k] = v
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorw("encode event", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- b:
		default:
			s.logger.Warnw("debug subscriber is slow, dropping event", "request", reqID)
		}
	}
}

func (s *Server) serveDebug(w http.ResponseWriter, r *http.Request) {
	ch := make(chan []byte, 1024)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case b := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Subscribers reports the number of connected debug streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
