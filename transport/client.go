// Package transport opens long-lived server-push streams to an application
// server and delivers their messages in order.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is reported by Conn.Err after Close.
var ErrClosed = errors.New("transport: connection closed")

// StatusError is returned by Open when the server answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int
	Status     string
	// Body is an excerpt of the response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
}

// Client opens streams.
type Client struct {
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.SugaredLogger
}

type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used to dial. It must not set a
// Timeout, which would cut streams short.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithRetry sets the retry policy of the initial dial.
func WithRetry(cfg RetryConfig) ClientOption {
	return func(cl *Client) {
		cl.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient returns a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		retry:      DefaultRetryConfig,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openOptions struct {
	onRetry func(attempt int, err error)
}

// OpenOption configures a single Open call.
type OpenOption func(*openOptions)

// OnRetry registers fn to be called each time a failed dial is about to be
// retried.
func OnRetry(fn func(attempt int, err error)) OpenOption {
	return func(o *openOptions) {
		o.onRetry = fn
	}
}

// Open dials url and starts delivering the messages of the response stream.
// A non-nil body is POSTed as JSON; a nil body issues a GET. Only the dial is
// retried; a stream that breaks later is reported through Conn.Err.
//
// The returned Conn lives until the stream ends or Close is called, even if
// ctx is canceled afterwards.
func (c *Client) Open(ctx context.Context, url string, body any, opts ...OpenOption) (*Conn, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	resp, err := withRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.dial(streamCtx, url, payload)
	}, c.retry, o.onRetry)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	c.logger.Debugw("stream opened", "url", url, "status", resp.StatusCode)

	conn := &Conn{
		msgs:   make(chan []byte),
		done:   make(chan struct{}),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	go conn.read(streamCtx, resp.Body)
	return conn, nil
}

func (c *Client) dial(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	method := http.MethodGet
	var body io.Reader
	if payload != nil {
		method = http.MethodPost
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}
	return resp, nil
}

// Conn is an open stream.
type Conn struct {
	msgs   chan []byte
	done   chan struct{}
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

// Messages returns the channel of message payloads. It is closed when the
// stream ends.
func (c *Conn) Messages() <-chan []byte { return c.msgs }

// Done is closed once the stream has ended and Err is valid.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the stream ended: nil at end of input, ErrClosed after
// Close, otherwise the read error. It must only be called after Messages is
// closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Close stops delivery and releases the stream. It is safe to call more than
// once and from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
	return nil
}

func (c *Conn) read(ctx context.Context, body io.ReadCloser) {
	defer close(c.done)
	defer close(c.msgs)
	defer body.Close()

	r := NewReader(body)
	for {
		msg, err := r.Next()
		if err != nil {
			c.err = c.terminalError(err)
			return
		}
		select {
		case c.msgs <- msg:
		case <-c.closed:
			c.err = ErrClosed
			return
		case <-ctx.Done():
			c.err = c.terminalError(ctx.Err())
			return
		}
	}
}

func (c *Conn) terminalError(err error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
