// Package llmhttp is the JSON-over-HTTP transport shared by the backend
// adapters: request building, circuit breaking, error classification and
// server-sent-event streaming.
package llmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

// DefaultStreamBuffer is the chunk channel capacity used when none is set.
const DefaultStreamBuffer = 64

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Options configure a Client.
type Options struct {
	HTTPClient   *http.Client
	Breaker      *resilience.Breaker
	StreamBuffer int
}

// Client talks to one backend's HTTP API.
type Client struct {
	backend    catalog.Backend
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	streamBuf  int
}

// New creates a Client for backend rooted at baseURL.
func New(backend catalog.Backend, baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		// No overall timeout: streams are long-lived and bounded by the
		// caller's context instead.
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	buf := opts.StreamBuffer
	if buf <= 0 {
		buf = DefaultStreamBuffer
	}
	if opts.Breaker != nil {
		opts.Breaker.TripOn(chat.IsRetryable)
	}
	return &Client{
		backend:    backend,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		breaker:    opts.Breaker,
		streamBuf:  buf,
	}
}

// Backend returns the backend this client talks to.
func (c *Client) Backend() catalog.Backend { return c.backend }

// BaseURL returns the configured root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StreamBuffer returns the chunk channel capacity.
func (c *Client) StreamBuffer() int { return c.streamBuf }

// BreakerState reports the circuit state, or "" when no breaker is attached.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return ""
	}
	return c.breaker.State()
}

// PostJSON sends body as JSON and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, path string, header http.Header, body, out any) error {
	return c.do(ctx, http.MethodPost, path, header, body, out)
}

// GetJSON issues a GET and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, path string, header http.Header, out any) error {
	return c.do(ctx, http.MethodGet, path, header, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	call := func() error {
		resp, err := c.send(ctx, method, path, header, body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return c.decodeError(resp)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.transportError(ctx, fmt.Errorf("read response: %w", err))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return c.Malformed(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	return c.guard(call)
}

// OpenStream posts body and returns an SSE reader over a 2xx response.
// Establishment failures are classified like buffered calls.
func (c *Client) OpenStream(ctx context.Context, path string, header http.Header, body any) (*SSEReader, error) {
	var reader *SSEReader
	call := func() error {
		h := header.Clone()
		if h == nil {
			h = http.Header{}
		}
		h.Set("Accept", "text/event-stream")
		resp, err := c.send(ctx, http.MethodPost, path, h, body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer func() { _ = resp.Body.Close() }()
			return c.decodeError(resp)
		}
		reader = NewSSEReader(resp.Body)
		return nil
	}
	if err := c.guard(call); err != nil {
		return nil, err
	}
	return reader, nil
}

func (c *Client) send(ctx context.Context, method, path string, header http.Header, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &chat.BackendError{Backend: c.backend, Code: "encode_request", Message: err.Error(), Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &chat.BackendError{Backend: c.backend, Code: "build_request", Message: err.Error(), Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	return resp, nil
}

func (c *Client) guard(call func() error) error {
	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Execute(call)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &chat.BackendError{
			Backend: c.backend,
			Code:    "circuit_open",
			Message: "backend temporarily disabled after repeated failures",
			Err:     err,
		}
	}
	return err
}

// transportError wraps a network-level failure. It is retryable unless the
// caller's context ended.
func (c *Client) transportError(ctx context.Context, err error) error {
	return &chat.BackendError{
		Backend:   c.backend,
		Code:      "transport",
		Message:   err.Error(),
		Retryable: ctx.Err() == nil,
		Err:       err,
	}
}

// Malformed wraps a response that could not be decoded. Never retryable.
func (c *Client) Malformed(err error) error {
	return &chat.BackendError{
		Backend: c.backend,
		Code:    "malformed_response",
		Message: err.Error(),
		Err:     err,
	}
}

// Header is a small helper for building request headers.
func Header(kv ...string) http.Header {
	h := make(http.Header, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			h.Set(kv[i], kv[i+1])
		}
	}
	return h
}

// NewHTTPClient returns a client with sane transport timeouts. timeout bounds
// connection setup and response headers, not the body.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		t.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Transport: t}
}
