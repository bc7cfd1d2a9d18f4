// Package transport carries the JSON-over-HTTPS plumbing shared by the
// provider and exporter integrations.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"chatbridge/internal/logsink"
)

const maxBodyBytes = 8 << 20

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// StatusCode extracts the HTTP status from err, if it carries one.
func StatusCode(err error) (int, bool) {
	var se *HTTPStatusError
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.StatusCode, true
}

// DecodeError reports a 2xx reply whose body did not match the expected JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Client issues JSON requests and logs each one to a sink.
//
// It sets no timeout of its own; callers bound calls through the context.
type Client struct {
	httpClient *http.Client
	sink       logsink.Sink
}

// New returns a Client. A nil httpClient means http.DefaultClient.
func New(httpClient *http.Client, sink logsink.Sink) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, sink: logsink.OrNop(sink)}
}

// Request describes one JSON call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any

	// LogDetails replaces the default request log payload; use it to log a
	// redacted view of the call.
	LogDetails any
}

// Do sends req, returning the raw response body of a 2xx reply or an
// *HTTPStatusError carrying the full body otherwise.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	res, err := c.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.sink.Log(logsink.Response, fmt.Sprintf("HTTP %d %s", res.StatusCode, req.URL), nil)
	return buf, nil
}

// DoJSON is Do followed by decoding the reply into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	raw, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{URL: req.URL, Err: err}
	}
	return nil
}

// Open sends req and returns the live response of a 2xx reply; the caller owns
// the body. Non-2xx replies are drained into an *HTTPStatusError.
func (c *Client) Open(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	c.sink.Log(logsink.Request, req.Method+" "+req.URL, req.LogDetails)
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.sink.Log(logsink.Error, "Request failed", map[string]any{"url": req.URL, "message": err.Error()})
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		c.sink.Log(logsink.Error, fmt.Sprintf("HTTP %d", res.StatusCode), map[string]any{"url": req.URL, "body": string(buf)})
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        req.URL,
			Body:       string(buf),
		}
	}
	return res, nil
}

// Bearer formats an Authorization header value.
func Bearer(token string) string {
	return "Bearer " + token
}
