// Package client executes testutil requests against an http.Handler in
// process.
package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/pavelpascari/covidapi/pkg/testutil"
)

// Client implements HTTPClient against an in-process handler.
type Client struct {
	handler http.Handler
	timeout time.Duration
}

// Option configures a Client using the functional options pattern.
type Option func(*Client)

// WithTimeout sets the default timeout for requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a new context-aware HTTP client for testing.
func NewClient(handler http.Handler, opts ...Option) *Client {
	client := &Client{
		handler: handler,
		timeout: testutil.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Execute performs an HTTP request with explicit error handling and context support.
func (c *Client) Execute(ctx context.Context, req testutil.Request) (*testutil.Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), nil)
	if err != nil {
		return nil, &testutil.RequestError{
			Method: req.Method,
			Path:   req.Path,
			Err:    fmt.Errorf("building HTTP request: %w", err),
		}
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.serve(httpReq)
	if err != nil {
		return nil, &testutil.RequestError{
			Method: req.Method,
			Path:   req.Path,
			Err:    fmt.Errorf("executing HTTP request: %w", err),
		}
	}

	return resp, nil
}

// ExecuteTyped performs a request and unmarshals a JSON response body.
func ExecuteTyped[T any](ctx context.Context, c *Client, req testutil.Request) (*testutil.TypedResponse[T], error) {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var data T
	if len(resp.Raw) > 0 && strings.Contains(resp.Headers.Get("Content-Type"), "json") {
		if err := json.Unmarshal(resp.Raw, &data); err != nil {
			return nil, &testutil.RequestError{
				Method: req.Method,
				Path:   req.Path,
				Err:    fmt.Errorf("unmarshaling JSON response: %w", err),
			}
		}
	}

	return &testutil.TypedResponse[T]{
		Response: resp,
		Data:     data,
	}, nil
}

func (c *Client) serve(req *http.Request) (*testutil.Response, error) {
	recorder := httptest.NewRecorder()
	c.handler.ServeHTTP(recorder, req)

	var body io.Reader = recorder.Body
	if recorder.Header().Get("Content-Encoding") == "gzip" && recorder.Body.Len() > 0 {
		zr, err := gzip.NewReader(recorder.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer zr.Close()
		body = zr
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &testutil.Response{
		StatusCode: recorder.Code,
		Headers:    recorder.Header(),
		Raw:        raw,
	}, nil
}
