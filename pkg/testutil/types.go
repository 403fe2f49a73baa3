// Package testutil provides in-process request helpers for testing HTTP
// handlers built on typedhttp.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request represents an HTTP request with all necessary data. RawQuery is
// sent verbatim so callers control the exact encoding.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Headers  map[string]string
}

// URL returns the request target.
func (r Request) URL() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// Response represents an HTTP response. Raw holds the decoded body when the
// server compressed it.
type Response struct {
	StatusCode int
	Headers    http.Header
	Raw        []byte
}

// TypedResponse wraps Response with typed data for when type safety is needed.
type TypedResponse[T any] struct {
	*Response
	Data T
}

// HTTPClient defines the main client interface for HTTP testing.
type HTTPClient interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// RequestError provides context-aware error handling for HTTP requests.
type RequestError struct {
	Method string
	Path   string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRequestError checks if an error is a RequestError.
func IsRequestError(err error) bool {
	var reqErr *RequestError

	return errors.As(err, &reqErr)
}

// DefaultTimeout bounds requests whose context has no deadline.
const DefaultTimeout = 30 * time.Second
