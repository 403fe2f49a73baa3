package testutil

import "net/http"

// Helper functions for common request patterns.

// GET creates a GET request with the specified path and raw query.
func GET(path, rawQuery string) Request {
	return Request{Method: http.MethodGet, Path: path, RawQuery: rawQuery}
}

// HEAD creates a HEAD request with the specified path and raw query.
func HEAD(path, rawQuery string) Request {
	return Request{Method: http.MethodHead, Path: path, RawQuery: rawQuery}
}

// WithHeader adds a single header to the request.
func WithHeader(req Request, key, value string) Request {
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[key] = value
	req.Headers = headers

	return req
}

// WithAuth adds Bearer token authentication to the request.
func WithAuth(req Request, token string) Request {
	return WithHeader(req, "Authorization", "Bearer "+token)
}

// WithGzip asks the server for a gzip encoded response.
func WithGzip(req Request) Request {
	return WithHeader(req, "Accept-Encoding", "gzip")
}
