// Package processing holds response-shaping middleware: gzip compression,
// CORS and security headers.
package processing

import "net/http"

// ProcessingMiddleware combines the processing middlewares. Nil parts are
// skipped.
type ProcessingMiddleware struct {
	security    *SecurityHeadersMiddleware
	cors        *CORSMiddleware
	compression *CompressionMiddleware
}

// NewProcessingMiddleware creates a combined processing middleware
func NewProcessingMiddleware(security *SecurityHeadersMiddleware, cors *CORSMiddleware, compression *CompressionMiddleware) *ProcessingMiddleware {
	return &ProcessingMiddleware{
		security:    security,
		cors:        cors,
		compression: compression,
	}
}

// HTTPMiddleware returns HTTP middleware function that combines all processing features
func (m *ProcessingMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		// Applied inside out: security -> CORS -> compression -> next.
		if m.compression != nil {
			handler = m.compression.HTTPMiddleware()(handler)
		}
		if m.cors != nil {
			handler = m.cors.HTTPMiddleware()(handler)
		}
		if m.security != nil {
			handler = m.security.HTTPMiddleware()(handler)
		}

		return handler
	}
}
