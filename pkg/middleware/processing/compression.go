package processing

import (
	"compress/gzip"
	"net/http"
	"strings"
)

// Compression constants
const (
	DefaultCompressionLevel = 6
	DefaultMinSize          = 1024
)

// CompressionConfig holds compression middleware configuration
type CompressionConfig struct {
	Level   int
	Types   []string
	MinSize int
}

// CompressionMiddleware gzips responses for clients that accept it.
type CompressionMiddleware struct {
	config CompressionConfig
}

// CompressionOption configures compression middleware
type CompressionOption func(*CompressionConfig)

// WithCompressionLevel sets the compression level
func WithCompressionLevel(level int) CompressionOption {
	return func(c *CompressionConfig) {
		c.Level = level
	}
}

// WithCompressionTypes sets the content types to compress
func WithCompressionTypes(types []string) CompressionOption {
	return func(c *CompressionConfig) {
		c.Types = types
	}
}

// WithMinCompressionSize sets the size of the first write below which the
// response is sent uncompressed.
func WithMinCompressionSize(size int) CompressionOption {
	return func(c *CompressionConfig) {
		c.MinSize = size
	}
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(opts ...CompressionOption) *CompressionMiddleware {
	config := CompressionConfig{
		Level:   DefaultCompressionLevel,
		Types:   []string{"json", "xml", "text/csv", "text/plain"},
		MinSize: DefaultMinSize,
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &CompressionMiddleware{
		config: config,
	}
}

// GetConfig returns the compression configuration
func (m *CompressionMiddleware) GetConfig() CompressionConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *CompressionMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acceptsGzip(r.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Accept-Encoding")
			cw := &compressionWriter{ResponseWriter: w, config: &m.config, status: http.StatusOK}
			defer cw.Close()

			next.ServeHTTP(cw, r)
		})
	}
}

func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// compressionWriter holds the status back until the first body write, when
// it knows whether Content-Encoding must be set.
type compressionWriter struct {
	http.ResponseWriter
	config      *CompressionConfig
	status      int
	wroteHeader bool
	decided     bool
	gz          *gzip.Writer
}

func (cw *compressionWriter) WriteHeader(statusCode int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.status = statusCode
}

func (cw *compressionWriter) Write(data []byte) (int, error) {
	if !cw.decided {
		cw.decide(len(data))
	}
	if cw.gz != nil {
		return cw.gz.Write(data)
	}
	return cw.ResponseWriter.Write(data)
}

func (cw *compressionWriter) decide(size int) {
	cw.decided = true

	h := cw.Header()
	if h.Get("Content-Encoding") == "" && cw.shouldCompress(h.Get("Content-Type"), size) {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		gz, err := gzip.NewWriterLevel(cw.ResponseWriter, cw.config.Level)
		if err != nil {
			gz = gzip.NewWriter(cw.ResponseWriter)
		}
		cw.gz = gz
	}
	cw.ResponseWriter.WriteHeader(cw.status)
}

func (cw *compressionWriter) shouldCompress(contentType string, size int) bool {
	if size < cw.config.MinSize {
		return false
	}
	switch cw.status {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	for _, t := range cw.config.Types {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// Close flushes the gzip stream, or sends a held-back status when the
// handler wrote no body.
func (cw *compressionWriter) Close() error {
	if !cw.decided {
		cw.decided = true
		cw.ResponseWriter.WriteHeader(cw.status)
		return nil
	}
	if cw.gz != nil {
		return cw.gz.Close()
	}
	return nil
}

func (cw *compressionWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
