// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// PanicRecoveryConfig configures PanicRecoveryMiddleware.
type PanicRecoveryConfig struct {
	Logger            *zap.Logger
	IncludeStackTrace bool
	StatusCode        int
	ErrorWriter       func(http.ResponseWriter, *http.Request, int, error)
}

// PanicRecoveryMiddleware recovers panics raised below it.
type PanicRecoveryMiddleware struct {
	config PanicRecoveryConfig
}

// PanicRecoveryOption configures the middleware.
type PanicRecoveryOption func(*PanicRecoveryConfig)

// WithLogger sets the logger recovered panics are reported to.
func WithLogger(logger *zap.Logger) PanicRecoveryOption {
	return func(c *PanicRecoveryConfig) {
		c.Logger = logger
	}
}

// WithStackTrace enables or disables stack trace logging
func WithStackTrace(enabled bool) PanicRecoveryOption {
	return func(c *PanicRecoveryConfig) {
		c.IncludeStackTrace = enabled
	}
}

// WithRecoveryStatusCode sets the HTTP status code for recovered panics
func WithRecoveryStatusCode(statusCode int) PanicRecoveryOption {
	return func(c *PanicRecoveryConfig) {
		c.StatusCode = statusCode
	}
}

// WithErrorWriter replaces the JSON body written after a panic.
func WithErrorWriter(fn func(http.ResponseWriter, *http.Request, int, error)) PanicRecoveryOption {
	return func(c *PanicRecoveryConfig) {
		c.ErrorWriter = fn
	}
}

// NewPanicRecoveryMiddleware creates a new panic recovery middleware
func NewPanicRecoveryMiddleware(opts ...PanicRecoveryOption) *PanicRecoveryMiddleware {
	config := PanicRecoveryConfig{
		Logger:            zap.NewNop(),
		IncludeStackTrace: true,
		StatusCode:        http.StatusInternalServerError,
		ErrorWriter:       writeError,
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &PanicRecoveryMiddleware{
		config: config,
	}
}

// GetConfig returns the panic recovery configuration
func (m *PanicRecoveryMiddleware) GetConfig() PanicRecoveryConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *PanicRecoveryMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				panicValue := recover()
				if panicValue == nil {
					return
				}
				// The server uses this one to abort a response silently.
				if panicValue == http.ErrAbortHandler {
					panic(panicValue)
				}
				m.handlePanic(w, r, panicValue)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func (m *PanicRecoveryMiddleware) handlePanic(w http.ResponseWriter, r *http.Request, panicValue interface{}) {
	err := fmt.Errorf("panic recovered: %v", panicValue)

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("uri", r.URL.RequestURI()),
		zap.Any("panic", panicValue),
	}
	if m.config.IncludeStackTrace {
		fields = append(fields, zap.StackSkip("stack", 2))
	}
	m.config.Logger.Error("handler panicked", fields...)

	m.config.ErrorWriter(w, r, m.config.StatusCode, err)
}

func writeError(w http.ResponseWriter, _ *http.Request, statusCode int, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "internal server error",
	})
}
