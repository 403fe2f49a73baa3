// Package observability provides request IDs, zap access logging and
// prometheus metrics for HTTP handlers.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// MaxRequestIDLength bounds the inbound IDs that are reused.
const MaxRequestIDLength = 128

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestIDFromContext returns the ID assigned by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// RequestIDMiddleware assigns every request an ID, reusing a well-formed
// inbound X-Request-ID: 1 to MaxRequestIDLength ASCII letters, digits or
// any of "-_.:". Anything else is replaced by a fresh UUID.
type RequestIDMiddleware struct {
	generate func() string
}

// NewRequestIDMiddleware creates a request ID middleware backed by UUIDv4.
func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{generate: uuid.NewString}
}

// HTTPMiddleware returns HTTP middleware function
func (m *RequestIDMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !WellFormedRequestID(id) {
				id = m.generate()
			}

			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WellFormedRequestID reports whether an inbound ID may be echoed as is.
func WellFormedRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// LoggingConfig holds logging middleware configuration
type LoggingConfig struct {
	Level  zapcore.Level
	Fields []zap.Field
}

// LoggingMiddleware writes one access log entry per request.
type LoggingMiddleware struct {
	logger *zap.Logger
	config LoggingConfig
}

// LoggingOption configures logging middleware
type LoggingOption func(*LoggingConfig)

// WithLogLevel sets the level of successful requests. Server errors are
// always logged at error level.
func WithLogLevel(level zapcore.Level) LoggingOption {
	return func(c *LoggingConfig) {
		c.Level = level
	}
}

// WithLogFields adds fields to every entry.
func WithLogFields(fields ...zap.Field) LoggingOption {
	return func(c *LoggingConfig) {
		c.Fields = append(c.Fields, fields...)
	}
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	config := LoggingConfig{Level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(&config)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LoggingMiddleware{
		logger: logger.With(config.Fields...),
		config: config,
	}
}

// GetConfig returns the logging configuration
func (m *LoggingMiddleware) GetConfig() LoggingConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *LoggingMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrapWriter(w)

			next.ServeHTTP(rw, r)

			level := m.config.Level
			if rw.statusCode >= http.StatusInternalServerError {
				level = zapcore.ErrorLevel
			}
			if ce := m.logger.Check(level, "request completed"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("query", r.URL.RawQuery),
					zap.Int("status", rw.statusCode),
					zap.Int("bytes", rw.bytes),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()),
				)
			}
		})
	}
}

// MetricsConfig holds metrics middleware configuration
type MetricsConfig struct {
	Namespace        string
	HistogramBuckets []float64
	// RouteFunc maps a request to a bounded route label.
	RouteFunc func(*http.Request) string
}

// MetricsMiddleware records request counts, latencies and in-flight
// requests as prometheus series.
type MetricsMiddleware struct {
	config   MetricsConfig
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// MetricsOption configures metrics middleware
type MetricsOption func(*MetricsConfig)

// WithHistogramBuckets sets histogram buckets for duration metrics
func WithHistogramBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.HistogramBuckets = buckets
	}
}

// WithRouteFunc sets the route label function.
func WithRouteFunc(fn func(*http.Request) string) MetricsOption {
	return func(c *MetricsConfig) {
		c.RouteFunc = fn
	}
}

// NewMetricsMiddleware registers the HTTP series under namespace with reg.
func NewMetricsMiddleware(reg prometheus.Registerer, namespace string, opts ...MetricsOption) *MetricsMiddleware {
	config := MetricsConfig{
		Namespace:        namespace,
		HistogramBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		RouteFunc:        func(r *http.Request) string { return r.URL.Path },
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(reg)
	return &MetricsMiddleware{
		config: config,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   config.HistogramBuckets,
		}, []string{"method", "route"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served",
		}),
	}
}

// GetConfig returns the metrics configuration
func (m *MetricsMiddleware) GetConfig() MetricsConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *MetricsMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			rw := wrapWriter(w)
			next.ServeHTTP(rw, r)

			route := m.config.RouteFunc(r)
			m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// ObservabilityMiddleware chains request IDs, logging and metrics.
type ObservabilityMiddleware struct {
	requestID *RequestIDMiddleware
	logging   *LoggingMiddleware
	metrics   *MetricsMiddleware
}

// NewObservabilityMiddleware creates a combined observability middleware.
// Nil parts are skipped.
func NewObservabilityMiddleware(requestID *RequestIDMiddleware, logging *LoggingMiddleware, metrics *MetricsMiddleware) *ObservabilityMiddleware {
	return &ObservabilityMiddleware{
		requestID: requestID,
		logging:   logging,
		metrics:   metrics,
	}
}

// HTTPMiddleware returns HTTP middleware function that combines all observability features
func (m *ObservabilityMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		// Applied inside out: request ID -> logging -> metrics -> next.
		if m.metrics != nil {
			handler = m.metrics.HTTPMiddleware()(handler)
		}
		if m.logging != nil {
			handler = m.logging.HTTPMiddleware()(handler)
		}
		if m.requestID != nil {
			handler = m.requestID.HTTPMiddleware()(handler)
		}

		return handler
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
