// Package ratelimit throttles requests per client with token buckets.
package ratelimit

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is passed to the error writer of a throttled request.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter decides whether the client identified by key may proceed.
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedConfig configures a KeyedLimiter.
type KeyedConfig struct {
	Rate  rate.Limit
	Burst int
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration
	// MaxKeys triggers a sweep of idle buckets when exceeded.
	MaxKeys int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per client key.
type KeyedLimiter struct {
	config  KeyedConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// KeyedOption configures a KeyedLimiter.
type KeyedOption func(*KeyedConfig)

// WithIdleTTL sets how long idle client buckets survive a sweep.
func WithIdleTTL(ttl time.Duration) KeyedOption {
	return func(c *KeyedConfig) {
		c.IdleTTL = ttl
	}
}

// WithMaxKeys sets the bucket count above which idle buckets are swept.
func WithMaxKeys(n int) KeyedOption {
	return func(c *KeyedConfig) {
		c.MaxKeys = n
	}
}

// NewKeyedLimiter allows rps requests per second per key with the given burst.
func NewKeyedLimiter(rps float64, burst int, opts ...KeyedOption) *KeyedLimiter {
	config := KeyedConfig{
		Rate:    rate.Limit(rps),
		Burst:   burst,
		IdleTTL: 15 * time.Minute,
		MaxKeys: 10000,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &KeyedLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// GetConfig returns the limiter configuration.
func (l *KeyedLimiter) GetConfig() KeyedConfig {
	return l.config
}

// Allow consumes one token from the bucket of key.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.config.MaxKeys {
			l.sweep(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Len is the number of tracked clients.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.config.IdleTTL {
			delete(l.buckets, key)
		}
	}
}

// Metrics counts limiter decisions.
type Metrics struct {
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
}

// Middleware provides rate limiting middleware
type Middleware struct {
	limiter     RateLimiter
	keyFunc     func(*http.Request) string
	skip        func(*http.Request) bool
	errorWriter func(http.ResponseWriter, *http.Request, int, error)
	limitHeader string

	total, allowed, denied atomic.Int64
}

// Option configures rate limit middleware
type Option func(*Middleware)

// WithKeyFunc sets how a request is mapped to its client key.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(m *Middleware) {
		m.keyFunc = fn
	}
}

// WithSkipper exempts requests for which fn returns true.
func WithSkipper(fn func(*http.Request) bool) Option {
	return func(m *Middleware) {
		m.skip = fn
	}
}

// WithErrorWriter replaces the JSON body written for throttled requests.
func WithErrorWriter(fn func(http.ResponseWriter, *http.Request, int, error)) Option {
	return func(m *Middleware) {
		m.errorWriter = fn
	}
}

// WithLimitHeader advertises the burst size in X-RateLimit-Limit.
func WithLimitHeader(burst int) Option {
	return func(m *Middleware) {
		m.limitHeader = strconv.Itoa(burst)
	}
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter RateLimiter, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:     limiter,
		keyFunc:     ClientIP,
		errorWriter: writeRateLimitError,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HTTPMiddleware returns HTTP middleware function
func (m *Middleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.skip != nil && m.skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			m.total.Add(1)
			if m.limitHeader != "" {
				w.Header().Set("X-RateLimit-Limit", m.limitHeader)
			}

			if !m.limiter.Allow(m.keyFunc(r)) {
				m.denied.Add(1)
				w.Header().Set("Retry-After", "1")
				m.errorWriter(w, r, http.StatusTooManyRequests, ErrRateLimitExceeded)
				return
			}

			m.allowed.Add(1)
			next.ServeHTTP(w, r)
		})
	}
}

// GetMetrics returns current metrics
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:   m.total.Load(),
		AllowedRequests: m.allowed.Load(),
		DeniedRequests:  m.denied.Load(),
	}
}

// ClientIP is the first X-Forwarded-For hop, else X-Real-IP, else the
// remote address without its port.
func ClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeRateLimitError(w http.ResponseWriter, _ *http.Request, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
