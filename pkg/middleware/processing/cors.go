package processing

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// CORSMiddleware provides Cross-Origin Resource Sharing functionality
type CORSMiddleware struct {
	config CORSConfig
}

// CORSOption configures CORS middleware
type CORSOption func(*CORSConfig)

// WithAllowedOrigins sets the allowed origins; "*" allows any.
func WithAllowedOrigins(origins []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedOrigins = origins
	}
}

// WithAllowedMethods sets the allowed methods
func WithAllowedMethods(methods []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedMethods = methods
	}
}

// WithAllowedHeaders sets the allowed request headers
func WithAllowedHeaders(headers []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedHeaders = headers
	}
}

// WithExposedHeaders sets the response headers readable by scripts
func WithExposedHeaders(headers []string) CORSOption {
	return func(c *CORSConfig) {
		c.ExposedHeaders = headers
	}
}

// WithMaxAge sets how long a preflight result may be cached, in seconds
func WithMaxAge(maxAge int) CORSOption {
	return func(c *CORSConfig) {
		c.MaxAge = maxAge
	}
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(opts ...CORSOption) *CORSMiddleware {
	config := CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "If-None-Match"},
		MaxAge:         86400,
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &CORSMiddleware{
		config: config,
	}
}

// GetConfig returns the CORS configuration
func (m *CORSMiddleware) GetConfig() CORSConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *CORSMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && !m.isOriginAllowed(origin) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				m.handlePreflight(w, r)
				return
			}

			m.setCORSHeaders(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}

func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range m.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (m *CORSMiddleware) isMethodAllowed(method string) bool {
	for _, allowed := range m.config.AllowedMethods {
		if allowed == method {
			return true
		}
	}
	return false
}

func (m *CORSMiddleware) areHeadersAllowed(headers []string) bool {
	for _, header := range headers {
		allowed := false
		for _, allowedHeader := range m.config.AllowedHeaders {
			if strings.EqualFold(header, allowedHeader) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

func (m *CORSMiddleware) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if !m.isMethodAllowed(r.Header.Get("Access-Control-Request-Method")) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
		headerList := strings.Split(headers, ",")
		for i, header := range headerList {
			headerList[i] = strings.TrimSpace(header)
		}
		if !m.areHeadersAllowed(headerList) {
			http.Error(w, "Headers not allowed", http.StatusForbidden)
			return
		}
	}

	m.setCORSHeaders(w, r.Header.Get("Origin"))
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.config.AllowedMethods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.config.AllowedHeaders, ", "))
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(m.config.MaxAge))

	w.WriteHeader(http.StatusNoContent)
}

func (m *CORSMiddleware) setCORSHeaders(w http.ResponseWriter, origin string) {
	if origin == "" {
		return
	}

	if m.config.AllowCredentials || !m.isOriginAllowed("*") {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	if m.config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if len(m.config.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(m.config.ExposedHeaders, ", "))
	}
}
