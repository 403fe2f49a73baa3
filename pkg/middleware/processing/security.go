package processing

import (
	"net/http"
	"strconv"
)

// SecurityConfig lists the hardening headers set on every response.
type SecurityConfig struct {
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	HSTSMaxAge            int
}

// SecurityHeadersMiddleware sets static hardening headers.
type SecurityHeadersMiddleware struct {
	config SecurityConfig
}

// SecurityOption configures the security headers middleware
type SecurityOption func(*SecurityConfig)

// WithContentSecurityPolicy replaces the default policy. Empty disables it.
func WithContentSecurityPolicy(policy string) SecurityOption {
	return func(c *SecurityConfig) {
		c.ContentSecurityPolicy = policy
	}
}

// WithHSTSMaxAge sets Strict-Transport-Security max-age in seconds. Zero
// disables the header.
func WithHSTSMaxAge(seconds int) SecurityOption {
	return func(c *SecurityConfig) {
		c.HSTSMaxAge = seconds
	}
}

// NewSecurityHeadersMiddleware creates the middleware with API defaults.
func NewSecurityHeadersMiddleware(opts ...SecurityOption) *SecurityHeadersMiddleware {
	config := SecurityConfig{
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'",
		ReferrerPolicy:        "no-referrer",
		HSTSMaxAge:            31536000,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &SecurityHeadersMiddleware{config: config}
}

// GetConfig returns the security configuration
func (m *SecurityHeadersMiddleware) GetConfig() SecurityConfig {
	return m.config
}

// HTTPMiddleware returns HTTP middleware function
func (m *SecurityHeadersMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			if m.config.FrameOptions != "" {
				h.Set("X-Frame-Options", m.config.FrameOptions)
			}
			if m.config.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", m.config.ContentSecurityPolicy)
			}
			if m.config.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", m.config.ReferrerPolicy)
			}
			if m.config.HSTSMaxAge > 0 {
				h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(m.config.HSTSMaxAge)+"; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
