// Package auth attaches the bearer-token principal of a request to its
// context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors
var (
	ErrTokenMissing     = errors.New("authentication token missing")
	ErrTokenInvalid     = errors.New("authentication token invalid")
	ErrTokenExpired     = errors.New("authentication token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes,omitempty"`
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the principal of an authenticated request.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// ErrorWriter writes a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, statusCode int, err error)

// JWTConfig holds JWT middleware configuration
type JWTConfig struct {
	Secret        []byte
	TokenHeader   string
	TokenPrefix   string
	SigningMethod jwt.SigningMethod
	TokenExpiry   time.Duration
	// Optional lets requests without a token through anonymously. A token
	// that is present must still be valid.
	Optional    bool
	ErrorWriter ErrorWriter
}

// JWTMiddleware provides JWT authentication middleware
type JWTMiddleware struct {
	config JWTConfig
}

// JWTOption configures JWT middleware
type JWTOption func(*JWTConfig)

// WithTokenHeader sets the header name for token extraction
func WithTokenHeader(header string) JWTOption {
	return func(c *JWTConfig) {
		c.TokenHeader = header
	}
}

// WithTokenPrefix sets the token prefix
func WithTokenPrefix(prefix string) JWTOption {
	return func(c *JWTConfig) {
		c.TokenPrefix = prefix
	}
}

// WithSigningMethod sets the HMAC signing method.
func WithSigningMethod(method *jwt.SigningMethodHMAC) JWTOption {
	return func(c *JWTConfig) {
		c.SigningMethod = method
	}
}

// WithTokenExpiry sets the lifetime of issued tokens
func WithTokenExpiry(expiry time.Duration) JWTOption {
	return func(c *JWTConfig) {
		c.TokenExpiry = expiry
	}
}

// WithOptionalAuth admits anonymous requests.
func WithOptionalAuth() JWTOption {
	return func(c *JWTConfig) {
		c.Optional = true
	}
}

// WithErrorWriter replaces the JSON error body written on rejection.
func WithErrorWriter(fn ErrorWriter) JWTOption {
	return func(c *JWTConfig) {
		c.ErrorWriter = fn
	}
}

// NewJWTMiddleware creates a new JWT middleware with the given secret and options
func NewJWTMiddleware(secret []byte, opts ...JWTOption) *JWTMiddleware {
	config := JWTConfig{
		Secret:        secret,
		TokenHeader:   "Authorization",
		TokenPrefix:   "Bearer ",
		SigningMethod: jwt.SigningMethodHS256,
		TokenExpiry:   24 * time.Hour,
		ErrorWriter:   writeError,
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &JWTMiddleware{config: config}
}

// GetConfig returns the middleware configuration
func (m *JWTMiddleware) GetConfig() JWTConfig {
	return m.config
}

// ExtractToken extracts JWT token from HTTP request
func (m *JWTMiddleware) ExtractToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get(m.config.TokenHeader)
	if authHeader == "" {
		return "", false
	}

	if !strings.HasPrefix(authHeader, m.config.TokenPrefix) {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, m.config.TokenPrefix))
	if token == "" {
		return "", false
	}

	return token, true
}

// ValidateToken validates a JWT token and returns its principal.
func (m *JWTMiddleware) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != m.config.SigningMethod {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.config.Secret, nil
	}, jwt.WithExpirationRequired())

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	case err != nil:
		return nil, ErrTokenInvalid
	case !token.Valid:
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return principalFromClaims(claims)
}

// HTTPMiddleware returns HTTP middleware function
func (m *JWTMiddleware) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := m.ExtractToken(r)
			if !ok {
				if m.config.Optional && r.Header.Get(m.config.TokenHeader) == "" {
					next.ServeHTTP(w, r)
					return
				}
				m.config.ErrorWriter(w, r, http.StatusUnauthorized, ErrTokenMissing)
				return
			}

			principal, err := m.ValidateToken(tokenString)
			if err != nil {
				m.config.ErrorWriter(w, r, http.StatusUnauthorized, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// GenerateToken issues a signed token for p.
func (m *JWTMiddleware) GenerateToken(p *Principal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.TokenExpiry)

	claims := jwt.MapClaims{
		"sub":    p.Subject,
		"scopes": p.Scopes,
		"iat":    now.Unix(),
		"exp":    expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(m.config.SigningMethod, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func writeError(w http.ResponseWriter, _ *http.Request, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}

func principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidClaims
	}

	var scopes []string
	if raw, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	return &Principal{Subject: sub, Scopes: scopes}, nil
}
