package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key")

func signClaims(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

// principalEcho writes the subject of the request principal, or "anonymous".
func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(p.Subject))
	})
}

func TestJWTMiddleware_Configuration(t *testing.T) {
	t.Run("default_configuration", func(t *testing.T) {
		cfg := NewJWTMiddleware(testSecret).GetConfig()

		assert.Equal(t, "Authorization", cfg.TokenHeader)
		assert.Equal(t, "Bearer ", cfg.TokenPrefix)
		assert.Equal(t, jwt.SigningMethodHS256, cfg.SigningMethod)
		assert.Equal(t, 24*time.Hour, cfg.TokenExpiry)
		assert.False(t, cfg.Optional)
	})

	t.Run("custom_configuration", func(t *testing.T) {
		cfg := NewJWTMiddleware(testSecret,
			WithTokenHeader("X-Token"),
			WithTokenPrefix("Token "),
			WithSigningMethod(jwt.SigningMethodHS512),
			WithTokenExpiry(time.Hour),
			WithOptionalAuth(),
		).GetConfig()

		assert.Equal(t, "X-Token", cfg.TokenHeader)
		assert.Equal(t, "Token ", cfg.TokenPrefix)
		assert.Equal(t, jwt.SigningMethodHS512, cfg.SigningMethod)
		assert.Equal(t, time.Hour, cfg.TokenExpiry)
		assert.True(t, cfg.Optional)
	})
}

func TestJWTMiddleware_ValidateToken(t *testing.T) {
	m := NewJWTMiddleware(testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("valid", func(t *testing.T) {
		token := signClaims(t, testSecret, jwt.MapClaims{"sub": "analyst", "scopes": []string{"restricted"}, "exp": exp})

		p, err := m.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "analyst", p.Subject)
		assert.True(t, p.HasScope("restricted"))
		assert.False(t, p.HasScope("admin"))
	})

	tests := map[string]struct {
		token string
		want  error
	}{
		"expired":      {signClaims(t, testSecret, jwt.MapClaims{"sub": "a", "exp": time.Now().Add(-time.Hour).Unix()}), ErrTokenExpired},
		"wrong_secret": {signClaims(t, []byte("other"), jwt.MapClaims{"sub": "a", "exp": exp}), ErrInvalidSignature},
		"no_expiry":    {signClaims(t, testSecret, jwt.MapClaims{"sub": "a"}), ErrTokenInvalid},
		"no_subject":   {signClaims(t, testSecret, jwt.MapClaims{"exp": exp}), ErrInvalidClaims},
		"garbage":      {"not-a-token", ErrTokenInvalid},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTMiddleware_HTTPMiddleware(t *testing.T) {
	required := NewJWTMiddleware(testSecret).HTTPMiddleware()(principalEcho())
	optional := NewJWTMiddleware(testSecret, WithOptionalAuth()).HTTPMiddleware()(principalEcho())
	valid := signClaims(t, testSecret, jwt.MapClaims{"sub": "analyst", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		status  int
		body    string
	}{
		{"required_missing", required, "", http.StatusUnauthorized, ""},
		{"required_valid", required, "Bearer " + valid, http.StatusOK, "analyst"},
		{"optional_anonymous", optional, "", http.StatusOK, "anonymous"},
		{"optional_valid", optional, "Bearer " + valid, http.StatusOK, "analyst"},
		{"optional_invalid", optional, "Bearer broken", http.StatusUnauthorized, ""},
		{"optional_wrong_scheme", optional, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestJWTMiddleware_ErrorWriter(t *testing.T) {
	var got error
	m := NewJWTMiddleware(testSecret, WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, status int, err error) {
		got = err
		w.WriteHeader(status)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer broken")
	w := httptest.NewRecorder()
	m.HTTPMiddleware()(principalEcho()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.ErrorIs(t, got, ErrTokenInvalid)
}

func TestJWTMiddleware_GenerateToken(t *testing.T) {
	m := NewJWTMiddleware(testSecret, WithTokenExpiry(time.Minute))

	token, expiresAt, err := m.GenerateToken(&Principal{Subject: "etl", Scopes: []string{"restricted"}})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	p, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &Principal{Subject: "etl", Scopes: []string{"restricted"}}, p)
}
