package processing

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bodyHandler(contentType string, status int, chunks ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
		}
	})
}

func gzipRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	r.Header.Set("Accept-Encoding", "br, gzip")
	return r
}

func gunzip(t *testing.T, body io.Reader) string {
	t.Helper()
	zr, err := gzip.NewReader(body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestCompressionMiddleware(t *testing.T) {
	big := strings.Repeat(`{"areaName":"England"},`, 100)

	t.Run("default_configuration", func(t *testing.T) {
		cfg := NewCompressionMiddleware().GetConfig()
		assert.Equal(t, DefaultCompressionLevel, cfg.Level)
		assert.Equal(t, DefaultMinSize, cfg.MinSize)
	})

	t.Run("multiple_writes_are_compressed", func(t *testing.T) {
		h := NewCompressionMiddleware().HTTPMiddleware()(
			bodyHandler("application/vnd.PHE-COVID19.v1+json; charset=utf-8", http.StatusOK, big, big, "]"),
		)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, gzipRequest())

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		assert.Contains(t, w.Header().Values("Vary"), "Accept-Encoding")
		assert.Equal(t, big+big+"]", gunzip(t, w.Body))
	})

	t.Run("small_body_uncompressed", func(t *testing.T) {
		h := NewCompressionMiddleware().HTTPMiddleware()(bodyHandler("application/json", http.StatusOK, "{}"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, gzipRequest())

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "{}", w.Body.String())
	})

	t.Run("unlisted_type_uncompressed", func(t *testing.T) {
		h := NewCompressionMiddleware().HTTPMiddleware()(bodyHandler("image/png", http.StatusOK, big))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, gzipRequest())

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, big, w.Body.String())
	})

	t.Run("csv_compressed_with_custom_status", func(t *testing.T) {
		h := NewCompressionMiddleware(WithMinCompressionSize(1)).HTTPMiddleware()(
			bodyHandler("text/csv; charset=utf-8", http.StatusCreated, "date,areaName\n"),
		)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, gzipRequest())

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "date,areaName\n", gunzip(t, w.Body))
	})

	t.Run("status_without_body_forwarded", func(t *testing.T) {
		h := NewCompressionMiddleware().HTTPMiddleware()(bodyHandler("", http.StatusNoContent))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, gzipRequest())

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Zero(t, w.Body.Len())
	})

	t.Run("client_without_gzip", func(t *testing.T) {
		h := NewCompressionMiddleware().HTTPMiddleware()(bodyHandler("application/json", http.StatusOK, big))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Accept-Encoding", "gzip;q=0")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, big, w.Body.String())
	})
}

func TestCORSMiddleware(t *testing.T) {
	ok := bodyHandler("text/plain", http.StatusOK, "ok")

	t.Run("default_configuration", func(t *testing.T) {
		cfg := NewCORSMiddleware().GetConfig()
		assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
		assert.Equal(t, []string{http.MethodGet, http.MethodHead, http.MethodOptions}, cfg.AllowedMethods)
	})

	t.Run("simple_request", func(t *testing.T) {
		m := NewCORSMiddleware(WithExposedHeaders([]string{"ETag", "X-Request-ID"}))
		r := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
		r.Header.Set("Origin", "https://coronavirus.data.gov.uk")
		w := httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "ETag, X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("restricted_origin", func(t *testing.T) {
		m := NewCORSMiddleware(WithAllowedOrigins([]string{"https://example.com"}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)
		assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))

		r.Header.Set("Origin", "https://evil.com")
		w = httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		m := NewCORSMiddleware(WithMaxAge(60))
		r := httptest.NewRequest(http.MethodOptions, "/v1/data", nil)
		r.Header.Set("Origin", "https://example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
		r.Header.Set("Access-Control-Request-Headers", "if-none-match")
		w := httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "60", w.Header().Get("Access-Control-Max-Age"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodHead)
	})

	t.Run("preflight_rejections", func(t *testing.T) {
		m := NewCORSMiddleware()

		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		w := httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
		r.Header.Set("Access-Control-Request-Headers", "X-Custom")
		w = httptest.NewRecorder()
		m.HTTPMiddleware()(ok).ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware().HTTPMiddleware()(bodyHandler("", http.StatusOK)).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	NewSecurityHeadersMiddleware(WithHSTSMaxAge(0), WithContentSecurityPolicy("")).HTTPMiddleware()(bodyHandler("", http.StatusOK)).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestProcessingMiddleware(t *testing.T) {
	m := NewProcessingMiddleware(
		NewSecurityHeadersMiddleware(),
		NewCORSMiddleware(),
		NewCompressionMiddleware(WithMinCompressionSize(1)),
	)

	r := gzipRequest()
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	m.HTTPMiddleware()(bodyHandler("application/json", http.StatusOK, `{"body":[]}`)).ServeHTTP(w, r)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, `{"body":[]}`, gunzip(t, w.Body))

	w = httptest.NewRecorder()
	NewProcessingMiddleware(nil, nil, nil).HTTPMiddleware()(bodyHandler("", http.StatusAccepted)).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
