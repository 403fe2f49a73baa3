package typedhttp

import (
	"context"
	"net/http"
)

// Handler represents the core business logic interface (transport-agnostic).
type Handler[TRequest, TResponse any] interface {
	Handle(ctx context.Context, req TRequest) (TResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[TRequest, TResponse any] func(ctx context.Context, req TRequest) (TResponse, error)

// Handle calls f(ctx, req).
func (f HandlerFunc[TRequest, TResponse]) Handle(ctx context.Context, req TRequest) (TResponse, error) {
	return f(ctx, req)
}

// RequestDecoder handles decoding HTTP requests into typed request objects.
type RequestDecoder[T any] interface {
	Decode(r *http.Request) (T, error)
	ContentTypes() []string
}

// ResponseEncoder handles encoding typed response objects into HTTP responses.
type ResponseEncoder[T any] interface {
	Encode(w http.ResponseWriter, data T, statusCode int) error
	ContentType() string
}

// ErrorMapper maps application errors to HTTP status codes and response bodies.
type ErrorMapper interface {
	MapError(err error) (statusCode int, response interface{})
}

// RequestErrorMapper is an ErrorMapper that also sees the failed request,
// for error bodies that carry request-scoped data such as a request ID.
type RequestErrorMapper interface {
	ErrorMapper
	MapRequestError(r *http.Request, err error) (statusCode int, response interface{})
}

// StatusCoder is implemented by responses that choose their own status code.
type StatusCoder interface {
	StatusCode() int
}

// Middleware represents HTTP middleware following the standard Go pattern.
type Middleware func(http.Handler) http.Handler

// HandlerOption allows configuration of HTTP handlers during registration.
type HandlerOption func(*HandlerConfig)

// HandlerConfig contains all configuration options for a typed handler.
type HandlerConfig struct {
	Decoder     interface{} // RequestDecoder[T]
	Encoder     interface{} // ResponseEncoder[T]
	ErrorMapper ErrorMapper
	Middleware  []Middleware
	Metadata    OpenAPIMetadata
}

// OpenAPIMetadata contains metadata for OpenAPI specification generation.
type OpenAPIMetadata struct {
	Summary     string                  `json:"summary,omitempty"`
	Description string                  `json:"description,omitempty"`
	Tags        []string                `json:"tags,omitempty"`
	Responses   map[string]ResponseSpec `json:"responses,omitempty"`
}

// ResponseSpec documents one response status of an operation.
type ResponseSpec struct {
	Description  string   `json:"description"`
	ContentTypes []string `json:"contentTypes,omitempty"`
}

// HTTPHandler wraps a typed handler with HTTP-specific functionality.
type HTTPHandler[TRequest, TResponse any] struct {
	handler     Handler[TRequest, TResponse]
	decoder     RequestDecoder[TRequest]
	encoder     ResponseEncoder[TResponse]
	errorMapper ErrorMapper
	middleware  []Middleware
	metadata    OpenAPIMetadata
	chain       http.Handler
}

// NewHTTPHandler creates a new HTTP handler wrapper around a typed handler.
func NewHTTPHandler[TRequest, TResponse any](
	handler Handler[TRequest, TResponse],
	opts ...HandlerOption,
) *HTTPHandler[TRequest, TResponse] {
	config := &HandlerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	h := &HTTPHandler[TRequest, TResponse]{
		handler:     handler,
		errorMapper: config.ErrorMapper,
		middleware:  config.Middleware,
		metadata:    config.Metadata,
	}

	if decoder, ok := config.Decoder.(RequestDecoder[TRequest]); ok {
		h.decoder = decoder
	} else {
		h.decoder = NewRequestDecoder[TRequest]()
	}

	if encoder, ok := config.Encoder.(ResponseEncoder[TResponse]); ok {
		h.encoder = encoder
	} else {
		h.encoder = NewJSONEncoder[TResponse]()
	}

	if h.errorMapper == nil {
		h.errorMapper = &DefaultErrorMapper{}
	}

	// The chain is built once; ServeHTTP only walks it.
	var chain http.Handler = http.HandlerFunc(h.serve)
	for i := len(h.middleware) - 1; i >= 0; i-- {
		chain = h.middleware[i](chain)
	}
	h.chain = chain

	return h
}

// ServeHTTP implements http.Handler for the typed handler.
func (h *HTTPHandler[TRequest, TResponse]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w = &headWriter{ResponseWriter: w}
	}
	h.chain.ServeHTTP(w, r)
}

func (h *HTTPHandler[TRequest, TResponse]) serve(w http.ResponseWriter, r *http.Request) {
	req, err := h.decoder.Decode(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp, err := h.handler.Handle(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	statusCode := http.StatusOK
	if r.Method == http.MethodPost {
		statusCode = http.StatusCreated
	}
	if sc, ok := any(resp).(StatusCoder); ok && sc.StatusCode() != 0 {
		statusCode = sc.StatusCode()
	}

	if err := h.encoder.Encode(w, resp, statusCode); err != nil {
		// Headers are already on the wire; nothing useful can be sent.
		return
	}
}

// handleError writes the mapped error. A nil body writes the status alone.
func (h *HTTPHandler[TRequest, TResponse]) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		statusCode int
		response   interface{}
	)
	if rm, ok := h.errorMapper.(RequestErrorMapper); ok {
		statusCode, response = rm.MapRequestError(r, err)
	} else {
		statusCode, response = h.errorMapper.MapError(err)
	}

	if response == nil {
		w.WriteHeader(statusCode)
		return
	}

	encoder := NewJSONEncoder[interface{}]()
	if encodeErr := encoder.Encode(w, response, statusCode); encodeErr != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// headWriter answers HEAD requests: the body is discarded and a plain 200
// becomes 204, so clients get the headers of the equivalent GET.
type headWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (hw *headWriter) WriteHeader(code int) {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true
	if code == http.StatusOK {
		code = http.StatusNoContent
		hw.Header().Del("Content-Length")
	}
	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headWriter) Write(p []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return len(p), nil
}

func (hw *headWriter) Unwrap() http.ResponseWriter {
	return hw.ResponseWriter
}
