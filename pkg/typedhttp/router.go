package typedhttp

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	globalValidator     *validator.Validate
	globalValidatorOnce sync.Once
)

// getGlobalValidator returns a singleton validator that reports fields by
// their query or header name rather than the Go field name.
func getGlobalValidator() *validator.Validate {
	globalValidatorOnce.Do(func() {
		globalValidator = validator.New()
		globalValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"query", "header"} {
				if name := field.Tag.Get(tag); name != "" && name != "-" {
					return name
				}
			}
			return strings.ToLower(field.Name)
		})
	})
	return globalValidator
}

// HandlerRegistration stores metadata about a registered handler for OpenAPI generation.
// RequestType and ResponseType are nil for plain http.Handler registrations.
type HandlerRegistration struct {
	Method       string
	Path         string
	RequestType  reflect.Type
	ResponseType reflect.Type
	Metadata     OpenAPIMetadata
}

// TypedRouter is a router with typed handler registration.
type TypedRouter struct {
	handlers []HandlerRegistration
	mux      *http.ServeMux
}

// NewRouter creates a new typed router.
func NewRouter() *TypedRouter {
	return &TypedRouter{
		handlers: make([]HandlerRegistration, 0),
		mux:      http.NewServeMux(),
	}
}

// ServeHTTP implements http.Handler.
func (r *TypedRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// GetHandlers returns all registered handlers.
func (r *TypedRouter) GetHandlers() []HandlerRegistration {
	return r.handlers
}

func (r *TypedRouter) registerHandler(
	method, path string,
	httpHandler http.Handler,
	requestType, responseType reflect.Type,
	metadata *OpenAPIMetadata,
) {
	r.handlers = append(r.handlers, HandlerRegistration{
		Method:       method,
		Path:         path,
		RequestType:  requestType,
		ResponseType: responseType,
		Metadata:     *metadata,
	})

	// A GET pattern also serves HEAD.
	r.mux.Handle(method+" "+path, httpHandler)
}

// Handle registers a plain http.Handler, for endpoints such as /metrics
// whose responses are produced by other libraries.
func (r *TypedRouter) Handle(method, path string, handler http.Handler, opts ...HandlerOption) {
	config := &HandlerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	var chain = handler
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		chain = config.Middleware[i](chain)
	}

	r.registerHandler(method, path, chain, nil, nil, &config.Metadata)
}

// RegisterHandler registers a typed handler with the specified method and path.
func RegisterHandler[TReq, TResp any](
	router *TypedRouter,
	method, path string,
	handler Handler[TReq, TResp],
	opts ...HandlerOption,
) {
	httpHandler := NewHTTPHandler(handler, opts...)

	router.registerHandler(
		method,
		path,
		httpHandler,
		reflect.TypeOf((*TReq)(nil)).Elem(),
		reflect.TypeOf((*TResp)(nil)).Elem(),
		&httpHandler.metadata,
	)
}

// GET registers a handler for GET, which also answers HEAD.
func GET[TReq, TResp any](router *TypedRouter, path string, handler Handler[TReq, TResp], opts ...HandlerOption) {
	RegisterHandler(router, http.MethodGet, path, handler, opts...)
}

// HEAD registers a handler that answers HEAD only.
func HEAD[TReq, TResp any](router *TypedRouter, path string, handler Handler[TReq, TResp], opts ...HandlerOption) {
	RegisterHandler(router, http.MethodHead, path, handler, opts...)
}
