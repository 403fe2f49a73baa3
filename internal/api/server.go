package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pavelpascari/covidapi/internal/config"
	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/lookup"
	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/pavelpascari/covidapi/internal/render"
	"github.com/pavelpascari/covidapi/pkg/middleware/auth"
	"github.com/pavelpascari/covidapi/pkg/middleware/observability"
	"github.com/pavelpascari/covidapi/pkg/middleware/processing"
	"github.com/pavelpascari/covidapi/pkg/middleware/ratelimit"
	"github.com/pavelpascari/covidapi/pkg/middleware/recovery"
	"github.com/pavelpascari/covidapi/pkg/openapi"
	"github.com/pavelpascari/covidapi/pkg/typedhttp"
)

// MetricsNamespace prefixes every series the server exports.
const MetricsNamespace = "covidapi"

// Options are the collaborators of a Server.
type Options struct {
	Config   *config.Config
	Accessor dataset.Accessor
	// Source backs the healthcheck ping; nil skips the ping.
	Source   Pinger
	Schema   *dataset.Schema
	Registry *prometheus.Registry
	Logger   *zap.Logger
	Version  string
}

// Server is the assembled HTTP surface.
type Server struct {
	cfg     *config.Config
	router  *typedhttp.TypedRouter
	docs    *openapi.Generator
	handler http.Handler
	logger  *zap.Logger
}

// New registers every route and wraps the router in the middleware chain.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("api: config is required")
	}
	if opts.Accessor == nil {
		return nil, errors.New("api: dataset accessor is required")
	}
	if opts.Schema == nil {
		opts.Schema = dataset.DefaultSchema()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	logger := opts.Logger

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:    cfg,
		router: typedhttp.NewRouter(),
		logger: logger,
		docs: openapi.NewGenerator(&openapi.Config{
			Info: openapi.Info{
				Title:       "Coronavirus (COVID-19) in the UK API",
				Version:     version,
				Description: "Read-only query API over the published UK COVID-19 statistics.",
				License: &openapi.License{
					Name: "Open Government Licence v3.0",
					URL:  "https://www.nationalarchives.gov.uk/doc/open-government-licence/version/3/",
				},
			},
			BearerAuth: cfg.Auth.JWTSecret != "",
			ErrorType:  reflect.TypeOf(ErrorBody{}),
		}),
	}

	mapper := NewErrorMapper(logger.Named("api"))
	executor := query.NewExecutor(opts.Accessor, cfg.Engine.Query(), logger.Named("query"))

	var routeMiddleware []typedhttp.Middleware
	if cfg.Auth.JWTSecret != "" {
		jwt := auth.NewJWTMiddleware([]byte(cfg.Auth.JWTSecret),
			auth.WithOptionalAuth(),
			auth.WithErrorWriter(WriteError),
		)
		routeMiddleware = append(routeMiddleware, jwt.HTTPMiddleware())
	}

	data := NewDataHandler(executor, opts.Schema, cfg.Engine.Restricted, cfg.Engine.RequestTimeout, logger.Named("data"))
	code := NewCodeHandler(lookup.NewResolver(opts.Accessor))
	timestamp := NewTimestampHandler(opts.Accessor)
	health := NewHealthHandler(opts.Accessor, opts.Source, logger.Named("health"))

	for _, prefix := range []string{"/v1", ""} {
		typedhttp.GET(s.router, prefix+"/data", data,
			typedhttp.WithDecoder[DataRequest](typedhttp.NewRequestDecoder[DataRequest](typedhttp.WithStrictQuery())),
			typedhttp.WithEncoder[*typedhttp.RawResponse](typedhttp.NewRawEncoder()),
			typedhttp.WithErrorMapper(mapper),
			typedhttp.WithMiddleware(routeMiddleware...),
			typedhttp.WithTags("data"),
			typedhttp.WithSummary("Query the dataset"),
			typedhttp.WithDescription("Filters, projects and optionally reduces the time series, then returns one page of records."),
			typedhttp.WithResponse("200", "Records", render.ContentTypeJSON, render.ContentTypeCSV, render.ContentTypeXML),
			typedhttp.WithResponse("204", "No records match, or the page is past the end"),
			typedhttp.WithResponse("304", "The representation matches If-None-Match"),
			typedhttp.WithResponse("400", "Invalid format, page or query encoding", "application/json"),
			typedhttp.WithResponse("401", "Restricted filter value or invalid token", "application/json"),
			typedhttp.WithResponse("404", "Unknown parameter or structure field", "application/json"),
			typedhttp.WithResponse("412", "Malformed query", "application/json"),
			typedhttp.WithResponse("413", "Too many filters or structure fields", "application/json"),
			typedhttp.WithResponse("417", "Malformed structure or filter value", "application/json"),
			typedhttp.WithResponse("422", "Invalid filter field", "application/json"),
			typedhttp.WithResponse("429", "Throttled", "application/json"),
			typedhttp.WithResponse("500", "Internal error or timeout", "application/json"),
		)

		typedhttp.GET(s.router, prefix+"/code", code,
			typedhttp.WithErrorMapper(mapper),
			typedhttp.WithTags("lookup"),
			typedhttp.WithSummary("Resolve an area code or name"),
			typedhttp.WithDescription("A single match is returned as an object; zero or several as an array."),
			typedhttp.WithResponse("200", "Matching areas", "application/json"),
			typedhttp.WithResponse("400", "Invalid category or missing search", "application/json"),
			typedhttp.WithResponse("500", "Internal error", "application/json"),
		)

		typedhttp.GET(s.router, prefix+"/timestamp", timestamp,
			typedhttp.WithErrorMapper(mapper),
			typedhttp.WithTags("meta"),
			typedhttp.WithSummary("Release timestamp of the served data"),
			typedhttp.WithResponse("200", "Timestamp", "application/json"),
			typedhttp.WithResponse("500", "No data loaded", "application/json"),
		)
	}

	typedhttp.GET(s.router, "/healthcheck", health,
		typedhttp.WithEncoder[HealthResponse](typedhttp.NewTextEncoder[HealthResponse]()),
		typedhttp.WithErrorMapper(mapper),
		typedhttp.WithTags("meta"),
		typedhttp.WithSummary("Liveness check"),
		typedhttp.WithResponse("200", "ALIVE", "text/plain"),
		typedhttp.WithResponse("500", "The dataset or its source is unavailable", "application/json"),
	)

	s.router.Handle(http.MethodGet, "/metrics",
		promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{Registry: opts.Registry}),
		typedhttp.WithTags("meta"),
		typedhttp.WithSummary("Prometheus metrics"),
		typedhttp.WithResponse("200", "Exposition format", "text/plain"),
	)
	s.router.Handle(http.MethodGet, "/openapi.json", s.docs.DocumentHandler(s.router, openapi.FormatJSON),
		typedhttp.WithTags("meta"),
		typedhttp.WithResponse("200", "OpenAPI document", "application/json"),
	)
	s.router.Handle(http.MethodGet, "/openapi.yaml", s.docs.DocumentHandler(s.router, openapi.FormatYAML),
		typedhttp.WithTags("meta"),
		typedhttp.WithResponse("200", "OpenAPI document", "application/yaml"),
	)

	s.handler = s.chain(opts.Registry)
	return s, nil
}

// chain wraps the router, outermost first: request ID, logging, metrics,
// panic recovery, security headers, CORS, gzip, throttling.
func (s *Server) chain(reg prometheus.Registerer) http.Handler {
	routes := make(map[string]bool)
	for _, h := range s.router.GetHandlers() {
		routes[h.Path] = true
	}

	obs := observability.NewObservabilityMiddleware(
		observability.NewRequestIDMiddleware(),
		observability.NewLoggingMiddleware(s.logger.Named("http"),
			observability.WithLogFields(zap.String("env", s.cfg.Env)),
		),
		observability.NewMetricsMiddleware(reg, MetricsNamespace,
			observability.WithRouteFunc(func(r *http.Request) string {
				if routes[r.URL.Path] {
					return r.URL.Path
				}
				return "unmatched"
			}),
		),
	)

	panics := recovery.NewPanicRecoveryMiddleware(
		recovery.WithLogger(s.logger.Named("recovery")),
		recovery.WithErrorWriter(WriteError),
	)

	corsOpts := []processing.CORSOption{
		processing.WithExposedHeaders([]string{
			"ETag", "Last-Modified", "Content-Location", "Content-Disposition", observability.RequestIDHeader,
		}),
	}
	if origins := s.cfg.CORS.AllowedOrigins; len(origins) > 0 {
		corsOpts = append(corsOpts, processing.WithAllowedOrigins(origins))
	}
	proc := processing.NewProcessingMiddleware(
		processing.NewSecurityHeadersMiddleware(),
		processing.NewCORSMiddleware(corsOpts...),
		processing.NewCompressionMiddleware(),
	)

	handler := http.Handler(s.router)
	if rl := s.cfg.RateLimit; rl.RPS > 0 {
		burst := max(rl.Burst, 1)
		limiter := ratelimit.NewRateLimitMiddleware(
			ratelimit.NewKeyedLimiter(rl.RPS, burst),
			ratelimit.WithSkipper(func(r *http.Request) bool {
				return r.URL.Path == "/healthcheck" || r.URL.Path == "/metrics"
			}),
			ratelimit.WithErrorWriter(WriteError),
			ratelimit.WithLimitHeader(burst),
		)
		handler = limiter.HTTPMiddleware()(handler)
	}

	handler = proc.HTTPMiddleware()(handler)
	handler = panics.HTTPMiddleware()(handler)
	return obs.HTTPMiddleware()(handler)
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Router exposes the route registrations.
func (s *Server) Router() *typedhttp.TypedRouter { return s.router }

// OpenAPI renders the API document.
func (s *Server) OpenAPI(format openapi.Format) ([]byte, error) {
	return s.docs.Render(s.router, format)
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("http server shutting down", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
