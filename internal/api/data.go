package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/pavelpascari/covidapi/internal/render"
	"github.com/pavelpascari/covidapi/pkg/middleware/auth"
	"github.com/pavelpascari/covidapi/pkg/typedhttp"
)

const cacheControl = "public, max-age=90"

// DataHandler answers /v1/data queries.
type DataHandler struct {
	executor   *query.Executor
	paginator  *query.Paginator
	schema     *dataset.Schema
	restricted map[string][]string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDataHandler creates the data handler. Filter values listed in
// restricted are only served to authenticated callers.
func NewDataHandler(
	executor *query.Executor,
	schema *dataset.Schema,
	restricted map[string][]string,
	timeout time.Duration,
	logger *zap.Logger,
) *DataHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataHandler{
		executor:   executor,
		paginator:  query.NewPaginator(executor.Config()),
		schema:     schema,
		restricted: restricted,
		timeout:    timeout,
		logger:     logger,
	}
}

// Handle parses, executes and renders one query.
func (h *DataHandler) Handle(ctx context.Context, req DataRequest) (*typedhttp.RawResponse, error) {
	cfg := h.executor.Config()

	format, err := render.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}

	filters, err := query.ParseFilters(req.Filters, h.schema, cfg)
	if err != nil {
		return nil, err
	}

	structure, err := query.ParseStructure(req.Structure, h.schema, cfg)
	if err != nil {
		return nil, err
	}

	latestBy, err := query.ParseLatestBy(req.LatestBy, h.schema)
	if err != nil {
		return nil, err
	}

	if _, ok := auth.PrincipalFromContext(ctx); !ok {
		if err := query.CheckRestricted(filters, h.restricted); err != nil {
			return nil, err
		}
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	qreq := query.Request{Filters: filters, Structure: structure, LatestBy: latestBy}
	result, err := h.executor.Execute(ctx, qreq)
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return &typedhttp.RawResponse{Status: http.StatusNoContent}, nil
	}

	page, err := h.paginator.Paginate(result.Rows, req.Page)
	if errors.Is(err, query.ErrPageOutOfRange) {
		return &typedhttp.RawResponse{Status: http.StatusNoContent}, nil
	}
	if err != nil {
		return nil, err
	}

	links := h.paginator.Links(page, req.Path, req.RawQuery)
	env := query.NewEnvelope(qreq, req.Page, page, links, cfg)

	etag, err := render.ETag(env)
	if err != nil {
		return nil, err
	}

	header := h.successHeader(result.Snapshot, req, etag)
	if etagMatches(req.IfNoneMatch, etag) {
		return &typedhttp.RawResponse{Status: http.StatusNotModified, Header: header}, nil
	}

	var body bytes.Buffer
	if err := render.Render(&body, format, env, structure); err != nil {
		return nil, err
	}
	if format == render.FormatCSV {
		header.Set("Content-Disposition", `attachment; filename="`+render.CSVFilename(result.Snapshot.Timestamp)+`"`)
	}

	h.logger.Debug("data served",
		zap.String("format", string(format)),
		zap.Int("records", env.Length),
		zap.Int("total", env.TotalRecords),
		zap.String("version", result.Snapshot.Version),
	)

	return &typedhttp.RawResponse{
		Status:      http.StatusOK,
		ContentType: format.ContentType(),
		Header:      header,
		Body:        body.Bytes(),
	}, nil
}

func (h *DataHandler) successHeader(snap *dataset.Snapshot, req DataRequest, etag string) http.Header {
	header := make(http.Header)
	header.Set("ETag", etag)
	header.Set("Cache-Control", cacheControl)
	header.Set("Content-Location", req.URI)
	if snap != nil && !snap.Timestamp.IsZero() {
		header.Set("Last-Modified", snap.Timestamp.UTC().Format(http.TimeFormat))
	}
	return header
}

// etagMatches implements the If-None-Match comparison. Weak tags compare
// by their opaque value.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
