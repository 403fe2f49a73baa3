package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelpascari/covidapi/internal/api"
	"github.com/pavelpascari/covidapi/internal/config"
	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/pavelpascari/covidapi/internal/render"
	"github.com/pavelpascari/covidapi/pkg/middleware/auth"
	"github.com/pavelpascari/covidapi/pkg/testutil"
	"github.com/pavelpascari/covidapi/pkg/testutil/client"
	testassert "github.com/pavelpascari/covidapi/pkg/testutil/assert"
)

const testSecret = "test-secret"

var released = time.Date(2021, 8, 20, 15, 0, 0, 0, time.UTC)

func fixtureSnapshot(t *testing.T) *dataset.Snapshot {
	t.Helper()
	b := dataset.NewBuilder(dataset.DefaultSchema())

	nations := []struct {
		code, name string
		cases      []int
	}{
		{"E92000001", "England", []int{30000, 31000, 32000}},
		{"N92000002", "Northern Ireland", []int{1200, 1300, 1400}},
		{"S92000003", "Scotland", []int{1800, 1900, 2000}},
		{"W92000004", "Wales", []int{700, 800, 900}},
	}
	days := []string{"2021-08-18", "2021-08-19", "2021-08-20"}

	for _, n := range nations {
		for i, d := range days {
			date, err := time.Parse(dataset.DateLayout, d)
			require.NoError(t, err)
			for _, metric := range []string{"newCasesByPublishDate", "newAdmissions"} {
				require.NoError(t, b.Add(dataset.Observation{
					AreaType: "nation",
					AreaCode: n.code,
					AreaName: n.name,
					Date:     date,
					Metric:   metric,
					Payload:  []byte(strconv.Itoa(n.cases[i])),
				}))
			}
		}
	}

	rother := dataset.Place{
		Lsoa: "E01020966", LsoaName: "Rother 013C",
		Msoa: "E02004354", MsoaName: "Central",
		Ltla: "E07000064", LtlaName: "Rother",
		Utla: "E10000032", UtlaName: "East Sussex",
		Region: "E12000008", RegionName: "South East",
		Nation: "E92000001", NationName: "England",
	}
	a := rother
	a.Postcode, a.Longitude, a.Latitude = "TN39 3HL", 0.464339, 50.841458
	b.AddPlace(a)

	c := rother
	c.Postcode = "TN40 1AB"
	c.Msoa = "E02004355"
	b.AddPlace(c)

	return b.Build("2021-08-20T15:00:00Z", released)
}

type fixture struct {
	store  *dataset.Store
	client *client.Client
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.RateLimit.RPS = 0
	cfg.Engine.Restricted = map[string][]string{"areaCode": {"W92000004"}}
	for _, m := range mutate {
		m(cfg)
	}

	store := dataset.NewStore(fixtureSnapshot(t))
	srv, err := api.New(api.Options{Config: cfg, Accessor: store, Version: "test"})
	require.NoError(t, err)

	return &fixture{store: store, client: client.NewClient(srv.Handler())}
}

func (f *fixture) do(t *testing.T, req testutil.Request) *testutil.Response {
	t.Helper()
	resp, err := f.client.Execute(context.Background(), req)
	require.NoError(t, err)
	return resp
}

// rawQuery keeps parameter order, which the pagination links preserve.
func rawQuery(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, url.QueryEscape(pairs[i])+"="+url.QueryEscape(pairs[i+1]))
	}
	return strings.Join(parts, "&")
}

func TestData_JSON(t *testing.T) {
	f := newFixture(t)
	req := testutil.GET("/v1/data", rawQuery(
		"filters", "areaType=nation;date=2021-08-20",
		"structure", `{"name":"areaName","cases":"newCasesByPublishDate"}`,
	))

	resp := f.do(t, req)
	testassert.StatusOK(t, resp)
	testassert.Header(t, resp, "Content-Type", render.ContentTypeJSON)
	testassert.Header(t, resp, "Cache-Control", "public, max-age=90")
	testassert.Header(t, resp, "Last-Modified", "Fri, 20 Aug 2021 15:00:00 GMT")
	testassert.Header(t, resp, "Content-Location", req.URL())
	testassert.HeaderExists(t, resp, "ETag")
	testassert.HeaderExists(t, resp, "X-Request-ID")
	testassert.Header(t, resp, "X-Content-Type-Options", "nosniff")

	testassert.JSONField(t, resp, "length", float64(4))
	testassert.JSONField(t, resp, "totalRecords", float64(4))
	testassert.JSONField(t, resp, "maxPageLimit", float64(2500))
	testassert.JSONField(t, resp, "data.0.name", "England")
	testassert.JSONField(t, resp, "data.0.cases", float64(32000))
	testassert.JSONField(t, resp, "data.3.name", "Wales")
	assert.NotContains(t, string(resp.Raw), `"pagination"`)
	assert.True(t, strings.Index(string(resp.Raw), `"name"`) < strings.Index(string(resp.Raw), `"cases"`))
}

func TestData_UnprefixedPath(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.GET("/data", rawQuery("filters", "areaType=nation")))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "length", float64(12))
}

func TestData_Formats(t *testing.T) {
	f := newFixture(t)
	filters := "areaType=nation;areaCode=E92000001"

	t.Run("csv", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", filters, "format", "csv")))
		testassert.StatusOK(t, resp)
		testassert.Header(t, resp, "Content-Type", render.ContentTypeCSV)
		testassert.HeaderContains(t, resp, "Content-Disposition", "attachment")
		testassert.HeaderContains(t, resp, "Content-Disposition", render.CSVFilename(released))

		lines := strings.Split(strings.TrimSpace(string(resp.Raw)), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "areaType,areaCode,areaName,date"))
	})

	t.Run("xml", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", filters, "format", "xml")))
		testassert.StatusOK(t, resp)
		testassert.Header(t, resp, "Content-Type", render.ContentTypeXML)
		testassert.BodyContains(t, resp, "<?xml")
		testassert.BodyContains(t, resp, "England")
	})

	t.Run("unknown_format", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", filters, "format", "yaml")))
		testassert.APIError(t, resp, http.StatusBadRequest, "INVALID_FORMAT")
	})
}

func TestData_Pagination(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Engine.PageSize = 5 })
	q := rawQuery("filters", "areaType=nation", "page", "2")

	resp := f.do(t, testutil.GET("/v1/data", q))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "length", float64(5))
	testassert.JSONField(t, resp, "totalRecords", float64(12))
	testassert.JSONField(t, resp, "requestPayload.page", float64(2))

	var body struct {
		Pagination query.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(resp.Raw, &body))
	prefix := "/v1/data?" + rawQuery("filters", "areaType=nation") + "&page="
	require.NotNil(t, body.Pagination.Current)
	assert.Equal(t, prefix+"2", *body.Pagination.Current)
	assert.Equal(t, prefix+"1", *body.Pagination.Previous)
	assert.Equal(t, prefix+"3", *body.Pagination.Next)
	assert.Equal(t, prefix+"1", *body.Pagination.First)
	assert.Equal(t, prefix+"3", *body.Pagination.Last)

	t.Run("past_the_end", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", "areaType=nation", "page", "4")))
		testassert.Status(t, resp, http.StatusNoContent)
		testassert.EmptyBody(t, resp)
	})

	for _, page := range []string{"0", "-1", "two"} {
		t.Run("invalid_"+page, func(t *testing.T) {
			resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", "areaType=nation", "page", page)))
			testassert.APIError(t, resp, http.StatusBadRequest, "INVALID_PAGE")
		})
	}
}

func TestData_EmptyResult(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.GET("/v1/data", rawQuery("filters", "areaType=utla")))
	testassert.Status(t, resp, http.StatusNoContent)
	testassert.EmptyBody(t, resp)
}

func TestData_ConditionalRequests(t *testing.T) {
	f := newFixture(t)
	req := testutil.GET("/v1/data", rawQuery("filters", "areaType=nation;date=2021-08-19"))

	first := f.do(t, req)
	testassert.StatusOK(t, first)
	etag := first.Headers.Get("ETag")
	require.NotEmpty(t, etag)

	second := f.do(t, req)
	assert.Equal(t, etag, second.Headers.Get("ETag"))

	notModified := f.do(t, testutil.WithHeader(req, "If-None-Match", etag))
	testassert.Status(t, notModified, http.StatusNotModified)
	testassert.EmptyBody(t, notModified)
	testassert.Header(t, notModified, "ETag", etag)

	stale := f.do(t, testutil.WithHeader(req, "If-None-Match", `"stale"`))
	testassert.StatusOK(t, stale)
}

func TestData_Head(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.HEAD("/v1/data", rawQuery("filters", "areaType=nation")))
	testassert.Status(t, resp, http.StatusNoContent)
	testassert.EmptyBody(t, resp)
	testassert.HeaderExists(t, resp, "ETag")
	testassert.Header(t, resp, "Cache-Control", "public, max-age=90")
}

func TestData_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{"unknown_parameter", rawQuery("filters", "areaType=nation", "limit", "1"), http.StatusNotFound, "INVALID_PARAMETER"},
		{"repeated_parameter", "format=json&format=csv", http.StatusPreconditionFailed, "MALFORMED_QUERY"},
		{"bad_encoding", "filters=%zz", http.StatusBadRequest, "MALFORMED_QUERY_STRING"},
		{"unknown_filter_field", rawQuery("filters", "colour=blue"), http.StatusUnprocessableEntity, "INVALID_FILTER_FIELD"},
		{"bad_filter_value", rawQuery("filters", "date=yesterday"), http.StatusExpectationFailed, "MALFORMED_FILTER_VALUE"},
		{"too_many_values", rawQuery("filters", "areaCode=a|b|c|d|e|f"), http.StatusRequestEntityTooLarge, "TOO_MANY_FILTERS"},
		{"bad_structure_json", rawQuery("structure", "{"), http.StatusExpectationFailed, "MALFORMED_STRUCTURE"},
		{"unknown_structure_field", rawQuery("structure", `["colour"]`), http.StatusNotFound, "UNKNOWN_STRUCTURE_FIELD"},
		{"bad_latest_by", rawQuery("latestBy", "yesterday"), http.StatusPreconditionFailed, "MALFORMED_QUERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, testutil.GET("/v1/data", tt.query))
			testassert.APIError(t, resp, tt.status, tt.code)
			testassert.JSONField(t, resp, "status", http.StatusText(tt.status))
		})
	}

	t.Run("error_body_carries_request_id", func(t *testing.T) {
		req := testutil.WithHeader(testutil.GET("/v1/data", "page=0"), "X-Request-ID", "req-123")
		resp := f.do(t, req)
		testassert.JSONField(t, resp, "request_id", "req-123")
		testassert.Header(t, resp, "X-Request-ID", "req-123")
	})

	t.Run("malformed_request_id_is_replaced", func(t *testing.T) {
		req := testutil.WithHeader(testutil.GET("/v1/data", "page=0"), "X-Request-ID", "req 123; <x>")
		resp := f.do(t, req)

		id := resp.Headers.Get("X-Request-ID")
		assert.NotEqual(t, "req 123; <x>", id)
		assert.Len(t, id, 36)
		testassert.JSONField(t, resp, "request_id", id)
	})
}

func TestData_LatestBy(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.GET("/v1/data", rawQuery(
		"filters", "areaType=nation",
		"structure", `["areaName","date"]`,
		"latestBy", "2021-08-19",
	)))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "length", float64(4))
	testassert.JSONField(t, resp, "data.0.date", "2021-08-19")
	testassert.JSONField(t, resp, "requestPayload.latestBy", "2021-08-19")
}

func TestData_RestrictedValues(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth.JWTSecret = testSecret })
	req := testutil.GET("/v1/data", rawQuery("filters", "areaType=nation;areaCode=W92000004"))

	resp := f.do(t, req)
	testassert.APIError(t, resp, http.StatusUnauthorized, "UNAUTHORISED")

	token, _, err := auth.NewJWTMiddleware([]byte(testSecret)).GenerateToken(&auth.Principal{Subject: "analyst"})
	require.NoError(t, err)

	resp = f.do(t, testutil.WithAuth(req, token))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "data.0.areaName", "Wales")

	resp = f.do(t, testutil.WithAuth(req, "not-a-token"))
	testassert.APIError(t, resp, http.StatusUnauthorized, "UNAUTHORISED")
}

func TestCode(t *testing.T) {
	f := newFixture(t)

	t.Run("single_match_is_an_object", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/code", rawQuery("category", "postcode", "search", "tn393hl")))
		testassert.StatusOK(t, resp)
		testassert.JSONField(t, resp, "postcode", "TN39 3HL")
		testassert.JSONField(t, resp, "trimmedPostcode", "TN393HL")
		testassert.JSONField(t, resp, "ltlaName", "Rother")
		testassert.JSONField(t, resp, "geometry.type", "Point")
	})

	t.Run("shared_area_is_one_match", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/code", rawQuery("category", "LTLA", "search", "rother")))
		testassert.StatusOK(t, resp)
		testassert.JSONField(t, resp, "ltla", "E07000064")
		testassert.JSONField(t, resp, "postcode", "")
	})

	t.Run("several_matches_are_an_array", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/code", rawQuery("category", "msoa", "search", "Central")))
		testassert.StatusOK(t, resp)
		var matches []map[string]any
		require.NoError(t, json.Unmarshal(resp.Raw, &matches))
		assert.Len(t, matches, 2)
	})

	t.Run("no_match_is_an_empty_array", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/code", rawQuery("category", "nation", "search", "Atlantis")))
		testassert.StatusOK(t, resp)
		assert.JSONEq(t, `[]`, string(resp.Raw))
	})

	t.Run("invalid_category", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/code", rawQuery("category", "county", "search", "Kent")))
		testassert.APIError(t, resp, http.StatusBadRequest, "INVALID_CATEGORY")
	})

	t.Run("missing_search", func(t *testing.T) {
		resp := f.do(t, testutil.GET("/v1/code", rawQuery("category", "ltla")))
		testassert.APIError(t, resp, http.StatusBadRequest, "MISSING_PARAMETER")
	})
}

func TestTimestamp(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.GET("/v1/timestamp", ""))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "websiteTimestamp", "2021-08-20T15:00:00.000000Z")

	t.Run("not_loaded", func(t *testing.T) {
		cfg, err := config.Load(config.New(), "")
		require.NoError(t, err)
		srv, err := api.New(api.Options{Config: cfg, Accessor: dataset.NewStore(nil)})
		require.NoError(t, err)

		resp, err := client.NewClient(srv.Handler()).Execute(context.Background(), testutil.GET("/timestamp", ""))
		require.NoError(t, err)
		testassert.APIError(t, resp, http.StatusInternalServerError, "INTERNAL_ERROR")
	})
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthcheck(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, testutil.GET("/healthcheck", ""))
	testassert.StatusOK(t, resp)
	assert.Equal(t, "ALIVE", string(resp.Raw))
	testassert.HeaderContains(t, resp, "Content-Type", "text/plain")

	resp = f.do(t, testutil.HEAD("/healthcheck", ""))
	testassert.Status(t, resp, http.StatusNoContent)

	t.Run("source_down", func(t *testing.T) {
		cfg, err := config.Load(config.New(), "")
		require.NoError(t, err)
		srv, err := api.New(api.Options{
			Config:   cfg,
			Accessor: dataset.NewStore(fixtureSnapshot(t)),
			Source:   failingPinger{},
		})
		require.NoError(t, err)

		resp, err := client.NewClient(srv.Handler()).Execute(context.Background(), testutil.GET("/healthcheck", ""))
		require.NoError(t, err)
		testassert.APIError(t, resp, http.StatusInternalServerError, "INTERNAL_ERROR")
	})
}

func TestServer_Compression(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.WithGzip(testutil.GET("/v1/data", rawQuery("filters", "areaType=nation"))))
	testassert.StatusOK(t, resp)
	testassert.Header(t, resp, "Content-Encoding", "gzip")
	testassert.JSONField(t, resp, "length", float64(12))
}

func TestServer_RateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.RPS = 0.001
		c.RateLimit.Burst = 1
	})
	req := testutil.GET("/v1/timestamp", "")

	testassert.StatusOK(t, f.do(t, req))
	testassert.APIError(t, f.do(t, req), http.StatusTooManyRequests, "TOO_MANY_REQUESTS")

	// health checks are never throttled
	testassert.StatusOK(t, f.do(t, testutil.GET("/healthcheck", "")))
	testassert.StatusOK(t, f.do(t, testutil.GET("/healthcheck", "")))
}

func TestServer_Documents(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, testutil.GET("/openapi.json", ""))
	testassert.StatusOK(t, resp)
	testassert.JSONField(t, resp, "info.version", "test")
	testassert.BodyContains(t, resp, `"/v1/data"`)
	testassert.BodyContains(t, resp, `"/v1/code"`)

	resp = f.do(t, testutil.GET("/openapi.yaml", ""))
	testassert.StatusOK(t, resp)
	testassert.BodyContains(t, resp, "openapi: 3.")

	f.do(t, testutil.GET("/v1/timestamp", ""))
	resp = f.do(t, testutil.GET("/metrics", ""))
	testassert.StatusOK(t, resp)
	testassert.BodyContains(t, resp, api.MetricsNamespace+"_")
	testassert.BodyContains(t, resp, `route="/v1/timestamp"`)
}

func TestServer_UnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, testutil.GET("/v2/data", ""))
	testassert.Status(t, resp, http.StatusNotFound)

	resp = f.do(t, testutil.Request{Method: http.MethodPost, Path: "/v1/data"})
	testassert.Status(t, resp, http.StatusMethodNotAllowed)
}
