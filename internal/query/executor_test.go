package query_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine struct {
	schema   *dataset.Schema
	cfg      query.Config
	executor *query.Executor
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	cfg := query.DefaultConfig()
	store := dataset.NewStore(fixtureSnapshot(t))
	return &engine{
		schema:   dataset.DefaultSchema(),
		cfg:      cfg,
		executor: query.NewExecutor(store, cfg, nil),
	}
}

func (e *engine) request(t *testing.T, filters, structure, latestBy string) query.Request {
	t.Helper()
	expr, err := query.ParseFilters(filters, e.schema, e.cfg)
	require.NoError(t, err)
	s, err := query.ParseStructure(structure, e.schema, e.cfg)
	require.NoError(t, err)
	lb, err := query.ParseLatestBy(latestBy, e.schema)
	require.NoError(t, err)
	return query.Request{Filters: expr, Structure: s, LatestBy: lb}
}

func rowsJSON(t *testing.T, rows []query.Row) string {
	t.Helper()
	out, err := json.Marshal(rows)
	require.NoError(t, err)
	return string(out)
}

func TestExecutor_FourNations(t *testing.T) {
	e := newEngine(t)
	req := e.request(t,
		"areaType=nation;date=2021-08-20",
		`{"areaName":"areaName","newAdmissions":"newAdmissions","date":"date"}`,
		"")

	res, err := e.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "2021-08-20T15:00:00Z", res.Snapshot.Version)

	assert.Equal(t, `[`+
		`{"areaName":"England","newAdmissions":733,"date":"2021-08-20"},`+
		`{"areaName":"Northern Ireland","newAdmissions":44,"date":"2021-08-20"},`+
		`{"areaName":"Scotland","newAdmissions":56,"date":"2021-08-20"},`+
		`{"areaName":"Wales","newAdmissions":26,"date":"2021-08-20"}]`,
		rowsJSON(t, res.Rows))
}

func TestExecutor_NaturalOrder(t *testing.T) {
	e := newEngine(t)
	res, err := e.executor.Execute(context.Background(), e.request(t, "", `["areaType","areaCode","date"]`, ""))
	require.NoError(t, err)
	require.Len(t, res.Rows, 15)

	first, _ := res.Rows[0].Get("areaCode")
	last, _ := res.Rows[14].Get("areaCode")
	assert.Equal(t, "E92000001", first.Value.String())
	assert.Equal(t, "E12000001", last.Value.String())

	lastDate, _ := res.Rows[14].Get("date")
	assert.Equal(t, "2021-08-20", lastDate.Value.String())
}

func TestExecutor_ResidualFilters(t *testing.T) {
	e := newEngine(t)

	t.Run("non_indexed_metric", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(), e.request(t, "newAdmissions=733|26", `["areaName"]`, ""))
		require.NoError(t, err)
		assert.Equal(t, `[{"areaName":"England"},{"areaName":"Wales"}]`, rowsJSON(t, res.Rows))
	})

	t.Run("repeated_index_field", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaType=nation|region;areaType=region;date=2021-08-20", `["areaName"]`, ""))
		require.NoError(t, err)
		assert.Equal(t, `[{"areaName":"North East"}]`, rowsJSON(t, res.Rows))
	})

	t.Run("empty_result_is_not_an_error", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(), e.request(t, "areaType=utla", "", ""))
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
	})
}

func TestExecutor_LatestBy(t *testing.T) {
	e := newEngine(t)

	t.Run("date_boundary", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaCode=E92000001", `["date","newAdmissions"]`, "2021-08-19"))
		require.NoError(t, err)
		assert.Equal(t, `[{"date":"2021-08-19","newAdmissions":700}]`, rowsJSON(t, res.Rows))
	})

	t.Run("one_record_per_area", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaType=nation", `["areaName","date"]`, "2021-08-25"))
		require.NoError(t, err)
		require.Len(t, res.Rows, 4)
		for _, row := range res.Rows {
			d, _ := row.Get("date")
			assert.Equal(t, "2021-08-20", d.Value.String())
		}
	})

	t.Run("groups_without_qualifying_record_are_dropped", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(), e.request(t, "", "", "2021-08-17"))
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
	})

	t.Run("metric_single_latest_date", func(t *testing.T) {
		// Only England reports hospitalCases, last on 08-19; every nation's
		// 08-19 record is returned.
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaType=nation", `["areaName","date","hospitalCases"]`, "hospitalCases"))
		require.NoError(t, err)
		assert.Equal(t, `[{"areaName":"England","date":"2021-08-19","hospitalCases":5001},`+
			`{"areaName":"Northern Ireland","date":"2021-08-19","hospitalCases":null},`+
			`{"areaName":"Scotland","date":"2021-08-19","hospitalCases":null},`+
			`{"areaName":"Wales","date":"2021-08-19","hospitalCases":null}]`, rowsJSON(t, res.Rows))
	})

	t.Run("metric_date_follows_filters", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaType=nation;date=2021-08-18|2021-08-20", `["areaName","date","hospitalCases"]`, "hospitalCases"))
		require.NoError(t, err)
		require.Len(t, res.Rows, 4)
		for _, row := range res.Rows {
			d, _ := row.Get("date")
			assert.Equal(t, "2021-08-18", d.Value.String())
		}
	})

	t.Run("metric_never_reported", func(t *testing.T) {
		res, err := e.executor.Execute(context.Background(),
			e.request(t, "areaCode=W92000004", "", "hospitalCases"))
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
	})
}

func TestExecutor_Deterministic(t *testing.T) {
	e := newEngine(t)
	req := e.request(t, "date=2021-08-19|2021-08-20", "", "")

	first, err := e.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := e.executor.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, rowsJSON(t, first.Rows), rowsJSON(t, second.Rows))
}

func TestExecutor_Failures(t *testing.T) {
	t.Run("dataset_not_loaded", func(t *testing.T) {
		ex := query.NewExecutor(dataset.NewStore(nil), query.DefaultConfig(), nil)
		_, err := ex.Execute(context.Background(), query.Request{})
		assert.ErrorIs(t, err, query.ErrDatasetUnavailable)
		assert.ErrorIs(t, err, dataset.ErrNotLoaded)
	})

	t.Run("deadline_exceeded", func(t *testing.T) {
		e := newEngine(t)
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, err := e.executor.Execute(ctx, query.Request{})
		assert.ErrorIs(t, err, query.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled", func(t *testing.T) {
		e := newEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.executor.Execute(ctx, query.Request{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, query.ErrTimeout)
	})
}

func TestParseLatestBy(t *testing.T) {
	schema := dataset.DefaultSchema()

	lb, err := query.ParseLatestBy("", schema)
	require.NoError(t, err)
	assert.Nil(t, lb)

	lb, err = query.ParseLatestBy("2021-08-19", schema)
	require.NoError(t, err)
	assert.Equal(t, "2021-08-19", lb.String())

	lb, err = query.ParseLatestBy("NEWADMISSIONS", schema)
	require.NoError(t, err)
	assert.Equal(t, "newAdmissions", lb.Metric)

	for _, raw := range []string{"yesterday", "date", "areaCode"} {
		_, err := query.ParseLatestBy(raw, schema)
		assert.ErrorIs(t, err, query.ErrMalformedQuery, raw)
	}
}
