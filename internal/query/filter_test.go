package query_test

import (
	"testing"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	schema := dataset.DefaultSchema()
	cfg := query.DefaultConfig()

	t.Run("empty_string_matches_everything", func(t *testing.T) {
		for _, raw := range []string{"", " ", ";;", " ; "} {
			expr, err := query.ParseFilters(raw, schema, cfg)
			require.NoError(t, err)
			assert.Empty(t, expr.Terms)
			assert.True(t, expr.Matches(&dataset.Record{AreaType: "nation"}))
		}
	})

	t.Run("conjunctive_terms", func(t *testing.T) {
		expr, err := query.ParseFilters("areaType=nation;date=2021-08-20", schema, cfg)
		require.NoError(t, err)
		require.Len(t, expr.Terms, 2)

		assert.Equal(t, dataset.FieldAreaType, expr.Terms[0].Field.Name)
		assert.Equal(t, []string{"nation"}, expr.Terms[0].Raw)
		assert.Equal(t, dataset.FieldDate, expr.Terms[1].Field.Name)
		assert.Equal(t, []string{"2021-08-20"}, expr.Terms[1].Raw)
	})

	t.Run("normalizes_case_and_whitespace", func(t *testing.T) {
		expr, err := query.ParseFilters(" AREATYPE = Nation | NHSREGION ; areacode=e92000001;AreaName=ENGLAND ", schema, cfg)
		require.NoError(t, err)
		require.Len(t, expr.Terms, 3)

		assert.Equal(t, "areaType=nation|nhsRegion;areaCode=E92000001;areaName=england", expr.String())
	})

	t.Run("drops_time_part_of_dates", func(t *testing.T) {
		expr, err := query.ParseFilters("date=2021-08-20T10:30:00", schema, cfg)
		require.NoError(t, err)
		assert.Equal(t, "date=2021-08-20", expr.String())
	})

	t.Run("duplicate_alternatives_collapse", func(t *testing.T) {
		expr, err := query.ParseFilters("areaType=nation|NATION", schema, cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{"nation"}, expr.Terms[0].Raw)
	})

	t.Run("repeated_field_stays_conjunctive", func(t *testing.T) {
		expr, err := query.ParseFilters("areaType=nation;areaType=region", schema, cfg)
		require.NoError(t, err)
		require.Len(t, expr.Terms, 2)
		assert.False(t, expr.Matches(&dataset.Record{AreaType: "nation"}))
	})

	t.Run("typed_metric_values", func(t *testing.T) {
		expr, err := query.ParseFilters("newAdmissions=733", schema, cfg)
		require.NoError(t, err)

		r := &dataset.Record{Metrics: map[string]dataset.Value{"newAdmissions": dataset.IntValue(733)}}
		assert.True(t, expr.Matches(r))
		r.Metrics["newAdmissions"] = dataset.IntValue(26)
		assert.False(t, expr.Matches(r))
	})

	t.Run("area_name_matches_any_case", func(t *testing.T) {
		expr, err := query.ParseFilters("areaName=northern ireland", schema, cfg)
		require.NoError(t, err)
		assert.True(t, expr.Matches(&dataset.Record{AreaName: "Northern Ireland"}))
	})
}

func TestParseFilters_Errors(t *testing.T) {
	schema := dataset.DefaultSchema()
	cfg := query.DefaultConfig()

	tests := []struct {
		name    string
		raw     string
		want    error
		message string
	}{
		{"missing_operator", "areaType", query.ErrInvalidFilterField, "expected the form"},
		{"empty_field", "=nation", query.ErrInvalidFilterField, "field name is empty"},
		{"unknown_field_with_suggestion", "areTyp=nation", query.ErrInvalidFilterField, "Did you mean 'areaType'?"},
		{"unknown_field_without_suggestion", "zzz=1", query.ErrInvalidFilterField, "Invalid filter parameter 'zzz'."},
		{"list_field", "newCasesBySpecimenDateAgeDemographics=1", query.ErrInvalidFilterField, "cannot be used as a filter"},
		{"empty_value", "areaType=", query.ErrMalformedFilterValue, "Empty value"},
		{"empty_alternative", "areaType=nation|", query.ErrMalformedFilterValue, "Empty value"},
		{"bad_date", "date=yesterday", query.ErrMalformedFilterValue, "expected date"},
		{"bad_int", "newAdmissions=many", query.ErrMalformedFilterValue, "expected int"},
		{"unknown_area_type", "areaType=nations", query.ErrMalformedFilterValue, "Did you mean 'nation'?"},
		{"too_many_values", "areaType=nation|region|utla;date=2021-08-19|2021-08-20|2021-08-21", query.ErrTooManyFilters, "at most 5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := query.ParseFilters(tc.raw, schema, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestExpression_Idempotent(t *testing.T) {
	schema := dataset.DefaultSchema()
	cfg := query.DefaultConfig()

	for _, raw := range []string{
		"areaType=nation;date=2021-08-20",
		"areaType=NATION|region ; areaCode=e92000001",
		"areaName=England;newAdmissions=733",
		"transmissionRateMin=0.9;date=2021-08-20T00:00:00",
	} {
		first, err := query.ParseFilters(raw, schema, cfg)
		require.NoError(t, err)

		second, err := query.ParseFilters(first.String(), schema, cfg)
		require.NoError(t, err)

		assert.Equal(t, first, second, raw)
		assert.Equal(t, first.Echo(), second.Echo(), raw)
	}
}

func TestExpression_Echo(t *testing.T) {
	expr, err := query.ParseFilters("areaType=nation;date=2021-08-20", dataset.DefaultSchema(), query.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []query.FilterEcho{
		{Identifier: "areaType", Operator: "=", Value: "nation"},
		{Identifier: "date", Operator: "=", Value: "2021-08-20"},
	}, expr.Echo())

	assert.Equal(t, []query.FilterEcho{}, query.Expression{}.Echo())
}

func TestCheckRestricted(t *testing.T) {
	schema := dataset.DefaultSchema()
	restricted := map[string][]string{"areaType": {"msoa"}}

	expr, err := query.ParseFilters("areaType=nation|MSOA", schema, query.DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, query.CheckRestricted(expr, restricted), query.ErrUnauthorised)

	expr, err = query.ParseFilters("areaType=nation", schema, query.DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, query.CheckRestricted(expr, restricted))
	assert.NoError(t, query.CheckRestricted(expr, nil))
}
