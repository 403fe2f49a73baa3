package query_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	e := newEngine(t)
	req := e.request(t,
		"areaType=nation;date=2021-08-20",
		`{"areaName":"areaName","newAdmissions":"newAdmissions","date":"date"}`,
		"")

	res, err := e.executor.Execute(context.Background(), req)
	require.NoError(t, err)

	p := query.NewPaginator(e.cfg)

	t.Run("requested_page", func(t *testing.T) {
		page := 1
		pg, err := p.Paginate(res.Rows, &page)
		require.NoError(t, err)

		env := query.NewEnvelope(req, &page, pg, p.Links(pg, "/v1/data", "filters=areaType%3Dnation&page=1"), e.cfg)
		assert.Equal(t, 4, env.Length)
		assert.Equal(t, 4, env.TotalRecords)
		assert.Equal(t, 2500, env.MaxPageLimit)
		require.NotNil(t, env.Pagination)
		assert.Nil(t, env.Pagination.Next)

		out, err := json.Marshal(env)
		require.NoError(t, err)

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.JSONEq(t, `{
			"structure": {"areaName":"areaName","newAdmissions":"newAdmissions","date":"date"},
			"filters": [
				{"identifier":"areaType","operator":"=","value":"nation"},
				{"identifier":"date","operator":"=","value":"2021-08-20"}
			],
			"page": 1
		}`, string(decoded["requestPayload"]))
		assert.JSONEq(t, `{
			"current":"/v1/data?filters=areaType%3Dnation&page=1",
			"next":null,
			"previous":null,
			"first":"/v1/data?filters=areaType%3Dnation&page=1",
			"last":"/v1/data?filters=areaType%3Dnation&page=1"
		}`, string(decoded["pagination"]))
	})

	t.Run("unpaginated_has_no_pagination", func(t *testing.T) {
		pg, err := p.Paginate(res.Rows, nil)
		require.NoError(t, err)

		out, err := json.Marshal(query.NewEnvelope(req, nil, pg, nil, e.cfg))
		require.NoError(t, err)

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.NotContains(t, decoded, "pagination")
		assert.Contains(t, string(decoded["requestPayload"]), `"page":null`)
		assert.Equal(t, "4", string(decoded["length"]))
	})

	t.Run("empty_data_is_an_array", func(t *testing.T) {
		out, err := json.Marshal(query.NewEnvelope(query.Request{}, nil, query.Page{}, nil, e.cfg))
		require.NoError(t, err)
		assert.Contains(t, string(out), `"data":[]`)
		assert.Contains(t, string(out), `"filters":[]`)
		assert.Contains(t, string(out), `"page":null`)
	})
}
