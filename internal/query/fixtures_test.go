package query_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/stretchr/testify/require"
)

type series struct {
	areaType, code, name string
	admissions           []int // 2021-08-18, 19, 20
}

var fourNations = []series{
	{"nation", "W92000004", "Wales", []int{20, 24, 26}},
	{"nation", "S92000003", "Scotland", []int{50, 52, 56}},
	{"nation", "N92000002", "Northern Ireland", []int{40, 41, 44}},
	{"nation", "E92000001", "England", []int{690, 700, 733}},
	{"region", "E12000001", "North East", []int{30, 35, 40}},
}

var fixtureDays = []string{"2021-08-18", "2021-08-19", "2021-08-20"}

// fixtureSnapshot builds four nations and one region over three days.
// England also carries hospitalCases on the first two days only.
func fixtureSnapshot(t *testing.T) *dataset.Snapshot {
	t.Helper()
	b := dataset.NewBuilder(dataset.DefaultSchema())

	for _, s := range fourNations {
		for i, d := range fixtureDays {
			date, err := time.Parse(dataset.DateLayout, d)
			require.NoError(t, err)
			require.NoError(t, b.Add(dataset.Observation{
				AreaType: s.areaType,
				AreaCode: s.code,
				AreaName: s.name,
				Date:     date,
				Metric:   "newAdmissions",
				Payload:  []byte(strconv.Itoa(s.admissions[i])),
			}))
			if s.name == "England" && i < 2 {
				require.NoError(t, b.Add(dataset.Observation{
					AreaType: s.areaType,
					AreaCode: s.code,
					AreaName: s.name,
					Date:     date,
					Metric:   "hospitalCases",
					Payload:  []byte(strconv.Itoa(5000 + i)),
				}))
			}
		}
	}

	return b.Build("2021-08-20T15:00:00Z", time.Date(2021, 8, 20, 15, 0, 0, 0, time.UTC))
}
