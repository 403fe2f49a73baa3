// Package api serves the query engine over HTTP.
package api

import (
	"encoding/json"
	"time"

	"github.com/pavelpascari/covidapi/internal/lookup"
)

// DataRequest holds the parameters of /v1/data. Parameters outside this
// set are rejected.
type DataRequest struct {
	Filters   string `query:"filters" description:"Semicolon separated field=value terms; values may be alternatives joined by |" example:"areaType=nation;areaName=england"`
	Structure string `query:"structure" description:"JSON object or array naming the fields to return" example:"{\"date\":\"date\",\"newCases\":\"newCasesByPublishDate\"}"`
	LatestBy  string `query:"latestBy" description:"Metric name or YYYY-MM-DD date that reduces each area to its latest record"`
	Format    string `query:"format" default:"json" description:"json, csv or xml"`
	Page      *int   `query:"page" validate:"omitempty,min=1" description:"1-based page number; omitted returns up to maxPageLimit records"`

	IfNoneMatch string `header:"If-None-Match"`

	Path     string `url:"path"`
	RawQuery string `url:"query"`
	URI      string `url:"uri"`
}

// CodeRequest holds the parameters of /v1/code.
type CodeRequest struct {
	Category string `query:"category" validate:"required" description:"postcode, lsoa, msoa, ltla, utla, region or nation"`
	Search   string `query:"search" validate:"required" description:"Code or name to search for" example:"TN39 3HL"`
}

// CodeResponse renders a single match as an object and any other number of
// matches as an array.
type CodeResponse struct {
	Matches []lookup.Code
}

func (c CodeResponse) MarshalJSON() ([]byte, error) {
	if len(c.Matches) == 1 {
		return json.Marshal(c.Matches[0])
	}
	if c.Matches == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Matches)
}

// TimestampResponse reports the release timestamp of the served dataset.
type TimestampResponse struct {
	WebsiteTimestamp string `json:"websiteTimestamp"`
}

// timestampLayout is ISO-8601 UTC with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// HealthResponse is the plain text healthcheck body.
type HealthResponse string

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Response   string `json:"response"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Code       string `json:"code"`
	RequestID  string `json:"request_id,omitempty"`
}
