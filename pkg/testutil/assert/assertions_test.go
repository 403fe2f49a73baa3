package assert

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/pavelpascari/covidapi/pkg/testutil"
)

func TestGetJSONField(t *testing.T) {
	var data interface{}
	if err := json.Unmarshal([]byte(`{"body":[{"date":"2020-05-01","cases":{"new":3}}],"length":1}`), &data); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path    string
		want    interface{}
		wantErr error
	}{
		{path: "length", want: float64(1)},
		{path: "body.0.date", want: "2020-05-01"},
		{path: "body.0.cases.new", want: float64(3)},
		{path: "body.1", wantErr: errFieldNotFound},
		{path: "missing", wantErr: errFieldNotFound},
		{path: "length.x", wantErr: errInvalidAccess},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := getJSONField(data, tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssertions(t *testing.T) {
	resp := &testutil.Response{
		StatusCode: http.StatusBadRequest,
		Headers:    http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Raw:        []byte(`{"response":"Invalid filter","status_code":400,"status":"Bad Request","code":"INVALID_FILTER_FIELD"}`),
	}

	Status(t, resp, http.StatusBadRequest)
	HeaderContains(t, resp, "Content-Type", "json")
	HeaderExists(t, resp, "Content-Type")
	BodyContains(t, resp, "Invalid filter")
	JSONField(t, resp, "status", "Bad Request")
	APIError(t, resp, http.StatusBadRequest, "INVALID_FILTER_FIELD")

	EmptyBody(t, &testutil.Response{StatusCode: http.StatusNoContent})
	Header(t, &testutil.Response{Headers: http.Header{}}, "ETag", "")
}

func TestTruncateResponse(t *testing.T) {
	if got := truncateResponse([]byte("abcdef"), 3); got != "abc... (truncated)" {
		t.Errorf("unexpected truncation %q", got)
	}
	if got := truncateResponse([]byte("abc"), 3); got != "abc" {
		t.Errorf("unexpected truncation %q", got)
	}
}
