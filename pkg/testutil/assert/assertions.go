// Package assert provides assertion functions for HTTP testing with detailed
// error reporting.
package assert

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/pavelpascari/covidapi/pkg/testutil"
)

const (
	shortTruncateLength = 200
	longTruncateLength  = 500
)

var (
	errFieldNotFound = errors.New("field not found")
	errInvalidAccess = errors.New("cannot access field on this type")
)

// Status verifies the HTTP status code with detailed error reporting.
func Status(t *testing.T, resp *testutil.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Status code mismatch:\n  Expected: %d (%s)\n  Actual:   %d (%s)\n  Response: %s",
			expected, http.StatusText(expected),
			resp.StatusCode, http.StatusText(resp.StatusCode),
			truncateResponse(resp.Raw, shortTruncateLength))
	}
}

// StatusOK verifies the response has 200 OK status.
func StatusOK(t *testing.T, resp *testutil.Response) {
	t.Helper()
	Status(t, resp, http.StatusOK)
}

// Header verifies a response header value.
func Header(t *testing.T, resp *testutil.Response, key, expected string) {
	t.Helper()
	actual := resp.Headers.Get(key)
	if actual != expected {
		t.Errorf("Header %q mismatch:\n  Expected: %q\n  Actual:   %q",
			key, expected, actual)
	}
}

// HeaderExists verifies a response header exists.
func HeaderExists(t *testing.T, resp *testutil.Response, key string) {
	t.Helper()
	if resp.Headers.Get(key) == "" {
		t.Errorf("Expected header %q to exist, but it was not found", key)
	}
}

// HeaderContains verifies a response header contains a substring.
func HeaderContains(t *testing.T, resp *testutil.Response, key, substring string) {
	t.Helper()
	actual := resp.Headers.Get(key)
	if !strings.Contains(actual, substring) {
		t.Errorf("Header %q should contain %q:\n  Actual: %q",
			key, substring, actual)
	}
}

// BodyContains verifies the response body contains a substring.
func BodyContains(t *testing.T, resp *testutil.Response, substring string) {
	t.Helper()
	if !strings.Contains(string(resp.Raw), substring) {
		t.Errorf("Response body should contain %q:\n  Body: %s",
			substring, truncateResponse(resp.Raw, longTruncateLength))
	}
}

// EmptyBody verifies the response body is empty.
func EmptyBody(t *testing.T, resp *testutil.Response) {
	t.Helper()
	if len(resp.Raw) > 0 {
		t.Errorf("Expected empty response body, got: %s",
			truncateResponse(resp.Raw, shortTruncateLength))
	}
}

// JSONField verifies a field of a JSON response. The path uses dots, with
// numeric segments indexing arrays ("body.0.date").
func JSONField(t *testing.T, resp *testutil.Response, fieldPath string, expected interface{}) {
	t.Helper()

	var data interface{}
	if err := json.Unmarshal(resp.Raw, &data); err != nil {
		t.Fatalf("Failed to parse response as JSON: %v\nResponse: %s",
			err, truncateResponse(resp.Raw, longTruncateLength))
	}

	actual, err := getJSONField(data, fieldPath)
	if err != nil {
		t.Fatalf("Failed to get field %q: %v", fieldPath, err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("JSON field %q mismatch:\n  Expected: %v (%T)\n  Actual:   %v (%T)",
			fieldPath, expected, expected, actual, actual)
	}
}

// APIError verifies an error response carries status and the error code.
func APIError(t *testing.T, resp *testutil.Response, status int, code string) {
	t.Helper()

	Status(t, resp, status)

	var body struct {
		StatusCode int    `json:"status_code"`
		Code       string `json:"code"`
	}
	if err := json.Unmarshal(resp.Raw, &body); err != nil {
		t.Fatalf("Failed to parse error response as JSON: %v\nResponse: %s",
			err, truncateResponse(resp.Raw, longTruncateLength))
	}
	if body.StatusCode != status {
		t.Errorf("Error body status_code = %d, expected %d", body.StatusCode, status)
	}
	if body.Code != code {
		t.Errorf("Error code mismatch:\n  Expected: %q\n  Actual:   %q", code, body.Code)
	}
}

// getJSONField extracts a field from JSON data using dot notation.
func getJSONField(data interface{}, path string) (interface{}, error) {
	current := data

	for _, part := range strings.Split(path, ".") {
		switch value := current.(type) {
		case map[string]interface{}:
			val, ok := value[part]
			if !ok {
				return nil, fmt.Errorf("field %q: %w", part, errFieldNotFound)
			}
			current = val
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(value) {
				return nil, fmt.Errorf("index %q: %w", part, errFieldNotFound)
			}
			current = value[i]
		default:
			return nil, fmt.Errorf("field %q on type %T: %w", part, value, errInvalidAccess)
		}
	}

	return current, nil
}

// truncateResponse truncates response body for error messages.
func truncateResponse(body []byte, maxLen int) string {
	if len(body) <= maxLen {
		return string(body)
	}

	return string(body[:maxLen]) + "... (truncated)"
}
