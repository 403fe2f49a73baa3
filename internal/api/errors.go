package api

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/pavelpascari/covidapi/internal/query"
	"github.com/pavelpascari/covidapi/pkg/middleware/observability"
	"github.com/pavelpascari/covidapi/pkg/typedhttp"
)

type kindStatus struct {
	status int
	code   string
}

var kindStatuses = map[query.Kind]kindStatus{
	query.KindInvalidFilterField:    {http.StatusUnprocessableEntity, "INVALID_FILTER_FIELD"},
	query.KindMalformedFilterValue:  {http.StatusExpectationFailed, "MALFORMED_FILTER_VALUE"},
	query.KindTooManyFilters:        {http.StatusRequestEntityTooLarge, "TOO_MANY_FILTERS"},
	query.KindMalformedStructure:    {http.StatusExpectationFailed, "MALFORMED_STRUCTURE"},
	query.KindStructureTooComplex:   {http.StatusExpectationFailed, "STRUCTURE_TOO_COMPLEX"},
	query.KindStructureTooLarge:     {http.StatusRequestEntityTooLarge, "STRUCTURE_TOO_LARGE"},
	query.KindUnknownStructureField: {http.StatusNotFound, "UNKNOWN_STRUCTURE_FIELD"},
	query.KindInvalidParameter:      {http.StatusNotFound, "INVALID_PARAMETER"},
	query.KindMalformedQuery:        {http.StatusPreconditionFailed, "MALFORMED_QUERY"},
	query.KindInvalidPage:           {http.StatusBadRequest, "INVALID_PAGE"},
	query.KindInvalidFormat:         {http.StatusBadRequest, "INVALID_FORMAT"},
	query.KindInvalidCategory:       {http.StatusBadRequest, "INVALID_CATEGORY"},
	query.KindUnauthorised:          {http.StatusUnauthorized, "UNAUTHORISED"},
	query.KindTimeout:               {http.StatusInternalServerError, "REQUEST_TIMEOUT"},
	query.KindDatasetUnavailable:    {http.StatusInternalServerError, "INTERNAL_ERROR"},
}

const internalMessage = "An internal error occurred while processing the request."

// ErrorMapper turns engine and transport errors into error bodies. It
// implements typedhttp.RequestErrorMapper so bodies carry the request ID.
type ErrorMapper struct {
	logger *zap.Logger
}

// NewErrorMapper creates the mapper. Server errors are logged with the
// raw query that caused them.
func NewErrorMapper(logger *zap.Logger) *ErrorMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorMapper{logger: logger}
}

// MapError maps err without request context.
func (m *ErrorMapper) MapError(err error) (int, interface{}) {
	return m.MapRequestError(nil, err)
}

// MapRequestError maps err and stamps the body with the request ID.
func (m *ErrorMapper) MapRequestError(r *http.Request, err error) (int, interface{}) {
	status, code, message := classify(err)

	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.Error(err), zap.String("code", code)}
		if r != nil {
			fields = append(fields,
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("request_id", observability.RequestIDFromContext(r.Context())),
			)
		}
		m.logger.Error("request failed", fields...)
	}

	return status, newErrorBody(r, status, code, message)
}

func classify(err error) (status int, code, message string) {
	var qerr *query.Error
	if errors.As(err, &qerr) {
		ks, ok := kindStatuses[qerr.Kind]
		if !ok {
			return http.StatusInternalServerError, "INTERNAL_ERROR", internalMessage
		}
		if ks.status >= http.StatusInternalServerError {
			msg := internalMessage
			if qerr.Kind == query.KindTimeout {
				msg = "The request took too long to process."
			}
			return ks.status, ks.code, msg
		}
		return ks.status, ks.code, qerr.Error()
	}

	var unknown *typedhttp.UnknownParameterError
	if errors.As(err, &unknown) {
		e := query.NewError(query.KindInvalidParameter, "Invalid parameter '%s'.", unknown.Name)
		return http.StatusNotFound, kindStatuses[query.KindInvalidParameter].code, e.Error()
	}

	var duplicate *typedhttp.DuplicateParameterError
	if errors.As(err, &duplicate) {
		return http.StatusPreconditionFailed, kindStatuses[query.KindMalformedQuery].code,
			"Malformed query: parameter '" + duplicate.Name + "' is given more than once."
	}

	var encoding *typedhttp.QueryEncodingError
	if errors.As(err, &encoding) {
		return http.StatusBadRequest, "MALFORMED_QUERY_STRING", "The query string is not correctly URL encoded."
	}

	var field *typedhttp.FieldError
	if errors.As(err, &field) {
		if field.Name == "page" {
			return http.StatusBadRequest, "INVALID_PAGE", "Invalid page '" + field.Value + "': pages are integers starting at 1."
		}
		return http.StatusBadRequest, "INVALID_PARAMETER_VALUE", field.Error()
	}

	var validation *typedhttp.ValidationError
	if errors.As(err, &validation) {
		return classifyValidation(validation)
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR", internalMessage
}

func classifyValidation(v *typedhttp.ValidationError) (int, string, string) {
	if _, ok := v.Fields["page"]; ok {
		return http.StatusBadRequest, "INVALID_PAGE", "Invalid page: pages start at 1."
	}

	var missing, invalid []string
	for name, tag := range v.Fields {
		if tag == "required" {
			missing = append(missing, name)
		} else {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) == 0 && len(missing) > 0 {
		return http.StatusBadRequest, "MISSING_PARAMETER",
			"Missing required parameter(s): " + strings.Join(sorted(missing), ", ") + "."
	}
	return http.StatusBadRequest, "INVALID_PARAMETER_VALUE",
		"Invalid value for parameter(s): " + strings.Join(sorted(append(invalid, missing...)), ", ") + "."
}

func sorted(s []string) []string {
	slices.Sort(s)
	return s
}

func newErrorBody(r *http.Request, status int, code, message string) ErrorBody {
	body := ErrorBody{
		Response:   message,
		StatusCode: status,
		Status:     http.StatusText(status),
		Code:       code,
	}
	if r != nil {
		body.RequestID = observability.RequestIDFromContext(r.Context())
	}
	return body
}

// WriteError writes an error body for failures raised by middleware
// (authentication, throttling, panics) in the same shape as handler errors.
func WriteError(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := "INTERNAL_ERROR"
	message := internalMessage
	switch status {
	case http.StatusUnauthorized:
		code = kindStatuses[query.KindUnauthorised].code
		message = "Unauthorised request."
		if err != nil {
			message = "Unauthorised request: " + err.Error() + "."
		}
	case http.StatusTooManyRequests:
		code = "TOO_MANY_REQUESTS"
		message = "Too many requests. Please try again later."
	}

	encoder := typedhttp.NewJSONEncoder[ErrorBody]()
	_ = encoder.Encode(w, newErrorBody(r, status, code, message), status)
}
