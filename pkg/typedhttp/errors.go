package typedhttp

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError represents a request validation error.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, fields map[string]string) *ValidationError {
	return &ValidationError{
		Message: message,
		Fields:  fields,
	}
}

// FieldError reports a parameter whose value cannot be converted to the
// type of its field.
type FieldError struct {
	Name  string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid value %q for parameter %q: %v", e.Value, e.Name, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// UnknownParameterError reports a query parameter the request type does
// not declare. Only strict decoders return it.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("unknown query parameter %q", e.Name)
}

// DuplicateParameterError reports a query parameter given more than once.
// Only strict decoders return it.
type DuplicateParameterError struct {
	Name string
}

func (e *DuplicateParameterError) Error() string {
	return fmt.Sprintf("query parameter %q is given more than once", e.Name)
}

// QueryEncodingError reports a query string that is not valid URL encoding.
type QueryEncodingError struct {
	Err error
}

func (e *QueryEncodingError) Error() string {
	return fmt.Sprintf("malformed query string: %v", e.Err)
}

func (e *QueryEncodingError) Unwrap() error { return e.Err }

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Code      string      `json:"code,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// DefaultErrorMapper provides a default implementation of ErrorMapper.
type DefaultErrorMapper struct{}

// MapError maps application errors to HTTP status codes and responses.
func (m *DefaultErrorMapper) MapError(err error) (int, interface{}) {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "VALIDATION_ERROR",
			Details: valErr.Fields,
		}
	}

	var fieldErr *FieldError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error: fieldErr.Error(),
			Code:  "INVALID_PARAMETER_VALUE",
		}
	}

	var encErr *QueryEncodingError
	if errors.As(err, &encErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error: encErr.Error(),
			Code:  "MALFORMED_QUERY_STRING",
		}
	}

	var unknownErr *UnknownParameterError
	if errors.As(err, &unknownErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error: unknownErr.Error(),
			Code:  "UNKNOWN_PARAMETER",
		}
	}

	var dupErr *DuplicateParameterError
	if errors.As(err, &dupErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error: dupErr.Error(),
			Code:  "DUPLICATE_PARAMETER",
		}
	}

	// Internal errors are not exposed.
	return http.StatusInternalServerError, ErrorResponse{
		Error: "Internal server error",
		Code:  "INTERNAL_ERROR",
	}
}
