package typedhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error variables for static error handling.
var (
	ErrInvalidIntegerValue  = errors.New("invalid integer value")
	ErrInvalidUintegerValue = errors.New("invalid unsigned integer value")
	ErrInvalidFloatValue    = errors.New("invalid float value")
	ErrInvalidBooleanValue  = errors.New("invalid boolean value")
	ErrUnsupportedFieldType = errors.New("unsupported field type")
)

type fieldSource uint8

const (
	fromQuery fieldSource = iota + 1
	fromHeader
	fromURL
)

// fieldBinding maps one struct field to the request value it is read from.
type fieldBinding struct {
	index  int
	source fieldSource
	name   string
	def    string
}

// bindFields resolves the tagged fields of t once, at decoder construction.
func bindFields(t reflect.Type, sources ...fieldSource) []fieldBinding {
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	wanted := make(map[fieldSource]bool, len(sources))
	for _, s := range sources {
		wanted[s] = true
	}

	var out []fieldBinding
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		b := fieldBinding{index: i, def: field.Tag.Get("default")}
		switch {
		case field.Tag.Get("query") != "":
			b.source, b.name = fromQuery, field.Tag.Get("query")
		case field.Tag.Get("header") != "":
			b.source, b.name = fromHeader, field.Tag.Get("header")
		case field.Tag.Get("url") != "":
			b.source, b.name = fromURL, field.Tag.Get("url")
		default:
			continue
		}
		if b.name == "-" || !wanted[b.source] {
			continue
		}
		out = append(out, b)
	}
	return out
}

type queryPair struct {
	key, value string
}

// parseQuery splits a raw query string on '&' only. Unlike url.ParseQuery
// it keeps ';' inside values, where filter expressions use it.
func parseQuery(raw string) ([]queryPair, error) {
	var pairs []queryPair
	for raw != "" {
		var part string
		part, raw, _ = strings.Cut(raw, "&")
		if part == "" {
			continue
		}

		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, &QueryEncodingError{Err: err}
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, &QueryEncodingError{Err: err}
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}
	return pairs, nil
}

func urlValue(r *http.Request, part string) string {
	switch part {
	case "path":
		return r.URL.Path
	case "query":
		return r.URL.RawQuery
	case "uri":
		return r.URL.RequestURI()
	}
	return ""
}

// DecoderOption configures the query-reading decoders.
type DecoderOption func(*decoderConfig)

type decoderConfig struct {
	strict bool
}

// WithStrictQuery rejects query parameters the request type does not
// declare, and parameters given more than once.
func WithStrictQuery() DecoderOption {
	return func(c *decoderConfig) {
		c.strict = true
	}
}

// fieldDecoder is the reflective core shared by the decoders below.
type fieldDecoder struct {
	validator *validator.Validate
	bindings  []fieldBinding
	strict    bool
}

func newFieldDecoder[T any](v *validator.Validate, opts []DecoderOption, sources ...fieldSource) fieldDecoder {
	cfg := decoderConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	var zero T
	return fieldDecoder{
		validator: v,
		bindings:  bindFields(reflect.TypeOf(zero), sources...),
		strict:    cfg.strict,
	}
}

func (d fieldDecoder) decode(r *http.Request, target interface{}) error {
	dst := reflect.ValueOf(target).Elem()
	if dst.Kind() != reflect.Struct {
		return nil
	}

	query, err := d.queryValues(r)
	if err != nil {
		return err
	}

	for _, b := range d.bindings {
		var raw string
		switch b.source {
		case fromQuery:
			raw = query[b.name]
		case fromHeader:
			raw = r.Header.Get(b.name)
		case fromURL:
			raw = urlValue(r, b.name)
		}

		if raw == "" {
			if b.def == "" {
				continue
			}
			raw = b.def
		}

		if err := setFieldValue(dst.Field(b.index), raw); err != nil {
			return &FieldError{Name: b.name, Value: raw, Err: err}
		}
	}

	return validateStruct(d.validator, target)
}

// queryValues returns the first value of every query parameter.
func (d fieldDecoder) queryValues(r *http.Request) (map[string]string, error) {
	pairs, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	var known map[string]bool
	if d.strict {
		known = make(map[string]bool)
		for _, b := range d.bindings {
			if b.source == fromQuery {
				known[b.name] = true
			}
		}
	}

	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		_, seen := values[p.key]
		if d.strict {
			if !known[p.key] {
				return nil, &UnknownParameterError{Name: p.key}
			}
			if seen {
				return nil, &DuplicateParameterError{Name: p.key}
			}
		}
		if !seen {
			values[p.key] = p.value
		}
	}
	return values, nil
}

func validateStruct(v *validator.Validate, target interface{}) error {
	if v == nil {
		return nil
	}
	if err := v.Struct(target); err != nil {
		var validatorErrs validator.ValidationErrors
		if !errors.As(err, &validatorErrs) {
			return nil
		}
		fields := make(map[string]string, len(validatorErrs))
		for _, fe := range validatorErrs {
			fields[fe.Field()] = fe.Tag()
		}
		return NewValidationError("Validation failed", fields)
	}
	return nil
}

// QueryDecoder implements RequestDecoder for URL query parameters.
type QueryDecoder[T any] struct {
	fields fieldDecoder
}

// NewQueryDecoder creates a new query parameter decoder.
func NewQueryDecoder[T any](v *validator.Validate, opts ...DecoderOption) *QueryDecoder[T] {
	return &QueryDecoder[T]{fields: newFieldDecoder[T](v, opts, fromQuery)}
}

// Decode decodes query parameters into the target type.
func (d *QueryDecoder[T]) Decode(r *http.Request) (T, error) {
	var result T
	err := d.fields.decode(r, &result)
	return result, err
}

// ContentTypes returns the supported content types for query decoding.
func (d *QueryDecoder[T]) ContentTypes() []string {
	return []string{"application/x-www-form-urlencoded"}
}

// HeaderDecoder implements RequestDecoder for request headers.
type HeaderDecoder[T any] struct {
	fields fieldDecoder
}

// NewHeaderDecoder creates a new header decoder.
func NewHeaderDecoder[T any](v *validator.Validate) *HeaderDecoder[T] {
	return &HeaderDecoder[T]{fields: newFieldDecoder[T](v, nil, fromHeader)}
}

// Decode decodes headers into the target type.
func (d *HeaderDecoder[T]) Decode(r *http.Request) (T, error) {
	var result T
	err := d.fields.decode(r, &result)
	return result, err
}

// ContentTypes returns nil: headers carry no body.
func (d *HeaderDecoder[T]) ContentTypes() []string {
	return nil
}

// CombinedDecoder reads query, header and url tags in one pass. A url tag
// names a part of the request URL: "path", "query" (raw) or "uri".
type CombinedDecoder[T any] struct {
	fields fieldDecoder
}

// NewCombinedDecoder creates a decoder for requests with mixed sources.
func NewCombinedDecoder[T any](v *validator.Validate, opts ...DecoderOption) *CombinedDecoder[T] {
	return &CombinedDecoder[T]{fields: newFieldDecoder[T](v, opts, fromQuery, fromHeader, fromURL)}
}

// Decode decodes every tagged field and validates the result once.
func (d *CombinedDecoder[T]) Decode(r *http.Request) (T, error) {
	var result T
	err := d.fields.decode(r, &result)
	return result, err
}

// ContentTypes returns the supported content types.
func (d *CombinedDecoder[T]) ContentTypes() []string {
	return []string{"application/x-www-form-urlencoded"}
}

// NewRequestDecoder returns the narrowest decoder for T's tags, validated
// by the shared validator.
func NewRequestDecoder[T any](opts ...DecoderOption) RequestDecoder[T] {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Struct {
		queryOnly := true
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).Tag.Get("header") != "" || t.Field(i).Tag.Get("url") != "" {
				queryOnly = false
				break
			}
		}
		if queryOnly {
			return NewQueryDecoder[T](getGlobalValidator(), opts...)
		}
	}
	return NewCombinedDecoder[T](getGlobalValidator(), opts...)
}

// setFieldValue sets a reflect.Value based on a string value. Pointer
// fields are allocated, so a nil pointer means the value was absent.
func setFieldValue(fieldValue reflect.Value, value string) error {
	switch fieldValue.Kind() {
	case reflect.String:
		fieldValue.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidIntegerValue, value)
		}
		fieldValue.SetInt(intValue)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintValue, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidUintegerValue, value)
		}
		fieldValue.SetUint(uintValue)
	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFloatValue, value)
		}
		fieldValue.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidBooleanValue, value)
		}
		fieldValue.SetBool(boolValue)
	case reflect.Ptr:
		elem := reflect.New(fieldValue.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		fieldValue.Set(elem)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFieldType, fieldValue.Kind())
	}

	return nil
}

// JSONEncoder implements ResponseEncoder for JSON content.
type JSONEncoder[T any] struct {
	contentType string
}

// NewJSONEncoder creates a new JSON encoder.
func NewJSONEncoder[T any]() *JSONEncoder[T] {
	return &JSONEncoder[T]{contentType: "application/json"}
}

// NewJSONEncoderWithContentType creates a JSON encoder for a vendor media type.
func NewJSONEncoderWithContentType[T any](contentType string) *JSONEncoder[T] {
	return &JSONEncoder[T]{contentType: contentType}
}

// Encode encodes the response data as JSON and writes it to the response writer.
func (e *JSONEncoder[T]) Encode(w http.ResponseWriter, data T, statusCode int) error {
	w.Header().Set("Content-Type", e.contentType)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// ContentType returns the content type for JSON encoding.
func (e *JSONEncoder[T]) ContentType() string {
	return e.contentType
}

// TextEncoder writes string responses as text/plain.
type TextEncoder[T ~string] struct{}

// NewTextEncoder creates a new text encoder.
func NewTextEncoder[T ~string]() *TextEncoder[T] {
	return &TextEncoder[T]{}
}

// Encode writes data verbatim.
func (e *TextEncoder[T]) Encode(w http.ResponseWriter, data T, statusCode int) error {
	w.Header().Set("Content-Type", e.ContentType())
	w.WriteHeader(statusCode)

	if _, err := io.WriteString(w, string(data)); err != nil {
		return fmt.Errorf("failed to write text response: %w", err)
	}
	return nil
}

// ContentType returns the content type for text encoding.
func (e *TextEncoder[T]) ContentType() string {
	return "text/plain; charset=utf-8"
}

// RawResponse is a pre-rendered response. Handlers that negotiate the
// body format or answer with 204/304 return it with RawEncoder.
type RawResponse struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

// StatusCode implements StatusCoder.
func (r *RawResponse) StatusCode() int {
	if r == nil {
		return 0
	}
	return r.Status
}

// RawEncoder writes a RawResponse as is.
type RawEncoder struct{}

// NewRawEncoder creates a new raw encoder.
func NewRawEncoder() *RawEncoder {
	return &RawEncoder{}
}

// Encode copies the headers and body of data.
func (e *RawEncoder) Encode(w http.ResponseWriter, data *RawResponse, statusCode int) error {
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	for key, values := range data.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	bodyless := statusCode == http.StatusNoContent || statusCode == http.StatusNotModified
	if data.ContentType != "" && !bodyless {
		w.Header().Set("Content-Type", data.ContentType)
	}
	w.WriteHeader(statusCode)

	if bodyless || len(data.Body) == 0 {
		return nil
	}
	if _, err := w.Write(data.Body); err != nil {
		return fmt.Errorf("failed to write response body: %w", err)
	}
	return nil
}

// ContentType is empty: each RawResponse carries its own.
func (e *RawEncoder) ContentType() string {
	return ""
}
