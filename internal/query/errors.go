package query

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. The HTTP layer maps each kind to a status.
type Kind uint8

const (
	KindInvalidFilterField Kind = iota + 1
	KindMalformedFilterValue
	KindTooManyFilters
	KindMalformedStructure
	KindStructureTooComplex
	KindStructureTooLarge
	KindUnknownStructureField
	KindInvalidParameter
	KindMalformedQuery
	KindInvalidPage
	KindInvalidFormat
	KindInvalidCategory
	KindUnauthorised
	KindTimeout
	KindDatasetUnavailable
)

var kindNames = map[Kind]string{
	KindInvalidFilterField:    "InvalidFilterField",
	KindMalformedFilterValue:  "MalformedFilterValue",
	KindTooManyFilters:        "TooManyFilters",
	KindMalformedStructure:    "MalformedStructure",
	KindStructureTooComplex:   "StructureTooComplex",
	KindStructureTooLarge:     "StructureTooLarge",
	KindUnknownStructureField: "UnknownStructureField",
	KindInvalidParameter:      "InvalidParameter",
	KindMalformedQuery:        "MalformedQuery",
	KindInvalidPage:           "InvalidPage",
	KindInvalidFormat:         "InvalidFormat",
	KindInvalidCategory:       "InvalidCategory",
	KindUnauthorised:          "UnauthorisedRequest",
	KindTimeout:               "Timeout",
	KindDatasetUnavailable:    "DatasetUnavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error is a classified engine failure.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" Did you mean '%s'?", e.Suggestion)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the Err* sentinels below
// work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidFilterField    = &Error{Kind: KindInvalidFilterField}
	ErrMalformedFilterValue  = &Error{Kind: KindMalformedFilterValue}
	ErrTooManyFilters        = &Error{Kind: KindTooManyFilters}
	ErrMalformedStructure    = &Error{Kind: KindMalformedStructure}
	ErrStructureTooComplex   = &Error{Kind: KindStructureTooComplex}
	ErrStructureTooLarge     = &Error{Kind: KindStructureTooLarge}
	ErrUnknownStructureField = &Error{Kind: KindUnknownStructureField}
	ErrInvalidParameter      = &Error{Kind: KindInvalidParameter}
	ErrMalformedQuery        = &Error{Kind: KindMalformedQuery}
	ErrInvalidPage           = &Error{Kind: KindInvalidPage}
	ErrInvalidFormat         = &Error{Kind: KindInvalidFormat}
	ErrInvalidCategory       = &Error{Kind: KindInvalidCategory}
	ErrUnauthorised          = &Error{Kind: KindUnauthorised}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrDatasetUnavailable    = &Error{Kind: KindDatasetUnavailable}
)

// ErrPageOutOfRange marks a valid query whose requested page holds no records.
var ErrPageOutOfRange = errors.New("page out of range")

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewError builds a classified error for callers outside the engine, such as
// request decoding in the HTTP layer.
func NewError(kind Kind, format string, args ...any) *Error {
	return newError(kind, format, args...)
}
