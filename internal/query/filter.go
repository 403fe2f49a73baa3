package query

import (
	"errors"
	"strings"

	"github.com/pavelpascari/covidapi/internal/dataset"
)

const (
	termSeparator        = ";"
	alternativeSeparator = "|"
)

// Operator is the comparison a filter term applies.
type Operator string

// OpEqual is the only operator of the filter grammar.
const OpEqual Operator = "="

// Term is one conjunctive clause: the field must equal one of Values.
type Term struct {
	Field    dataset.Field
	Operator Operator
	Values   []dataset.Value
	// Raw holds the normalized text of each value, in the same order.
	Raw []string
}

// Matches reports whether the record satisfies the term.
func (t Term) Matches(r *dataset.Record) bool {
	got := r.Field(t.Field.Name)
	if t.Field.Name == dataset.FieldAreaName {
		name, _ := got.Str()
		for _, raw := range t.Raw {
			if strings.EqualFold(name, raw) {
				return true
			}
		}
		return false
	}
	for _, want := range t.Values {
		if got.Equal(want) {
			return true
		}
	}
	return false
}

func (t Term) String() string {
	return t.Field.Name + string(t.Operator) + strings.Join(t.Raw, alternativeSeparator)
}

// FilterEcho is the client-facing form of a term in requestPayload.
type FilterEcho struct {
	Identifier string `json:"identifier" xml:"identifier"`
	Operator   string `json:"operator" xml:"operator"`
	Value      string `json:"value" xml:"value"`
}

// Expression is a conjunction of terms. The zero value matches everything.
type Expression struct {
	Terms []Term
}

// Matches reports whether every term matches, stopping at the first miss.
func (e Expression) Matches(r *dataset.Record) bool {
	for i := range e.Terms {
		if !e.Terms[i].Matches(r) {
			return false
		}
	}
	return true
}

// String renders the canonical filter string; parsing it again yields an
// equivalent expression.
func (e Expression) String() string {
	parts := make([]string, len(e.Terms))
	for i, t := range e.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, termSeparator)
}

// Echo renders the terms for requestPayload.filters.
func (e Expression) Echo() []FilterEcho {
	out := make([]FilterEcho, len(e.Terms))
	for i, t := range e.Terms {
		out[i] = FilterEcho{
			Identifier: t.Field.Name,
			Operator:   string(t.Operator),
			Value:      strings.Join(t.Raw, alternativeSeparator),
		}
	}
	return out
}

// ParseFilters parses "field=v1|v2;field=v" into an expression. Field
// names are resolved case-insensitively against schema and values are
// decoded to the field's type. An empty string yields an empty expression.
func ParseFilters(raw string, schema *dataset.Schema, cfg Config) (Expression, error) {
	cfg = cfg.withDefaults()

	var expr Expression
	count := 0
	for _, part := range strings.Split(raw, termSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		term, err := parseTerm(part, schema)
		if err != nil {
			return Expression{}, err
		}

		count += len(term.Values)
		if count > cfg.MaxFilterValues {
			return Expression{}, newError(KindTooManyFilters,
				"Filters may contain at most %d values in total.", cfg.MaxFilterValues)
		}
		expr.Terms = append(expr.Terms, term)
	}

	return expr, nil
}

func parseTerm(part string, schema *dataset.Schema) (Term, error) {
	idx := strings.Index(part, string(OpEqual))
	if idx < 0 {
		return Term{}, newError(KindInvalidFilterField,
			"Invalid filter term '%s': expected the form 'field=value'.", part)
	}

	name := strings.TrimSpace(part[:idx])
	if name == "" {
		return Term{}, newError(KindInvalidFilterField,
			"Invalid filter term '%s': the field name is empty.", part)
	}

	field, ok := schema.Lookup(name)
	if !ok {
		e := newError(KindInvalidFilterField, "Invalid filter parameter '%s'.", name)
		e.Suggestion = closestMatch(name, schema.Names())
		return Term{}, e
	}
	if field.Type == dataset.TypeList {
		return Term{}, newError(KindInvalidFilterField,
			"The field '%s' cannot be used as a filter.", field.Name)
	}

	term := Term{Field: field, Operator: OpEqual}
	seen := make(map[string]struct{})
	for _, alt := range strings.Split(part[idx+1:], alternativeSeparator) {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return Term{}, newError(KindMalformedFilterValue,
				"Empty value for filter parameter '%s'.", field.Name)
		}

		value, text, err := normalizeValue(field, alt)
		if err != nil {
			return Term{}, err
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		term.Values = append(term.Values, value)
		term.Raw = append(term.Raw, text)
	}

	return term, nil
}

func normalizeValue(field dataset.Field, raw string) (dataset.Value, string, error) {
	switch field.Name {
	case dataset.FieldAreaType:
		areaType, ok := dataset.CanonicalAreaType(raw)
		if !ok {
			e := newError(KindMalformedFilterValue, "Invalid value '%s' for 'areaType'.", raw)
			e.Suggestion = closestMatch(raw, dataset.AreaTypes())
			return dataset.Value{}, "", e
		}
		return dataset.StringValue(areaType), areaType, nil
	case dataset.FieldAreaCode:
		code := strings.ToUpper(raw)
		return dataset.StringValue(code), code, nil
	case dataset.FieldAreaName:
		name := strings.ToLower(raw)
		return dataset.StringValue(name), name, nil
	}

	value, err := field.Type.Parse(raw)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFilterable) {
			return dataset.Value{}, "", newError(KindInvalidFilterField,
				"The field '%s' cannot be used as a filter.", field.Name)
		}
		return dataset.Value{}, "", &Error{
			Kind:    KindMalformedFilterValue,
			Message: "Invalid value '" + raw + "' for '" + field.Name + "': expected " + field.Type.String() + ".",
			Err:     err,
		}
	}
	return value, value.String(), nil
}

// CheckRestricted fails with UnauthorisedRequest when any filter value is
// on the restricted list for its field. Field names and values compare
// case-insensitively.
func CheckRestricted(expr Expression, restricted map[string][]string) error {
	if len(restricted) == 0 {
		return nil
	}
	for _, t := range expr.Terms {
		for field, values := range restricted {
			if !strings.EqualFold(field, t.Field.Name) {
				continue
			}
			for _, blocked := range values {
				for _, raw := range t.Raw {
					if strings.EqualFold(blocked, raw) {
						return newError(KindUnauthorised,
							"Access to %s=%s requires authorisation.", t.Field.Name, raw)
					}
				}
			}
		}
	}
	return nil
}
