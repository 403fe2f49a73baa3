package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pavelpascari/covidapi/internal/dataset"
)

// structureSchema bounds the accepted shapes: an object mapping output
// names to source names (optionally one level of grouping), or an array of
// source names.
const structureSchema = `{
  "definitions": {
    "outputName": {"type": "string", "minLength": 1, "maxLength": 75},
    "sourceName": {"type": "string", "minLength": 1, "maxLength": 75},
    "group": {
      "type": "object",
      "minProperties": 1,
      "propertyNames": {"$ref": "#/definitions/outputName"},
      "additionalProperties": {"$ref": "#/definitions/sourceName"}
    }
  },
  "oneOf": [
    {
      "type": "object",
      "minProperties": 1,
      "propertyNames": {"$ref": "#/definitions/outputName"},
      "additionalProperties": {
        "oneOf": [
          {"$ref": "#/definitions/sourceName"},
          {"$ref": "#/definitions/group"}
        ]
      }
    },
    {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/sourceName"}
    }
  ]
}`

var (
	compiledSchema    *gojsonschema.Schema
	compiledSchemaErr error
	compileSchemaOnce sync.Once
)

func structureValidator() (*gojsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(structureSchema))
	})
	return compiledSchema, compiledSchemaErr
}

// defaultStructure is served when the request carries no structure.
var defaultStructure = []string{
	dataset.FieldAreaType,
	dataset.FieldAreaCode,
	dataset.FieldAreaName,
	dataset.FieldDate,
	"newCasesByPublishDate",
	"cumCasesByPublishDate",
	"newDeaths28DaysByPublishDate",
	"cumDeaths28DaysByPublishDate",
}

// StructureField is one output key. Leaves carry a Source field name,
// groups carry Children.
type StructureField struct {
	Name     string
	Source   string
	Children []StructureField
}

// IsGroup reports whether the field nests other fields.
func (f StructureField) IsGroup() bool { return f.Children != nil }

// Structure is the ordered projection applied to every result record.
type Structure struct {
	Fields []StructureField
}

// DefaultStructure returns the projection used when none is requested.
func DefaultStructure() Structure {
	s := Structure{Fields: make([]StructureField, len(defaultStructure))}
	for i, name := range defaultStructure {
		s.Fields[i] = StructureField{Name: name, Source: name}
	}
	return s
}

// Keys returns the top-level output keys in declaration order.
func (s Structure) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Name
	}
	return keys
}

// Flat reports whether the structure declares no groups.
func (s Structure) Flat() bool {
	for _, f := range s.Fields {
		if f.IsGroup() {
			return false
		}
	}
	return true
}

// Project builds the output row for a record. Every declared key is
// present; metrics the record lacks are null.
func (s Structure) Project(r *dataset.Record) Row {
	return project(s.Fields, r)
}

func project(fields []StructureField, r *dataset.Record) Row {
	row := make(Row, len(fields))
	for i, f := range fields {
		if f.IsGroup() {
			row[i] = Cell{Key: f.Name, Group: project(f.Children, r)}
			continue
		}
		row[i] = Cell{Key: f.Name, Value: r.Field(f.Source)}
	}
	return row
}

// MarshalJSON echoes the resolved structure with canonical source names,
// keeping declaration order.
func (s Structure) MarshalJSON() ([]byte, error) {
	return marshalFields(s.Fields)
}

func marshalFields(fields []StructureField) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if f.IsGroup() {
			val, err = marshalFields(f.Children)
		} else {
			val, err = json.Marshal(f.Source)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// member is one key of a decoded JSON object, in source order.
type member struct {
	key   string
	value interface{}
}

// ParseStructure parses the structure parameter. An empty string yields
// the default structure.
func ParseStructure(raw string, schema *dataset.Schema, cfg Config) (Structure, error) {
	cfg = cfg.withDefaults()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultStructure(), nil
	}

	tree, err := decodeOrdered(raw)
	if err != nil {
		return Structure{}, &Error{
			Kind:    KindMalformedStructure,
			Message: "Invalid JSON in the structure parameter.",
			Err:     err,
		}
	}

	if err := checkDepth(tree); err != nil {
		return Structure{}, err
	}

	if err := validateShape(raw); err != nil {
		return Structure{}, err
	}

	var fields []StructureField
	switch t := tree.(type) {
	case []member:
		fields, err = resolveMembers(t, schema)
	case []interface{}:
		fields, err = resolveNames(t, schema)
	}
	if err != nil {
		return Structure{}, err
	}

	if n := countMetrics(fields); n > cfg.MaxStructureFields {
		return Structure{}, newError(KindStructureTooLarge,
			"The structure may contain at most %d metrics; got %d.", cfg.MaxStructureFields, n)
	}

	return Structure{Fields: fields}, nil
}

func decodeOrdered(raw string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := []member{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v is not a string", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, member{key: key, value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []interface{}{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func isContainer(v interface{}) bool {
	switch v.(type) {
	case []member, []interface{}:
		return true
	}
	return false
}

// checkDepth allows a top-level object with one level of grouping, or a
// top-level array of names.
func checkDepth(tree interface{}) error {
	tooComplex := func() error {
		return newError(KindStructureTooComplex, "The structure may nest at most one level.")
	}

	switch t := tree.(type) {
	case []member:
		for _, m := range t {
			switch inner := m.value.(type) {
			case []member:
				for _, c := range inner {
					if isContainer(c.value) {
						return tooComplex()
					}
				}
			case []interface{}:
				return tooComplex()
			}
		}
	case []interface{}:
		for _, v := range t {
			if isContainer(v) {
				return tooComplex()
			}
		}
	}
	return nil
}

func validateShape(raw string) error {
	validator, err := structureValidator()
	if err != nil {
		return fmt.Errorf("compile structure schema: %w", err)
	}

	result, err := validator.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return &Error{Kind: KindMalformedStructure, Message: "Invalid structure.", Err: err}
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return newError(KindMalformedStructure,
		"Invalid structure: %s.", strings.Join(details, "; "))
}

func resolveMembers(members []member, schema *dataset.Schema) ([]StructureField, error) {
	fields := make([]StructureField, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.key]; dup {
			return nil, newError(KindMalformedStructure,
				"Duplicate output key '%s' in the structure.", m.key)
		}
		seen[m.key] = struct{}{}

		if group, ok := m.value.([]member); ok {
			children, err := resolveMembers(group, schema)
			if err != nil {
				return nil, err
			}
			fields = append(fields, StructureField{Name: m.key, Children: children})
			continue
		}

		source, _ := m.value.(string)
		field, err := resolveSource(source, schema)
		if err != nil {
			return nil, err
		}
		fields = append(fields, StructureField{Name: m.key, Source: field.Name})
	}
	return fields, nil
}

func resolveNames(names []interface{}, schema *dataset.Schema) ([]StructureField, error) {
	fields := make([]StructureField, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, v := range names {
		source, _ := v.(string)
		field, err := resolveSource(source, schema)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[field.Name]; dup {
			return nil, newError(KindMalformedStructure,
				"Duplicate output key '%s' in the structure.", field.Name)
		}
		seen[field.Name] = struct{}{}
		fields = append(fields, StructureField{Name: field.Name, Source: field.Name})
	}
	return fields, nil
}

func resolveSource(source string, schema *dataset.Schema) (dataset.Field, error) {
	field, ok := schema.Lookup(source)
	if !ok {
		e := newError(KindUnknownStructureField, "Invalid field '%s' in the structure.", source)
		e.Suggestion = closestMatch(source, schema.Names())
		return dataset.Field{}, e
	}
	return field, nil
}

// countMetrics counts projected metric leaves; identity fields are free.
func countMetrics(fields []StructureField) int {
	n := 0
	for _, f := range fields {
		if f.IsGroup() {
			n += countMetrics(f.Children)
			continue
		}
		switch f.Source {
		case dataset.FieldAreaType, dataset.FieldAreaCode, dataset.FieldAreaName, dataset.FieldDate:
		default:
			n++
		}
	}
	return n
}
